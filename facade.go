package marketplace

import (
	"fmt"

	marketplacecommand "github.com/goliatone/go-marketplace/command"
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/notifications"
	"github.com/goliatone/go-marketplace/transport"
	"github.com/goliatone/go-marketplace/webhooks"
)

// Commands groups the command handlers the facade wires from the runtime.
type Commands struct {
	ProcessNotification *marketplacecommand.ProcessNotificationCommand
	PollTenant          *marketplacecommand.PollTenantCommand
	PollAllTenants      *marketplacecommand.PollAllTenantsCommand
	ReleaseStale        *marketplacecommand.ReleaseStaleCommand
}

// Facade assembles the request executor, the notification processor, the
// poller, and the webhook ingress from a single runtime so callers get a
// consistent pipeline without wiring each collaborator by hand.
type Facade struct {
	runtime   *core.Runtime
	executor  *transport.Executor
	orders    *transport.OrderClient
	events    *transport.EventClient
	processor *notifications.Processor
	poller    *notifications.Poller
	ingress   *webhooks.Ingress
	commands  Commands
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	retryPolicy core.RetryPolicy
	fetcher     notifications.ResourceFetcher
	events      notifications.EventLister
}

// WithRetryPolicy overrides the executor's exponential retry defaults.
func WithRetryPolicy(policy core.RetryPolicy) FacadeOption {
	return func(options *facadeOptions) {
		options.retryPolicy = policy
	}
}

// WithResourceFetcher substitutes the fetcher used during notification
// processing. Defaults to the order client backed by the shared executor.
func WithResourceFetcher(fetcher notifications.ResourceFetcher) FacadeOption {
	return func(options *facadeOptions) {
		options.fetcher = fetcher
	}
}

// WithEventLister substitutes the lister the poller reads events from.
// Defaults to the event client backed by the shared executor.
func WithEventLister(lister notifications.EventLister) FacadeOption {
	return func(options *facadeOptions) {
		options.events = lister
	}
}

func NewFacade(runtime *core.Runtime, opts ...FacadeOption) (*Facade, error) {
	if runtime == nil {
		return nil, fmt.Errorf("marketplace: runtime is required")
	}
	if runtime.NotificationStore() == nil {
		return nil, fmt.Errorf("marketplace: runtime notification store is required")
	}
	if runtime.Ingestion() == nil {
		return nil, fmt.Errorf("marketplace: runtime business ingestion is required")
	}

	options := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&options)
	}

	cfg := runtime.Config()

	executor := transport.NewExecutor(runtime.Transport(), runtime.CredentialProvider(), cfg.ProviderID)
	executor.RateLimit = runtime.RateLimitPolicy()
	executor.Runtime = runtime
	if options.retryPolicy != nil {
		executor.Retry = options.retryPolicy
	}

	orders := transport.NewOrderClient(executor)
	events := transport.NewEventClient(executor)

	fetcher := options.fetcher
	if fetcher == nil {
		fetcher = orders
	}
	lister := options.events
	if lister == nil {
		lister = events
	}

	processor := notifications.NewProcessor(
		runtime.NotificationStore(),
		fetcher,
		runtime.Ingestion(),
		runtime.Scheduler(),
	)
	processor.Runtime = runtime
	if cfg.Processing.MaxAttempts > 0 {
		processor.MaxAttempts = cfg.Processing.MaxAttempts
	}
	if cfg.Processing.RetryBaseDelay > 0 {
		processor.RetryBaseDelay = cfg.Processing.RetryBaseDelay
	}

	poller := notifications.NewPoller(
		runtime.TenantResolver(),
		lister,
		runtime.NotificationStore(),
		processor,
	)
	poller.Runtime = runtime
	if cfg.Processing.StalenessWindow > 0 {
		poller.StalenessWindow = cfg.Processing.StalenessWindow
	}

	ingress := webhooks.NewIngress(
		runtime.TenantResolver(),
		runtime.NotificationStore(),
		processor,
	)
	ingress.Runtime = runtime
	ingress.ReplayLedger = runtime.ReplayLedger()
	if cfg.Webhook.MaxPayloadBytes > 0 {
		ingress.MaxPayloadBytes = cfg.Webhook.MaxPayloadBytes
	}
	if cfg.Webhook.ReplayWindow > 0 {
		ingress.ReplayWindow = cfg.Webhook.ReplayWindow
	}

	facade := &Facade{
		runtime:   runtime,
		executor:  executor,
		orders:    orders,
		events:    events,
		processor: processor,
		poller:    poller,
		ingress:   ingress,
	}
	facade.commands = Commands{
		ProcessNotification: marketplacecommand.NewProcessNotificationCommand(processor),
		PollTenant:          marketplacecommand.NewPollTenantCommand(poller),
		PollAllTenants:      marketplacecommand.NewPollAllTenantsCommand(poller),
		ReleaseStale:        marketplacecommand.NewReleaseStaleCommand(runtime.NotificationStore()),
	}

	return facade, nil
}

func (f *Facade) Runtime() *core.Runtime {
	if f == nil {
		return nil
	}
	return f.runtime
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Executor() *transport.Executor {
	if f == nil {
		return nil
	}
	return f.executor
}

func (f *Facade) Orders() *transport.OrderClient {
	if f == nil {
		return nil
	}
	return f.orders
}

func (f *Facade) Events() *transport.EventClient {
	if f == nil {
		return nil
	}
	return f.events
}

func (f *Facade) Processor() *notifications.Processor {
	if f == nil {
		return nil
	}
	return f.processor
}

func (f *Facade) Poller() *notifications.Poller {
	if f == nil {
		return nil
	}
	return f.poller
}

func (f *Facade) Ingress() *webhooks.Ingress {
	if f == nil {
		return nil
	}
	return f.ingress
}
