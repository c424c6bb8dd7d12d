package marketplace

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/notifications"
)

type facadeIngestionStub struct {
	calls int
}

func (s *facadeIngestionStub) UpsertOrder(_ context.Context, _ string, _ map[string]any, _ []map[string]any) error {
	s.calls++
	return nil
}

type facadeTenantResolverStub struct {
	tenants []core.Tenant
}

func (s *facadeTenantResolverStub) ResolveToken(_ context.Context, token string) (core.Tenant, error) {
	for _, tenant := range s.tenants {
		if tenant.WebhookToken == token {
			return tenant, nil
		}
	}
	return core.Tenant{}, core.ErrTenantNotFound
}

func (s *facadeTenantResolverStub) ListActiveTenants(_ context.Context) ([]core.Tenant, error) {
	return append([]core.Tenant(nil), s.tenants...), nil
}

type facadeCredentialStub struct{}

func (facadeCredentialStub) GetCredentials(_ context.Context, _ string) (core.Credentials, error) {
	return core.Credentials{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		TokenValue:     "tv",
		TokenSecret:    "ts",
	}, nil
}

type facadeTransportStub struct{}

func (facadeTransportStub) Kind() string { return "stub" }

func (facadeTransportStub) Execute(_ context.Context, _ core.SignedRequest) (core.TransportResult, error) {
	return core.TransportResult{StatusCode: 200, Attempts: 1}, nil
}

type facadeFetcherStub struct{}

func (facadeFetcherStub) FetchOrder(_ context.Context, _ string, _ int64) (map[string]any, []map[string]any, error) {
	return map[string]any{"id": int64(1)}, nil, nil
}

func newFacadeRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	runtime, err := NewRuntime(
		cfg,
		WithNotificationStore(notifications.NewMemoryStore()),
		WithBusinessIngestion(&facadeIngestionStub{}),
		WithTenantResolver(&facadeTenantResolverStub{
			tenants: []core.Tenant{{ID: "tenant-1", Active: true, WebhookToken: "token-1"}},
		}),
		WithCredentialProvider(facadeCredentialStub{}),
		WithRequestTransport(facadeTransportStub{}),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return runtime
}

func TestNewFacade_RequiresRuntime(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected error for nil runtime")
	}
}

func TestNewFacade_RequiresStoreAndIngestion(t *testing.T) {
	runtime, err := NewRuntime(DefaultConfig())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if _, err := NewFacade(runtime); err == nil {
		t.Fatalf("expected error for runtime without a notification store")
	}

	runtime, err = NewRuntime(
		DefaultConfig(),
		WithNotificationStore(notifications.NewMemoryStore()),
	)
	if err != nil {
		t.Fatalf("new runtime with store: %v", err)
	}
	if _, err := NewFacade(runtime); err == nil {
		t.Fatalf("expected error for runtime without business ingestion")
	}
}

func TestNewFacade_WiresPipelineFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProviderID = "acme-market"
	cfg.Processing.MaxAttempts = 7
	cfg.Processing.RetryBaseDelay = 3 * time.Second
	cfg.Processing.StalenessWindow = 45 * time.Minute
	cfg.Webhook.MaxPayloadBytes = 2048
	cfg.Webhook.ReplayWindow = 30 * time.Minute

	facade, err := NewFacade(newFacadeRuntime(t, cfg))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	executor := facade.Executor()
	if executor == nil {
		t.Fatalf("expected executor")
	}
	if executor.ProviderID != "acme-market" {
		t.Fatalf("expected executor provider %q, got %q", "acme-market", executor.ProviderID)
	}

	processor := facade.Processor()
	if processor == nil {
		t.Fatalf("expected processor")
	}
	if processor.MaxAttempts != 7 {
		t.Fatalf("expected processor max attempts 7, got %d", processor.MaxAttempts)
	}
	if processor.RetryBaseDelay != 3*time.Second {
		t.Fatalf("expected processor retry base delay 3s, got %s", processor.RetryBaseDelay)
	}
	if processor.Fetcher != facade.Orders() {
		t.Fatalf("expected processor fetcher to default to the order client")
	}

	poller := facade.Poller()
	if poller == nil {
		t.Fatalf("expected poller")
	}
	if poller.StalenessWindow != 45*time.Minute {
		t.Fatalf("expected poller staleness window 45m, got %s", poller.StalenessWindow)
	}
	if poller.Events != facade.Events() {
		t.Fatalf("expected poller lister to default to the event client")
	}

	ingress := facade.Ingress()
	if ingress == nil {
		t.Fatalf("expected ingress")
	}
	if ingress.MaxPayloadBytes != 2048 {
		t.Fatalf("expected ingress payload cap 2048, got %d", ingress.MaxPayloadBytes)
	}
	if ingress.ReplayWindow != 30*time.Minute {
		t.Fatalf("expected ingress replay window 30m, got %s", ingress.ReplayWindow)
	}
	if ingress.ReplayLedger == nil {
		t.Fatalf("expected ingress replay ledger from runtime")
	}

	commands := facade.Commands()
	if commands.ProcessNotification == nil ||
		commands.PollTenant == nil ||
		commands.PollAllTenants == nil ||
		commands.ReleaseStale == nil {
		t.Fatalf("expected all command handlers to be wired")
	}
}

func TestNewFacade_OptionOverrides(t *testing.T) {
	fetcher := facadeFetcherStub{}
	facade, err := NewFacade(
		newFacadeRuntime(t, DefaultConfig()),
		WithResourceFetcher(fetcher),
	)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if facade.Processor().Fetcher != notifications.ResourceFetcher(fetcher) {
		t.Fatalf("expected fetcher override to reach the processor")
	}
}

func TestFacade_NilReceiverAccessors(t *testing.T) {
	var facade *Facade
	if facade.Runtime() != nil {
		t.Fatalf("expected nil runtime from nil facade")
	}
	if facade.Executor() != nil || facade.Processor() != nil || facade.Poller() != nil || facade.Ingress() != nil {
		t.Fatalf("expected nil collaborators from nil facade")
	}
	commands := facade.Commands()
	if commands.ProcessNotification != nil {
		t.Fatalf("expected empty commands from nil facade")
	}
}
