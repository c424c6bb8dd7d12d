package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type runtimeBuilder struct {
	runtimeConfig      Config
	logger             Logger
	loggerProvider     LoggerProvider
	metricsRecorder    MetricsRecorder
	errorFactory       ErrorFactory
	errorMapper        ErrorMapper
	configProvider     ConfigProvider
	optionsResolver    OptionsResolver
	credentialProvider CredentialProvider
	tenantResolver     TenantResolver
	ingestion          BusinessIngestion
	scheduler          Scheduler
	notificationStore  NotificationStore
	replayLedger       ReplayLedger
	rateLimitPolicy    RateLimitPolicy
	signer             Signer
	transport          RequestTransport
}

type Option func(*runtimeBuilder)

func WithLogger(logger Logger) Option {
	return func(b *runtimeBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *runtimeBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *runtimeBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *runtimeBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *runtimeBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *runtimeBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *runtimeBuilder) {
		b.optionsResolver = resolver
	}
}

func WithCredentialProvider(provider CredentialProvider) Option {
	return func(b *runtimeBuilder) {
		b.credentialProvider = provider
	}
}

func WithTenantResolver(resolver TenantResolver) Option {
	return func(b *runtimeBuilder) {
		b.tenantResolver = resolver
	}
}

func WithBusinessIngestion(ingestion BusinessIngestion) Option {
	return func(b *runtimeBuilder) {
		b.ingestion = ingestion
	}
}

func WithScheduler(scheduler Scheduler) Option {
	return func(b *runtimeBuilder) {
		b.scheduler = scheduler
	}
}

func WithNotificationStore(store NotificationStore) Option {
	return func(b *runtimeBuilder) {
		b.notificationStore = store
	}
}

func WithReplayLedger(ledger ReplayLedger) Option {
	return func(b *runtimeBuilder) {
		b.replayLedger = ledger
	}
}

func WithRateLimitPolicy(policy RateLimitPolicy) Option {
	return func(b *runtimeBuilder) {
		b.rateLimitPolicy = policy
	}
}

func WithSigner(signer Signer) Option {
	return func(b *runtimeBuilder) {
		b.signer = signer
	}
}

func WithRequestTransport(transport RequestTransport) Option {
	return func(b *runtimeBuilder) {
		b.transport = transport
	}
}

func defaultRuntimeBuilder(runtime Config) runtimeBuilder {
	loggerProvider, logger := glog.Resolve("marketplace", nil, nil)
	return runtimeBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return marketplaceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.ProviderID) != "" {
		layer["provider_id"] = cfg.ProviderID
	}

	webhook := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Webhook.BaseURL) != "" {
		webhook["base_url"] = cfg.Webhook.BaseURL
	}
	if includeZero || cfg.Webhook.MaxPayloadBytes > 0 {
		webhook["max_payload_bytes"] = cfg.Webhook.MaxPayloadBytes
	}
	if includeZero || cfg.Webhook.ReplayWindow > 0 {
		webhook["replay_window"] = cfg.Webhook.ReplayWindow
	}
	if len(webhook) > 0 {
		layer["webhook"] = webhook
	}

	processing := map[string]any{}
	if includeZero || cfg.Processing.MaxAttempts > 0 {
		processing["max_attempts"] = cfg.Processing.MaxAttempts
	}
	if includeZero || cfg.Processing.RetryBaseDelay > 0 {
		processing["retry_base_delay"] = cfg.Processing.RetryBaseDelay
	}
	if includeZero || cfg.Processing.StalenessWindow > 0 {
		processing["staleness_window"] = cfg.Processing.StalenessWindow
	}
	if len(processing) > 0 {
		layer["processing"] = processing
	}
	return layer
}
