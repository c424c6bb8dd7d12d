package core

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Runtime bundles the resolved configuration and the shared collaborators the
// transport, notification, and webhook layers hang off.
type Runtime struct {
	config             Config
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

func NewRuntime(cfg Config, options ...Option) (*Runtime, error) {
	builder := defaultRuntimeBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("marketplace", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("marketplace"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.replayLedger == nil {
		builder.replayLedger = NewMemoryReplayLedger(defaultReplayLedgerTTL)
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Runtime{
		config:             finalConfig,
		logger:             logger,
		loggerProvider:     provider,
		metricsRecorder:    builder.metricsRecorder,
		errorFactory:       builder.errorFactory,
		errorMapper:        builder.errorMapper,
		configProvider:     builder.configProvider,
		optionsResolver:    builder.optionsResolver,
		credentialProvider: builder.credentialProvider,
		tenantResolver:     builder.tenantResolver,
		ingestion:          builder.ingestion,
		scheduler:          builder.scheduler,
		notificationStore:  builder.notificationStore,
		replayLedger:       builder.replayLedger,
		rateLimitPolicy:    builder.rateLimitPolicy,
		signer:             builder.signer,
		transport:          builder.transport,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (r *Runtime) Config() Config {
	if r == nil {
		return Config{}
	}
	return r.config
}

func (r *Runtime) Logger() Logger {
	if r == nil {
		return nil
	}
	return r.logger
}

func (r *Runtime) LoggerProvider() LoggerProvider {
	if r == nil {
		return nil
	}
	return r.loggerProvider
}

func (r *Runtime) Metrics() MetricsRecorder {
	if r == nil {
		return nil
	}
	return r.metricsRecorder
}

func (r *Runtime) ErrorFactory() ErrorFactory {
	if r == nil {
		return nil
	}
	return r.errorFactory
}

func (r *Runtime) ErrorMapper() ErrorMapper {
	if r == nil {
		return nil
	}
	return r.errorMapper
}

func (r *Runtime) CredentialProvider() CredentialProvider {
	if r == nil {
		return nil
	}
	return r.credentialProvider
}

func (r *Runtime) TenantResolver() TenantResolver {
	if r == nil {
		return nil
	}
	return r.tenantResolver
}

func (r *Runtime) Ingestion() BusinessIngestion {
	if r == nil {
		return nil
	}
	return r.ingestion
}

func (r *Runtime) Scheduler() Scheduler {
	if r == nil {
		return nil
	}
	return r.scheduler
}

func (r *Runtime) NotificationStore() NotificationStore {
	if r == nil {
		return nil
	}
	return r.notificationStore
}

func (r *Runtime) ReplayLedger() ReplayLedger {
	if r == nil {
		return nil
	}
	return r.replayLedger
}

func (r *Runtime) RateLimitPolicy() RateLimitPolicy {
	if r == nil {
		return nil
	}
	return r.rateLimitPolicy
}

func (r *Runtime) Signer() Signer {
	if r == nil {
		return nil
	}
	return r.signer
}

func (r *Runtime) Transport() RequestTransport {
	if r == nil {
		return nil
	}
	return r.transport
}
