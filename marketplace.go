package marketplace

import (
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/notifications"
	"github.com/goliatone/go-marketplace/transport"
)

type Config = core.Config

type Option = core.Option

type Runtime = core.Runtime

type Credentials = core.Credentials
type CredentialProvider = core.CredentialProvider
type TenantResolver = core.TenantResolver
type BusinessIngestion = core.BusinessIngestion
type Signer = core.Signer
type RequestTransport = core.RequestTransport
type RequestResult = core.RequestResult
type RateLimitPolicy = core.RateLimitPolicy
type NotificationStore = core.NotificationStore
type Notification = core.Notification
type NotificationStatus = core.NotificationStatus
type EventType = core.EventType
type Scheduler = core.Scheduler
type ReplayLedger = core.ReplayLedger

var (
	WithLogger             = core.WithLogger
	WithLoggerProvider     = core.WithLoggerProvider
	WithMetricsRecorder    = core.WithMetricsRecorder
	WithErrorFactory       = core.WithErrorFactory
	WithErrorMapper        = core.WithErrorMapper
	WithConfigProvider     = core.WithConfigProvider
	WithOptionsResolver    = core.WithOptionsResolver
	WithCredentialProvider = core.WithCredentialProvider
	WithTenantResolver     = core.WithTenantResolver
	WithBusinessIngestion  = core.WithBusinessIngestion
	WithScheduler          = core.WithScheduler
	WithNotificationStore  = core.WithNotificationStore
	WithReplayLedger       = core.WithReplayLedger
	WithRateLimitPolicy    = core.WithRateLimitPolicy
	WithSigner             = core.WithSigner
	WithRequestTransport   = core.WithRequestTransport
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewRuntime(cfg Config, opts ...Option) (*Runtime, error) {
	return core.NewRuntime(cfg, opts...)
}

// The transport clients satisfy the ingestion pipeline's fetch contracts so a
// single executor can back both the request and notification sides.
var (
	_ notifications.ResourceFetcher = (*transport.OrderClient)(nil)
	_ notifications.EventLister     = (*transport.EventClient)(nil)
)
