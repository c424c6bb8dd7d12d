package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// CredentialProvider resolves the OAuth1 credential set for a tenant.
// Credential storage and decryption live outside this module.
type CredentialProvider interface {
	GetCredentials(ctx context.Context, tenantID string) (Credentials, error)
}

// TenantResolver maps webhook tokens to tenants and enumerates the tenants
// the poller should visit.
type TenantResolver interface {
	ResolveToken(ctx context.Context, token string) (Tenant, error)
	ListActiveTenants(ctx context.Context) ([]Tenant, error)
}

// BusinessIngestion applies a fetched marketplace resource to the owning
// application. Implementations must be idempotent: processor retries replay
// the same order.
type BusinessIngestion interface {
	UpsertOrder(ctx context.Context, tenantID string, order map[string]any, items []map[string]any) error
}

type Signer interface {
	Sign(ctx context.Context, req *http.Request, cred Credentials) error
}

// SignedRequest is the ephemeral description of one authenticated call.
type SignedRequest struct {
	Method        string
	Path          string
	Query         map[string]string
	Headers       map[string]string
	Body          []byte
	Credentials   Credentials
	CorrelationID string
	Timeout       time.Duration
}

// TransportResult is the raw outcome of one transport execution, before the
// executor maps it into a RequestResult.
type TransportResult struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Attempts   int
	Throttle   *Throttle
	Metadata   map[string]any
}

// RequestResult is the normalized envelope returned by the executor.
type RequestResult struct {
	OK            bool
	Status        int
	Data          any
	Headers       map[string]string
	CorrelationID string
	DurationMS    int64
	Attempts      int
	Throttle      *Throttle
	RawBody       []byte
}

// RequestTransport is one of the two interchangeable execution strategies:
// in-process self-signing or delegation to a managed transport.
type RequestTransport interface {
	Kind() string
	Execute(ctx context.Context, req SignedRequest) (TransportResult, error)
}

type RateLimitKey struct {
	ProviderID string
	TenantID   string
	BucketKey  string
}

type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}

type RetryPolicy interface {
	ShouldRetry(attempt int, status int, err error) bool
	NextDelay(attempt int) time.Duration
}

// AttemptObserver is invoked once per executor attempt.
type AttemptObserver func(attempt int, status int, err error)

// NotificationStore persists notification state keyed by dedupe key. Status
// legality is the processor's concern; Transition applies patches as given.
type NotificationStore interface {
	Upsert(ctx context.Context, in UpsertNotificationInput) (Notification, error)
	Transition(ctx context.Context, id string, patch NotificationTransition) (Notification, error)
	Get(ctx context.Context, id string) (Notification, error)
	ListByStatus(ctx context.Context, tenantID string, status NotificationStatus, limit int) ([]Notification, error)
	ReleaseStale(ctx context.Context, olderThan time.Time) (int, error)
}

type UpsertNotificationInput struct {
	TenantID   string
	EventType  EventType
	ResourceID int64
	Timestamp  time.Time
	DedupeKey  string
}

type NotificationTransition struct {
	Status      NotificationStatus
	Attempts    *int
	LastError   *string
	ProcessedAt *time.Time
}

// ReplayLedger claims delivery keys for a TTL so repeated in-window
// deliveries can be acknowledged without touching the store.
type ReplayLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Scheduler enqueues a durable future invocation; retries must survive
// process restarts, so this is message passing rather than an in-memory
// timer.
type Scheduler interface {
	RunAfter(ctx context.Context, delay time.Duration, msg *JobExecutionMessage) error
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type CommandDispatcher interface {
	Dispatch(ctx context.Context, msg any) error
}
