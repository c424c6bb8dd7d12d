package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-marketplace/core"
)

const JobIDProcessNotification = "marketplace.notification.process"

const deadLetterReason = "Max processing attempts reached"

// ResourceFetcher retrieves the full resource a notification points at.
type ResourceFetcher interface {
	FetchOrder(ctx context.Context, tenantID string, orderID int64) (map[string]any, []map[string]any, error)
}

// Processor drives one notification through the retryable state machine:
// claim it, fetch and apply the resource, then settle on completed, failed
// with a scheduled retry, or dead_letter once attempts are exhausted.
type Processor struct {
	Store          core.NotificationStore
	Fetcher        ResourceFetcher
	Ingestion      core.BusinessIngestion
	Scheduler      core.Scheduler
	Runtime        *core.Runtime
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Now            func() time.Time
}

func NewProcessor(store core.NotificationStore, fetcher ResourceFetcher, ingestion core.BusinessIngestion, scheduler core.Scheduler) *Processor {
	return &Processor{
		Store:          store,
		Fetcher:        fetcher,
		Ingestion:      ingestion,
		Scheduler:      scheduler,
		MaxAttempts:    core.DefaultConfig().Processing.MaxAttempts,
		RetryBaseDelay: core.DefaultConfig().Processing.RetryBaseDelay,
	}
}

// Process returns an error only when the store itself fails. Dispatch
// failures are captured as a failed transition plus a scheduled retry; the
// provider has already been acknowledged by then.
func (p *Processor) Process(ctx context.Context, notificationID string) error {
	if p == nil || p.Store == nil {
		return fmt.Errorf("notifications: processor requires a store")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return fmt.Errorf("notifications: notification id is required")
	}

	startedAt := time.Now().UTC()
	notification, err := p.Store.Get(ctx, notificationID)
	if err != nil {
		return err
	}

	if notification.Status.Terminal() {
		p.observe(ctx, startedAt, notification, nil, "already settled")
		return nil
	}
	if notification.Status == core.NotificationStatusProcessing {
		p.observe(ctx, startedAt, notification, nil, "already in flight")
		return nil
	}

	if notification.Attempts >= p.maxAttempts() {
		reason := deadLetterReason
		notification, err = p.Store.Transition(ctx, notification.ID, core.NotificationTransition{
			Status:    core.NotificationStatusDeadLetter,
			LastError: &reason,
		})
		if err != nil {
			return err
		}
		p.observe(ctx, startedAt, notification, nil, "dead lettered")
		return nil
	}

	attempts := notification.Attempts + 1
	notification, err = p.Store.Transition(ctx, notification.ID, core.NotificationTransition{
		Status:   core.NotificationStatusProcessing,
		Attempts: &attempts,
	})
	if err != nil {
		return err
	}

	dispatchErr := p.dispatch(ctx, notification)
	if dispatchErr == nil {
		processedAt := p.now()
		notification, err = p.Store.Transition(ctx, notification.ID, core.NotificationTransition{
			Status:      core.NotificationStatusCompleted,
			ProcessedAt: &processedAt,
		})
		if err != nil {
			return err
		}
		p.observe(ctx, startedAt, notification, nil, "")
		return nil
	}

	lastError := dispatchErr.Error()
	notification, err = p.Store.Transition(ctx, notification.ID, core.NotificationTransition{
		Status:    core.NotificationStatusFailed,
		LastError: &lastError,
	})
	if err != nil {
		return err
	}

	p.scheduleRetry(ctx, notification)
	p.observe(ctx, startedAt, notification, dispatchErr, "")
	return nil
}

func (p *Processor) dispatch(ctx context.Context, notification core.Notification) error {
	switch notification.EventType {
	case core.EventTypeOrder:
		if p.Fetcher == nil {
			return fmt.Errorf("notifications: processor requires a resource fetcher for orders")
		}
		if p.Ingestion == nil {
			return fmt.Errorf("notifications: processor requires an ingestion target for orders")
		}
		order, items, err := p.Fetcher.FetchOrder(ctx, notification.TenantID, notification.ResourceID)
		if err != nil {
			return err
		}
		return p.Ingestion.UpsertOrder(ctx, notification.TenantID, order, items)
	case core.EventTypeMessage, core.EventTypeFeedback:
		// Acknowledged but not acted on yet; the row still settles so the
		// provider stops re-delivering.
		p.logInfo(ctx, "event type acknowledged without ingestion", map[string]any{
			"tenant_id":   notification.TenantID,
			"event_type":  string(notification.EventType),
			"resource_id": notification.ResourceID,
		})
		return nil
	default:
		return fmt.Errorf("%w: %q", core.ErrInvalidEventType, notification.EventType)
	}
}

// scheduleRetry enqueues the durable follow-up with delay base * 2^(n-1) for
// the n-th failure. Scheduling failures are logged, not returned: the row is
// already failed and the staleness sweep will surface it again.
func (p *Processor) scheduleRetry(ctx context.Context, notification core.Notification) {
	if p.Scheduler == nil {
		return
	}
	delay := p.retryDelay(notification.Attempts)
	err := p.Scheduler.RunAfter(ctx, delay, &core.JobExecutionMessage{
		JobID: JobIDProcessNotification,
		Parameters: map[string]any{
			"notification_id": notification.ID,
			"tenant_id":       notification.TenantID,
		},
		IdempotencyKey: notification.DedupeKey + ":" + fmt.Sprint(notification.Attempts),
	})
	if err != nil {
		p.logError(ctx, "retry scheduling failed", map[string]any{
			"notification_id": notification.ID,
			"tenant_id":       notification.TenantID,
			"attempts":        notification.Attempts,
			"error":           err.Error(),
		})
	}
}

func (p *Processor) retryDelay(attempts int) time.Duration {
	base := p.RetryBaseDelay
	if base <= 0 {
		base = core.DefaultConfig().Processing.RetryBaseDelay
	}
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return core.DefaultConfig().Processing.MaxAttempts
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) observe(ctx context.Context, startedAt time.Time, notification core.Notification, err error, note string) {
	if p == nil || p.Runtime == nil {
		return
	}
	fields := map[string]any{
		"notification_id": notification.ID,
		"tenant_id":       notification.TenantID,
		"event_type":      string(notification.EventType),
		"resource_id":     notification.ResourceID,
		"notif_status":    string(notification.Status),
		"attempts":        notification.Attempts,
	}
	if note != "" {
		fields["note"] = note
	}
	p.Runtime.ObserveOperation(ctx, startedAt, "notification_process", err, fields)
}

func (p *Processor) logInfo(ctx context.Context, message string, fields map[string]any) {
	if p == nil || p.Runtime == nil {
		return
	}
	p.Runtime.LogInfo(ctx, message, fields)
}

func (p *Processor) logError(ctx context.Context, message string, fields map[string]any) {
	if p == nil || p.Runtime == nil {
		return
	}
	p.Runtime.LogError(ctx, message, fields)
}
