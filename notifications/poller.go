package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-marketplace/core"
)

// EventLister reads the provider's unread event feed for one tenant.
type EventLister interface {
	ListUnreadEvents(ctx context.Context, tenantID string) ([]core.ProviderEvent, error)
}

// PollStats aggregates one polling run.
type PollStats struct {
	Tenants       int
	TenantsFailed int
	Events        int
	Inserted      int
	Processed     int
	Released      int
}

// Poller is the catch-up path for deliveries the webhook missed. Each cycle
// releases stale in-flight rows, pulls the unread feed per tenant, upserts
// the sightings, and drives the pending and failed backlog through the
// processor.
type Poller struct {
	Tenants         core.TenantResolver
	Events          EventLister
	Store           core.NotificationStore
	Processor       *Processor
	Runtime         *core.Runtime
	StalenessWindow time.Duration
	BatchSize       int
	Now             func() time.Time
}

func NewPoller(tenants core.TenantResolver, events EventLister, store core.NotificationStore, processor *Processor) *Poller {
	return &Poller{
		Tenants:         tenants,
		Events:          events,
		Store:           store,
		Processor:       processor,
		StalenessWindow: core.DefaultConfig().Processing.StalenessWindow,
		BatchSize:       50,
	}
}

// PollAllTenants fans out one goroutine per active tenant. A tenant's failure
// is isolated: it is counted and logged, never propagated to its neighbors.
func (p *Poller) PollAllTenants(ctx context.Context) (PollStats, error) {
	if p == nil || p.Tenants == nil {
		return PollStats{}, fmt.Errorf("notifications: poller requires a tenant resolver")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := time.Now().UTC()

	stats := PollStats{}
	released, err := p.releaseStale(ctx)
	if err != nil {
		p.logError(ctx, "stale release failed", map[string]any{"error": err.Error()})
	}
	stats.Released = released

	tenants, err := p.Tenants.ListActiveTenants(ctx)
	if err != nil {
		p.observe(ctx, startedAt, "poll_all_tenants", err, map[string]any{})
		return stats, err
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, tenant := range tenants {
		tenant := tenant
		wg.Add(1)
		go func() {
			defer wg.Done()
			tenantStats, tenantErr := p.PollTenant(ctx, tenant.ID)
			mu.Lock()
			defer mu.Unlock()
			stats.Tenants++
			stats.Events += tenantStats.Events
			stats.Inserted += tenantStats.Inserted
			stats.Processed += tenantStats.Processed
			if tenantErr != nil {
				stats.TenantsFailed++
				p.logError(ctx, "tenant poll failed", map[string]any{
					"tenant_id": tenant.ID,
					"error":     tenantErr.Error(),
				})
			}
		}()
	}
	wg.Wait()

	p.observe(ctx, startedAt, "poll_all_tenants", nil, map[string]any{
		"tenants":        stats.Tenants,
		"tenants_failed": stats.TenantsFailed,
		"events":         stats.Events,
		"inserted":       stats.Inserted,
		"processed":      stats.Processed,
		"released":       stats.Released,
	})
	return stats, nil
}

// PollTenant ingests the unread feed for one tenant and processes whatever is
// pending afterwards, webhook leftovers included.
func (p *Poller) PollTenant(ctx context.Context, tenantID string) (PollStats, error) {
	if p == nil || p.Events == nil || p.Store == nil {
		return PollStats{}, fmt.Errorf("notifications: poller requires an event lister and a store")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return PollStats{}, fmt.Errorf("notifications: tenant id is required")
	}
	startedAt := time.Now().UTC()
	stats := PollStats{Tenants: 1}

	events, err := p.Events.ListUnreadEvents(ctx, tenantID)
	if err != nil {
		p.observe(ctx, startedAt, "poll_tenant", err, map[string]any{"tenant_id": tenantID})
		return stats, err
	}
	stats.Events = len(events)

	for _, event := range events {
		notification, upsertErr := p.Store.Upsert(ctx, core.UpsertNotificationInput{
			TenantID:   tenantID,
			EventType:  event.EventType,
			ResourceID: event.ResourceID,
			Timestamp:  event.Timestamp.UTC(),
			DedupeKey:  core.DedupeKey(tenantID, event.EventType, event.ResourceID, event.Timestamp),
		})
		if upsertErr != nil {
			p.logError(ctx, "event upsert failed", map[string]any{
				"tenant_id":   tenantID,
				"event_type":  string(event.EventType),
				"resource_id": event.ResourceID,
				"error":       upsertErr.Error(),
			})
			continue
		}
		if notification.Status == core.NotificationStatusPending && notification.Attempts == 0 {
			stats.Inserted++
		}
	}

	processed, err := p.processBacklog(ctx, tenantID)
	stats.Processed = processed
	p.observe(ctx, startedAt, "poll_tenant", err, map[string]any{
		"tenant_id": tenantID,
		"events":    stats.Events,
		"inserted":  stats.Inserted,
		"processed": stats.Processed,
	})
	return stats, err
}

// processBacklog drains pending rows first, then failed rows — a failed row
// whose scheduled retry never fired (crash before scheduling, released stale
// lease, reset by a re-delivery) has no other way back into the machine. The
// processor itself dead-letters rows that are out of attempts.
func (p *Poller) processBacklog(ctx context.Context, tenantID string) (int, error) {
	if p.Processor == nil {
		return 0, nil
	}
	batch := p.BatchSize
	if batch <= 0 {
		batch = 50
	}
	processed := 0
	for _, status := range []core.NotificationStatus{
		core.NotificationStatusPending,
		core.NotificationStatusFailed,
	} {
		rows, err := p.Store.ListByStatus(ctx, tenantID, status, batch)
		if err != nil {
			return processed, err
		}
		for _, notification := range rows {
			if err := p.Processor.Process(ctx, notification.ID); err != nil {
				p.logError(ctx, "notification processing failed", map[string]any{
					"tenant_id":       tenantID,
					"notification_id": notification.ID,
					"error":           err.Error(),
				})
				continue
			}
			processed++
		}
	}
	return processed, nil
}

func (p *Poller) releaseStale(ctx context.Context) (int, error) {
	if p.Store == nil {
		return 0, nil
	}
	window := p.StalenessWindow
	if window <= 0 {
		window = core.DefaultConfig().Processing.StalenessWindow
	}
	return p.Store.ReleaseStale(ctx, p.now().Add(-window))
}

func (p *Poller) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Poller) observe(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) {
	if p == nil || p.Runtime == nil {
		return
	}
	p.Runtime.ObserveOperation(ctx, startedAt, operation, err, fields)
}

func (p *Poller) logError(ctx context.Context, message string, fields map[string]any) {
	if p == nil || p.Runtime == nil {
		return
	}
	p.Runtime.LogError(ctx, message, fields)
}
