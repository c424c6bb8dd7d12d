package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/ratelimit"
)

// EventClient reads the provider's unread event feed, the polling-side
// counterpart of webhook delivery. Feed reads get their own rate limit bucket,
// separate from order fetches.
type EventClient struct {
	Executor *Executor
}

func NewEventClient(executor *Executor) *EventClient {
	return &EventClient{Executor: executor}
}

func (c *EventClient) ListUnreadEvents(ctx context.Context, tenantID string) ([]core.ProviderEvent, error) {
	if c == nil || c.Executor == nil {
		return nil, transportError(
			"transport: event client requires an executor",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}

	result, err := c.Executor.Execute(ctx, ExecuteArgs{
		TenantID:  tenantID,
		Method:    http.MethodGet,
		Path:      "/events",
		Query:     map[string]string{"unread": "true"},
		BucketKey: ratelimit.ResourceBucketKey(c.Executor.ProviderID, tenantID, "events"),
	})
	if err != nil {
		return nil, err
	}

	raw, err := decodeObjectList(result, "events")
	if err != nil {
		return nil, err
	}

	events := make([]core.ProviderEvent, 0, len(raw))
	for _, entry := range raw {
		event, err := parseProviderEvent(entry, result.CorrelationID)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func parseProviderEvent(entry map[string]any, correlationID string) (core.ProviderEvent, error) {
	eventType, err := core.ParseEventType(fmt.Sprint(entry["event_type"]))
	if err != nil {
		return core.ProviderEvent{}, invalidResponseError(
			"transport: provider event has an unknown event type",
			map[string]any{"correlation_id": correlationID, "event_type": entry["event_type"]},
		)
	}

	resourceID, ok := numberToInt64(entry["resource_id"])
	if !ok || resourceID <= 0 {
		return core.ProviderEvent{}, invalidResponseError(
			"transport: provider event has an invalid resource id",
			map[string]any{"correlation_id": correlationID},
		)
	}

	timestamp, err := time.Parse(time.RFC3339, fmt.Sprint(entry["timestamp"]))
	if err != nil {
		return core.ProviderEvent{}, invalidResponseError(
			"transport: provider event has an invalid timestamp",
			map[string]any{"correlation_id": correlationID},
		)
	}

	return core.ProviderEvent{
		EventType:  eventType,
		ResourceID: resourceID,
		Timestamp:  timestamp.UTC(),
	}, nil
}

func numberToInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
