package transport

import (
	"context"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
)

func TestOrderClientFetchOrder(t *testing.T) {
	transport := &stubTransport{results: []core.TransportResult{
		{
			StatusCode: http.StatusOK,
			Attempts:   1,
			Body:       []byte(`{"order_id": 555, "status": "paid"}`),
		},
		{
			StatusCode: http.StatusOK,
			Attempts:   1,
			Body:       []byte(`[{"sku": "A-1", "qty": 2}, {"sku": "B-9", "qty": 1}]`),
		},
	}}
	client := NewOrderClient(newTestExecutor(transport))

	order, items, err := client.FetchOrder(context.Background(), "tenant-a", 555)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if order["order_id"] != float64(555) {
		t.Fatalf("unexpected order payload %#v", order)
	}
	if len(items) != 2 || items[0]["sku"] != "A-1" {
		t.Fatalf("unexpected items %#v", items)
	}
	if transport.calls != 2 {
		t.Fatalf("expected order and items calls, got %d", transport.calls)
	}
}

func TestOrderClientRejectsEmptyOrder(t *testing.T) {
	transport := &stubTransport{results: []core.TransportResult{
		{StatusCode: http.StatusOK, Attempts: 1, Body: []byte(`{}`)},
	}}
	client := NewOrderClient(newTestExecutor(transport))

	_, _, err := client.FetchOrder(context.Background(), "tenant-a", 555)
	if err == nil {
		t.Fatal("expected empty payload to error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorCodeInvalidResponse {
		t.Fatalf("expected invalid response error, got %v", err)
	}
}

func TestEventClientListUnreadEvents(t *testing.T) {
	transport := &stubTransport{results: []core.TransportResult{{
		StatusCode: http.StatusOK,
		Attempts:   1,
		Body: []byte(`[
			{"event_type": "Order", "resource_id": 555, "timestamp": "2026-03-14T09:26:53Z"},
			{"event_type": "Message", "resource_id": 12, "timestamp": "2026-03-14T09:27:00Z"}
		]`),
	}}}
	client := NewEventClient(newTestExecutor(transport))

	events, err := client.ListUnreadEvents(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected two events, got %d", len(events))
	}
	if events[0].EventType != core.EventTypeOrder || events[0].ResourceID != 555 {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if transport.last.Query["unread"] != "true" {
		t.Fatalf("expected unread filter, got %v", transport.last.Query)
	}
}

func TestEventClientRejectsUnknownEventType(t *testing.T) {
	transport := &stubTransport{results: []core.TransportResult{{
		StatusCode: http.StatusOK,
		Attempts:   1,
		Body:       []byte(`[{"event_type": "Shipment", "resource_id": 1, "timestamp": "2026-03-14T09:26:53Z"}]`),
	}}}
	client := NewEventClient(newTestExecutor(transport))

	_, err := client.ListUnreadEvents(context.Background(), "tenant-a")
	if err == nil {
		t.Fatal("expected unknown event type to error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorCodeInvalidResponse {
		t.Fatalf("expected invalid response error, got %v", err)
	}
}
