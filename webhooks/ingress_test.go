package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/notifications"
)

type stubTenants struct {
	tenant core.Tenant
}

func (s stubTenants) ResolveToken(_ context.Context, token string) (core.Tenant, error) {
	if token == s.tenant.WebhookToken && token != "" {
		return s.tenant, nil
	}
	return core.Tenant{}, core.ErrTenantNotFound
}

func (s stubTenants) ListActiveTenants(context.Context) ([]core.Tenant, error) {
	return []core.Tenant{s.tenant}, nil
}

type stubFetcher struct {
	err   error
	calls int
}

func (s *stubFetcher) FetchOrder(context.Context, string, int64) (map[string]any, []map[string]any, error) {
	s.calls++
	if s.err != nil {
		return nil, nil, s.err
	}
	return map[string]any{"order_id": float64(555)}, []map[string]any{{"sku": "A-1"}}, nil
}

type stubIngestion struct{}

func (stubIngestion) UpsertOrder(context.Context, string, map[string]any, []map[string]any) error {
	return nil
}

type stubScheduler struct{}

func (stubScheduler) RunAfter(context.Context, time.Duration, *core.JobExecutionMessage) error {
	return nil
}

type ingressFixture struct {
	ingress *Ingress
	store   *notifications.MemoryStore
	fetcher *stubFetcher
	now     time.Time
}

func newFixture() *ingressFixture {
	store := notifications.NewMemoryStore()
	fetcher := &stubFetcher{}
	processor := notifications.NewProcessor(store, fetcher, stubIngestion{}, stubScheduler{})
	tenants := stubTenants{tenant: core.Tenant{ID: "tenant-a", Active: true, WebhookToken: "tok-123"}}
	ingress := NewIngress(tenants, store, processor)
	fixture := &ingressFixture{
		ingress: ingress,
		store:   store,
		fetcher: fetcher,
		now:     time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	ingress.Now = func() time.Time { return fixture.now }
	ingress.ReplayLedger = core.NewMemoryReplayLedger(time.Hour)
	return fixture
}

func orderPayload(resourceID int64, ts time.Time) string {
	return fmt.Sprintf(`{"event_type": "Order", "resource_id": %d, "timestamp": %q}`, resourceID, ts.Format(time.RFC3339))
}

func (f *ingressFixture) post(t *testing.T, url string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	recorder := httptest.NewRecorder()
	f.ingress.ServeHTTP(recorder, req)
	return recorder
}

func decodeAck(t *testing.T, recorder *httptest.ResponseRecorder) ackBody {
	t.Helper()
	var body ackBody
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return body
}

func TestWebhookAcceptsAndProcessesOrder(t *testing.T) {
	fixture := newFixture()
	ts := fixture.now.Add(-time.Minute)

	recorder := fixture.post(t, "/marketplace/webhook/tok-123", orderPayload(555, ts))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if ack := decodeAck(t, recorder); ack.Status != ackAccepted {
		t.Fatalf("expected accepted ack, got %+v", ack)
	}

	completed, err := fixture.store.ListByStatus(context.Background(), "tenant-a", core.NotificationStatusCompleted, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("expected one completed row, got %d", len(completed))
	}
	if completed[0].ResourceID != 555 {
		t.Fatalf("unexpected resource id %d", completed[0].ResourceID)
	}
	if fixture.fetcher.calls != 1 {
		t.Fatalf("expected one fetch, got %d", fixture.fetcher.calls)
	}
}

func TestWebhookTokenFromQueryParameter(t *testing.T) {
	fixture := newFixture()
	ts := fixture.now.Add(-time.Minute)

	recorder := fixture.post(t, "/marketplace/webhook?token=tok-123", orderPayload(556, ts))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if ack := decodeAck(t, recorder); ack.Status != ackAccepted {
		t.Fatalf("expected accepted ack, got %+v", ack)
	}
}

func TestWebhookDuplicateDeliveryKeepsOneRow(t *testing.T) {
	fixture := newFixture()
	ts := fixture.now.Add(-time.Minute)
	payload := orderPayload(555, ts)

	first := fixture.post(t, "/marketplace/webhook/tok-123", payload)
	second := fixture.post(t, "/marketplace/webhook/tok-123", payload)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200s, got %d and %d", first.Code, second.Code)
	}
	if ack := decodeAck(t, second); ack.Status != ackAccepted {
		t.Fatalf("expected accepted ack for in-window duplicate, got %+v", ack)
	}
	if fixture.fetcher.calls != 1 {
		t.Fatalf("expected the ledger to suppress the duplicate inline run, got %d fetches", fixture.fetcher.calls)
	}

	total := 0
	for _, status := range []core.NotificationStatus{
		core.NotificationStatusPending,
		core.NotificationStatusProcessing,
		core.NotificationStatusCompleted,
		core.NotificationStatusFailed,
		core.NotificationStatusDeadLetter,
	} {
		rows, err := fixture.store.ListByStatus(context.Background(), "tenant-a", status, 0)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		total += len(rows)
	}
	if total != 1 {
		t.Fatalf("expected exactly one row, got %d", total)
	}
}

func TestWebhookRedeliveryResetsFailedRowAttempts(t *testing.T) {
	fixture := newFixture()
	fixture.fetcher.err = fmt.Errorf("upstream 503")
	ts := fixture.now.Add(-time.Minute)
	payload := orderPayload(555, ts)

	if recorder := fixture.post(t, "/marketplace/webhook/tok-123", payload); recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on first delivery, got %d", recorder.Code)
	}

	failed, err := fixture.store.ListByStatus(context.Background(), "tenant-a", core.NotificationStatusFailed, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Attempts != 1 {
		t.Fatalf("expected one failed row with one attempt, got %+v", failed)
	}
	attempts := 3
	if _, err := fixture.store.Transition(context.Background(), failed[0].ID, core.NotificationTransition{
		Status:   core.NotificationStatusFailed,
		Attempts: &attempts,
	}); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	recorder := fixture.post(t, "/marketplace/webhook/tok-123", payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on re-delivery, got %d", recorder.Code)
	}
	if ack := decodeAck(t, recorder); ack.Status != ackAccepted {
		t.Fatalf("expected re-delivery to flow through the store, got %+v", ack)
	}

	got, err := fixture.store.Get(context.Background(), failed[0].ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Attempts != 0 {
		t.Fatalf("expected re-delivery to reset attempts, got %d", got.Attempts)
	}
	if got.Status != core.NotificationStatusFailed {
		t.Fatalf("expected row to stay failed until the next cycle, got %s", got.Status)
	}
}

func TestWebhookStaleTimestampAcknowledgedWithoutMutation(t *testing.T) {
	fixture := newFixture()
	stale := fixture.now.Add(-2 * time.Hour)

	recorder := fixture.post(t, "/marketplace/webhook/tok-123", orderPayload(555, stale))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if ack := decodeAck(t, recorder); ack.Status != ackReplay {
		t.Fatalf("expected replay ack, got %+v", ack)
	}

	pending, err := fixture.store.ListByStatus(context.Background(), "tenant-a", core.NotificationStatusPending, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	completed, err := fixture.store.ListByStatus(context.Background(), "tenant-a", core.NotificationStatusCompleted, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(pending)+len(completed) != 0 {
		t.Fatal("expected no store mutation for stale delivery")
	}
}

func TestWebhookUnknownTokenIs200WithErrorBody(t *testing.T) {
	fixture := newFixture()
	ts := fixture.now.Add(-time.Minute)

	recorder := fixture.post(t, "/marketplace/webhook/wrong-token", orderPayload(555, ts))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown token, got %d", recorder.Code)
	}
	if ack := decodeAck(t, recorder); ack.Status != ackUnknownToken {
		t.Fatalf("expected unknown token ack, got %+v", ack)
	}
}

func TestWebhookRejectsNonPost(t *testing.T) {
	fixture := newFixture()
	req := httptest.NewRequest(http.MethodGet, "/marketplace/webhook/tok-123", nil)
	recorder := httptest.NewRecorder()
	fixture.ingress.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
	if recorder.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow header, got %q", recorder.Header().Get("Allow"))
	}
}

func TestWebhookRejectsOversizedPayload(t *testing.T) {
	fixture := newFixture()
	oversized := strings.Repeat("x", 2048)

	recorder := fixture.post(t, "/marketplace/webhook/tok-123", oversized)
	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", recorder.Code)
	}
}

func TestWebhookRejectsInvalidPayload(t *testing.T) {
	fixture := newFixture()

	recorder := fixture.post(t, "/marketplace/webhook/tok-123", `{"event_type": "Shipment", "resource_id": 1, "timestamp": "2026-03-14T09:29:00Z"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}

	recorder = fixture.post(t, "/marketplace/webhook/tok-123", `not json`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", recorder.Code)
	}
}

func TestWebhookProcessingFailureStillAcks(t *testing.T) {
	fixture := newFixture()
	fixture.fetcher.err = fmt.Errorf("upstream 503")
	ts := fixture.now.Add(-time.Minute)

	recorder := fixture.post(t, "/marketplace/webhook/tok-123", orderPayload(555, ts))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 despite processing failure, got %d", recorder.Code)
	}
	if ack := decodeAck(t, recorder); ack.Status != ackAccepted {
		t.Fatalf("expected accepted ack, got %+v", ack)
	}

	failed, err := fixture.store.ListByStatus(context.Background(), "tenant-a", core.NotificationStatusFailed, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected failed row awaiting retry, got %d", len(failed))
	}
}

func TestExtractToken(t *testing.T) {
	cases := map[string]string{
		"/marketplace/webhook/tok-123":        "tok-123",
		"/marketplace/webhook/tok-123/":       "tok-123",
		"/marketplace/webhook?token=tok-456":  "tok-456",
		"/marketplace/webhook/":               "",
		"/marketplace/other":                  "",
	}
	for target, want := range cases {
		req := httptest.NewRequest(http.MethodPost, target, nil)
		if got := extractToken(req); got != want {
			t.Fatalf("extractToken(%q): expected %q, got %q", target, want, got)
		}
	}
}
