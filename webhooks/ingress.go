// Package webhooks implements the provider-facing delivery endpoint. The
// response contract is deliberate: protocol violations get their real status
// (405, 413, 400) while everything else — unknown tokens, replays, internal
// failures — is acknowledged with 200 so the provider never disables
// delivery.
package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/notifications"
)

type ackStatus string

const (
	ackAccepted     ackStatus = "accepted"
	ackReplay       ackStatus = "replay"
	ackUnknownToken ackStatus = "unknown_token"
	ackError        ackStatus = "error"
)

type ackBody struct {
	Status  ackStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}

// Ingress is the http.Handler for POST /webhook/{token} and
// POST /webhook?token={token}.
type Ingress struct {
	Tenants         core.TenantResolver
	Store           core.NotificationStore
	Processor       *notifications.Processor
	ReplayLedger    core.ReplayLedger
	Runtime         *core.Runtime
	MaxPayloadBytes int64
	ReplayWindow    time.Duration
	Now             func() time.Time
}

func NewIngress(tenants core.TenantResolver, store core.NotificationStore, processor *notifications.Processor) *Ingress {
	defaults := core.DefaultConfig()
	return &Ingress{
		Tenants:         tenants,
		Store:           store,
		Processor:       processor,
		MaxPayloadBytes: defaults.Webhook.MaxPayloadBytes,
		ReplayWindow:    defaults.Webhook.ReplayWindow,
	}
}

func (h *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Tenants == nil || h.Store == nil {
		http.Error(w, "webhook ingress is not configured", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()
	startedAt := time.Now().UTC()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeAck(w, http.StatusMethodNotAllowed, ackBody{Status: ackError, Message: "method not allowed"})
		return
	}

	maxBytes := h.maxPayloadBytes()
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		writeAck(w, http.StatusBadRequest, ackBody{Status: ackError, Message: "unreadable body"})
		return
	}
	if int64(len(payload)) > maxBytes {
		writeAck(w, http.StatusRequestEntityTooLarge, ackBody{Status: ackError, Message: "payload too large"})
		return
	}

	token := extractToken(r)
	tenant, err := h.Tenants.ResolveToken(ctx, token)
	if err != nil || !tenant.Active {
		// 200 on purpose: a 4xx would both leak token validity and invite
		// the provider to disable delivery.
		h.observe(ctx, startedAt, "", ackUnknownToken, nil)
		writeAck(w, http.StatusOK, ackBody{Status: ackUnknownToken})
		return
	}

	envelope, err := notifications.ParseEnvelope(payload)
	if err != nil {
		h.observe(ctx, startedAt, tenant.ID, ackError, err)
		writeAck(w, http.StatusBadRequest, ackBody{Status: ackError, Message: validationMessage(err)})
		return
	}

	if h.isReplay(envelope) {
		h.observe(ctx, startedAt, tenant.ID, ackReplay, nil)
		writeAck(w, http.StatusOK, ackBody{Status: ackReplay})
		return
	}

	notification, err := h.Store.Upsert(ctx, envelope.UpsertInput(tenant.ID))
	if err != nil {
		// The provider still gets a 200; the poll cycle owns recovery.
		h.logError(ctx, "webhook upsert failed", map[string]any{
			"tenant_id": tenant.ID,
			"error":     err.Error(),
		})
		h.observe(ctx, startedAt, tenant.ID, ackError, err)
		writeAck(w, http.StatusOK, ackBody{Status: ackAccepted})
		return
	}

	if h.claimInline(ctx, tenant.ID, envelope) {
		h.processInline(ctx, tenant.ID, notification)
	}
	h.observe(ctx, startedAt, tenant.ID, ackAccepted, nil)
	writeAck(w, http.StatusOK, ackBody{Status: ackAccepted})
}

// processInline is best effort: failures are logged and the row stays in the
// store for the retry scheduler or the next poll.
func (h *Ingress) processInline(ctx context.Context, tenantID string, notification core.Notification) {
	if h.Processor == nil {
		return
	}
	if notification.Status != core.NotificationStatusPending {
		return
	}
	if err := h.Processor.Process(ctx, notification.ID); err != nil {
		h.logError(ctx, "inline processing failed", map[string]any{
			"tenant_id":       tenantID,
			"notification_id": notification.ID,
			"error":           err.Error(),
		})
	}
}

// isReplay classifies on timestamp age alone. An in-window duplicate is NOT a
// replay: it must still reach the store, where the upsert gives a failed row
// its fresh chance.
func (h *Ingress) isReplay(envelope notifications.Envelope) bool {
	return envelope.Timestamp.Before(h.now().Add(-h.replayWindow()))
}

// claimInline decides whether this delivery also runs the processor
// synchronously. The ledger only suppresses duplicate inline runs of the same
// dedupe key inside the window; the upsert has already happened either way.
func (h *Ingress) claimInline(ctx context.Context, tenantID string, envelope notifications.Envelope) bool {
	if h.ReplayLedger == nil {
		return true
	}
	claimed, err := h.ReplayLedger.Claim(ctx, envelope.DedupeKey(tenantID), h.replayWindow())
	if err != nil {
		h.logError(ctx, "replay ledger claim failed", map[string]any{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
		return true
	}
	return claimed
}

func extractToken(r *http.Request) string {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if idx := strings.Index(path, "/webhook/"); idx >= 0 {
		segment := path[idx+len("/webhook/"):]
		if segment != "" && !strings.Contains(segment, "/") {
			return segment
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func validationMessage(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Message
	}
	return "invalid payload"
}

func writeAck(w http.ResponseWriter, status int, body ackBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Ingress) maxPayloadBytes() int64 {
	if h != nil && h.MaxPayloadBytes > 0 {
		return h.MaxPayloadBytes
	}
	return core.DefaultConfig().Webhook.MaxPayloadBytes
}

func (h *Ingress) replayWindow() time.Duration {
	if h != nil && h.ReplayWindow > 0 {
		return h.ReplayWindow
	}
	return core.DefaultConfig().Webhook.ReplayWindow
}

func (h *Ingress) now() time.Time {
	if h != nil && h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *Ingress) observe(ctx context.Context, startedAt time.Time, tenantID string, outcome ackStatus, err error) {
	if h == nil || h.Runtime == nil {
		return
	}
	fields := map[string]any{"outcome": string(outcome)}
	if tenantID != "" {
		fields["tenant_id"] = tenantID
	}
	h.Runtime.ObserveOperation(ctx, startedAt, "webhook_receive", err, fields)
}

func (h *Ingress) logError(ctx context.Context, message string, fields map[string]any) {
	if h == nil || h.Runtime == nil {
		return
	}
	h.Runtime.LogError(ctx, message, fields)
}

var _ http.Handler = (*Ingress)(nil)
