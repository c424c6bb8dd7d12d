// Package notifications owns the ingestion pipeline: the delivery envelope,
// the deduplicating store semantics, the retryable processor state machine,
// and the polling fallback.
package notifications

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
)

// Envelope is the wire shape of one webhook delivery.
type Envelope struct {
	EventType  string    `json:"event_type"`
	ResourceID int64     `json:"resource_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// ParseEnvelope decodes and validates a delivery payload. Validation errors
// carry field detail so the ingress can answer 400 with specifics.
func ParseEnvelope(payload []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, goerrors.Wrap(err, goerrors.CategoryValidation, "notifications: malformed payload").
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorCodeValidation)
	}
	if err := envelope.Validate(); err != nil {
		return Envelope{}, err
	}
	return envelope, nil
}

func (e Envelope) Validate() error {
	var fields []goerrors.FieldError
	if _, err := core.ParseEventType(e.EventType); err != nil {
		fields = append(fields, goerrors.FieldError{
			Field:   "event_type",
			Message: "must be one of Order, Message, Feedback",
			Value:   e.EventType,
		})
	}
	if e.ResourceID <= 0 {
		fields = append(fields, goerrors.FieldError{
			Field:   "resource_id",
			Message: "must be a positive integer",
			Value:   e.ResourceID,
		})
	}
	if e.Timestamp.IsZero() {
		fields = append(fields, goerrors.FieldError{
			Field:   "timestamp",
			Message: "is required",
		})
	}
	if len(fields) > 0 {
		return goerrors.NewValidation("notifications: invalid envelope", fields...).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorCodeValidation)
	}
	return nil
}

// EventType returns the parsed event type; Validate must have passed.
func (e Envelope) ParsedEventType() core.EventType {
	parsed, _ := core.ParseEventType(e.EventType)
	return parsed
}

// DedupeKey derives the store key for this delivery on behalf of a tenant.
func (e Envelope) DedupeKey(tenantID string) string {
	return core.DedupeKey(strings.TrimSpace(tenantID), e.ParsedEventType(), e.ResourceID, e.Timestamp)
}

// UpsertInput converts the envelope into the store input for a tenant.
func (e Envelope) UpsertInput(tenantID string) core.UpsertNotificationInput {
	return core.UpsertNotificationInput{
		TenantID:   strings.TrimSpace(tenantID),
		EventType:  e.ParsedEventType(),
		ResourceID: e.ResourceID,
		Timestamp:  e.Timestamp.UTC(),
		DedupeKey:  e.DedupeKey(tenantID),
	}
}
