package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotificationNotFound                = errors.New("core: notification not found")
	ErrTenantNotFound                      = errors.New("core: tenant not found")
	ErrInvalidEventType                    = errors.New("core: invalid event type")
	ErrInvalidNotificationStatusTransition = errors.New("core: invalid notification status transition")
)

type EventType string

const (
	EventTypeOrder    EventType = "Order"
	EventTypeMessage  EventType = "Message"
	EventTypeFeedback EventType = "Feedback"
)

func ParseEventType(value string) (EventType, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "order":
		return EventTypeOrder, nil
	case "message":
		return EventTypeMessage, nil
	case "feedback":
		return EventTypeFeedback, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, value)
	}
}

type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "pending"
	NotificationStatusProcessing NotificationStatus = "processing"
	NotificationStatusCompleted  NotificationStatus = "completed"
	NotificationStatusFailed     NotificationStatus = "failed"
	NotificationStatusDeadLetter NotificationStatus = "dead_letter"
)

func (s NotificationStatus) Terminal() bool {
	return s == NotificationStatusCompleted || s == NotificationStatusDeadLetter
}

// NotificationTransitionAllowed reports whether the processor state machine
// permits moving a notification from current to next.
func NotificationTransitionAllowed(current, next NotificationStatus) bool {
	allowed := map[NotificationStatus]map[NotificationStatus]struct{}{
		NotificationStatusPending: {
			NotificationStatusProcessing: {},
		},
		NotificationStatusProcessing: {
			NotificationStatusCompleted: {},
			NotificationStatusFailed:    {},
		},
		NotificationStatusFailed: {
			NotificationStatusProcessing: {},
			NotificationStatusDeadLetter: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

type Notification struct {
	ID          string
	TenantID    string
	EventType   EventType
	ResourceID  int64
	Timestamp   time.Time
	DedupeKey   string
	Status      NotificationStatus
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}

// DedupeKey joins the identity of a delivery into the deterministic key that
// collapses webhook and poll sightings of the same event to one row.
func DedupeKey(tenantID string, eventType EventType, resourceID int64, timestamp time.Time) string {
	return strings.Join([]string{
		strings.TrimSpace(tenantID),
		strings.ToLower(string(eventType)),
		strconv.FormatInt(resourceID, 10),
		timestamp.UTC().Format(time.RFC3339),
	}, ":")
}

// Credentials is the OAuth1 credential set for one tenant on one provider.
// Values are opaque and must never reach logs or error metadata.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	TokenValue     string
	TokenSecret    string
}

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.ConsumerKey) == "" {
		return fmt.Errorf("core: consumer key is required")
	}
	if strings.TrimSpace(c.ConsumerSecret) == "" {
		return fmt.Errorf("core: consumer secret is required")
	}
	return nil
}

// ProviderEvent is one unread event reported by the provider's event feed.
type ProviderEvent struct {
	EventType  EventType
	ResourceID int64
	Timestamp  time.Time
}

type Tenant struct {
	ID           string
	Name         string
	Active       bool
	WebhookToken string
}

type Throttle struct {
	Limit     int
	Remaining int
	ResetAt   *time.Time
}
