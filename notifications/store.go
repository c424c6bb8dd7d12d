package notifications

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-marketplace/core"
	"github.com/google/uuid"
)

// MemoryStore is the in-process reference implementation of the notification
// store, keyed by dedupe key. It mirrors the SQL store's upsert semantics:
// re-deliveries of pending or failed rows reset the retry counter, rows in
// flight or finished are left untouched.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]core.Notification
	byKey map[string]string
	Now   func() time.Time
	NewID func() string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  map[string]core.Notification{},
		byKey: map[string]string{},
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, in core.UpsertNotificationInput) (core.Notification, error) {
	if s == nil {
		return core.Notification{}, fmt.Errorf("notifications: store is not configured")
	}
	if err := validateUpsertInput(in); err != nil {
		return core.Notification{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.byKey[in.DedupeKey]; ok {
		existing := s.byID[id]
		switch existing.Status {
		case core.NotificationStatusPending, core.NotificationStatusFailed:
			existing.Attempts = 0
			existing.LastError = ""
			existing.UpdatedAt = now
			s.byID[id] = existing
		}
		return existing, nil
	}

	notification := core.Notification{
		ID:         s.newID(),
		TenantID:   in.TenantID,
		EventType:  in.EventType,
		ResourceID: in.ResourceID,
		Timestamp:  in.Timestamp.UTC(),
		DedupeKey:  in.DedupeKey,
		Status:     core.NotificationStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.byID[notification.ID] = notification
	s.byKey[notification.DedupeKey] = notification.ID
	return notification, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, patch core.NotificationTransition) (core.Notification, error) {
	if s == nil {
		return core.Notification{}, fmt.Errorf("notifications: store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	notification, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return core.Notification{}, core.ErrNotificationNotFound
	}

	notification.Status = patch.Status
	if patch.Attempts != nil {
		notification.Attempts = *patch.Attempts
	}
	if patch.LastError != nil {
		notification.LastError = *patch.LastError
	}
	if patch.ProcessedAt != nil {
		processedAt := patch.ProcessedAt.UTC()
		notification.ProcessedAt = &processedAt
	}
	notification.UpdatedAt = s.now()
	s.byID[notification.ID] = notification
	return notification, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (core.Notification, error) {
	if s == nil {
		return core.Notification{}, fmt.Errorf("notifications: store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	notification, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return core.Notification{}, core.ErrNotificationNotFound
	}
	return notification, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, tenantID string, status core.NotificationStatus, limit int) ([]core.Notification, error) {
	if s == nil {
		return nil, fmt.Errorf("notifications: store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID = strings.TrimSpace(tenantID)
	matches := make([]core.Notification, 0)
	for _, notification := range s.byID {
		if tenantID != "" && notification.TenantID != tenantID {
			continue
		}
		if notification.Status != status {
			continue
		}
		matches = append(matches, notification)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// ReleaseStale moves processing rows older than the cutoff back to failed so
// the poller can pick up work abandoned by a crashed worker.
func (s *MemoryStore) ReleaseStale(_ context.Context, olderThan time.Time) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("notifications: store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	now := s.now()
	for id, notification := range s.byID {
		if notification.Status != core.NotificationStatusProcessing {
			continue
		}
		if !notification.UpdatedAt.Before(olderThan) {
			continue
		}
		notification.Status = core.NotificationStatusFailed
		notification.LastError = "processing lease expired"
		notification.UpdatedAt = now
		s.byID[id] = notification
		released++
	}
	return released, nil
}

func (s *MemoryStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MemoryStore) newID() string {
	if s != nil && s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func validateUpsertInput(in core.UpsertNotificationInput) error {
	if strings.TrimSpace(in.TenantID) == "" {
		return fmt.Errorf("notifications: tenant id is required")
	}
	if _, err := core.ParseEventType(string(in.EventType)); err != nil {
		return err
	}
	if in.ResourceID <= 0 {
		return fmt.Errorf("notifications: resource id must be positive")
	}
	if in.Timestamp.IsZero() {
		return fmt.Errorf("notifications: timestamp is required")
	}
	if strings.TrimSpace(in.DedupeKey) == "" {
		return fmt.Errorf("notifications: dedupe key is required")
	}
	return nil
}

var _ core.NotificationStore = (*MemoryStore)(nil)
