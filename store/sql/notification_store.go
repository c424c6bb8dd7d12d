package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-marketplace/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const staleLeaseError = "processing lease expired"

// NotificationStore persists notification state keyed by dedupe key. Status
// legality is the processor's concern; Transition applies patches as given.
type NotificationStore struct {
	db   *bun.DB
	repo repository.Repository[*notificationRecord]
}

func NewNotificationStore(db *bun.DB) (*NotificationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*notificationRecord](db, notificationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid notification repository wiring: %w", err)
		}
	}
	return &NotificationStore{
		db:   db,
		repo: repo,
	}, nil
}

// Upsert inserts a pending row for an unseen dedupe key. Re-deliveries of
// pending or failed rows reset the retry counter; rows in flight or finished
// are returned untouched.
func (s *NotificationStore) Upsert(ctx context.Context, in core.UpsertNotificationInput) (core.Notification, error) {
	if s == nil || s.db == nil {
		return core.Notification{}, fmt.Errorf("sqlstore: notification store is not configured")
	}
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.DedupeKey = strings.TrimSpace(in.DedupeKey)
	if err := validateUpsertInput(in); err != nil {
		return core.Notification{}, err
	}

	var out core.Notification
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		record, err := findNotificationByDedupeKeyTx(ctx, tx, in.DedupeKey)
		if err != nil {
			return err
		}
		if record == nil {
			record = &notificationRecord{
				ID:         uuid.NewString(),
				TenantID:   in.TenantID,
				EventType:  string(in.EventType),
				ResourceID: in.ResourceID,
				OccurredAt: in.Timestamp.UTC(),
				DedupeKey:  in.DedupeKey,
				Status:     string(core.NotificationStatusPending),
				Attempts:   0,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if !isUniqueViolation(insertErr) {
					return insertErr
				}
				// Lost the insert race; fall through to the existing row.
				record, err = findNotificationByDedupeKeyTx(ctx, tx, in.DedupeKey)
				if err != nil {
					return err
				}
				if record == nil {
					return insertErr
				}
			} else {
				out = record.toDomain()
				return nil
			}
		}

		switch core.NotificationStatus(record.Status) {
		case core.NotificationStatusPending, core.NotificationStatusFailed:
			record.Attempts = 0
			record.LastError = ""
			record.UpdatedAt = now
			if _, updateErr := tx.NewUpdate().
				Model(record).
				Where("id = ?", record.ID).
				Exec(ctx); updateErr != nil {
				return updateErr
			}
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Notification{}, err
	}
	return out, nil
}

func (s *NotificationStore) Transition(ctx context.Context, id string, patch core.NotificationTransition) (core.Notification, error) {
	if s == nil || s.db == nil {
		return core.Notification{}, fmt.Errorf("sqlstore: notification store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Notification{}, core.ErrNotificationNotFound
	}

	var out core.Notification
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &notificationRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.id = ?", id).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if err == sql.ErrNoRows {
				return core.ErrNotificationNotFound
			}
			return err
		}

		record.Status = string(patch.Status)
		if patch.Attempts != nil {
			record.Attempts = *patch.Attempts
		}
		if patch.LastError != nil {
			record.LastError = *patch.LastError
		}
		if patch.ProcessedAt != nil {
			processedAt := patch.ProcessedAt.UTC()
			record.ProcessedAt = &processedAt
		}
		record.UpdatedAt = time.Now().UTC()
		if _, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Notification{}, err
	}
	return out, nil
}

func (s *NotificationStore) Get(ctx context.Context, id string) (core.Notification, error) {
	if s == nil || s.db == nil {
		return core.Notification{}, fmt.Errorf("sqlstore: notification store is not configured")
	}
	record := &notificationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Notification{}, core.ErrNotificationNotFound
		}
		return core.Notification{}, err
	}
	return record.toDomain(), nil
}

func (s *NotificationStore) ListByStatus(
	ctx context.Context,
	tenantID string,
	status core.NotificationStatus,
	limit int,
) ([]core.Notification, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: notification store is not configured")
	}
	records := []*notificationRecord{}
	query := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(status)).
		OrderExpr("?TableAlias.created_at ASC")
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		query = query.Where("?TableAlias.tenant_id = ?", tenantID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.Notification, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// ReleaseStale moves processing rows older than the cutoff back to failed so
// the poller can pick up work abandoned by a crashed worker.
func (s *NotificationStore) ReleaseStale(ctx context.Context, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: notification store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*notificationRecord)(nil)).
		Set("status = ?", string(core.NotificationStatusFailed)).
		Set("last_error = ?", staleLeaseError).
		Set("updated_at = ?", time.Now().UTC()).
		Where("status = ?", string(core.NotificationStatusProcessing)).
		Where("updated_at < ?", olderThan.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (r *notificationRecord) toDomain() core.Notification {
	if r == nil {
		return core.Notification{}
	}
	notification := core.Notification{
		ID:         r.ID,
		TenantID:   r.TenantID,
		EventType:  core.EventType(r.EventType),
		ResourceID: r.ResourceID,
		Timestamp:  r.OccurredAt.UTC(),
		DedupeKey:  r.DedupeKey,
		Status:     core.NotificationStatus(r.Status),
		Attempts:   r.Attempts,
		LastError:  r.LastError,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.ProcessedAt != nil {
		value := r.ProcessedAt.UTC()
		notification.ProcessedAt = &value
	}
	return notification
}

func findNotificationByDedupeKeyTx(ctx context.Context, tx bun.Tx, dedupeKey string) (*notificationRecord, error) {
	record := &notificationRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.dedupe_key = ?", dedupeKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func validateUpsertInput(in core.UpsertNotificationInput) error {
	if in.TenantID == "" {
		return fmt.Errorf("sqlstore: tenant id is required")
	}
	if _, err := core.ParseEventType(string(in.EventType)); err != nil {
		return err
	}
	if in.ResourceID <= 0 {
		return fmt.Errorf("sqlstore: resource id must be positive")
	}
	if in.Timestamp.IsZero() {
		return fmt.Errorf("sqlstore: timestamp is required")
	}
	if in.DedupeKey == "" {
		return fmt.Errorf("sqlstore: dedupe key is required")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
