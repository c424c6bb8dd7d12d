package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type notificationRecord struct {
	bun.BaseModel `bun:"table:marketplace_notifications,alias:mn"`

	ID          string     `bun:"id,pk"`
	TenantID    string     `bun:"tenant_id,notnull"`
	EventType   string     `bun:"event_type,notnull"`
	ResourceID  int64      `bun:"resource_id,notnull"`
	OccurredAt  time.Time  `bun:"occurred_at,notnull"`
	DedupeKey   string     `bun:"dedupe_key,notnull,unique"`
	Status      string     `bun:"status,notnull"`
	Attempts    int        `bun:"attempts,notnull"`
	LastError   string     `bun:"last_error"`
	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	ProcessedAt *time.Time `bun:"processed_at,nullzero"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:marketplace_rate_limit_state,alias:mrl"`

	ID         string         `bun:"id,pk"`
	ProviderID string         `bun:"provider_id,notnull"`
	TenantID   string         `bun:"tenant_id,notnull"`
	BucketKey  string         `bun:"bucket_key,notnull"`
	Limit      int            `bun:"rate_limit,notnull"`
	Remaining  int            `bun:"remaining,notnull"`
	ResetAt    *time.Time     `bun:"reset_at,nullzero"`
	RetryAfter *int           `bun:"retry_after_seconds,nullzero"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
