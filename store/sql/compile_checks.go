package sqlstore

import (
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/ratelimit"
)

var (
	_ core.NotificationStore = (*NotificationStore)(nil)
	_ ratelimit.StateStore   = (*RateLimitStateStore)(nil)
	_ ratelimit.StateStore   = (*CachedRateLimitStateStore)(nil)
)
