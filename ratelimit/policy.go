package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State tracks what the provider last told us about one bucket, plus the
// local throttle window derived from it.
type State struct {
	Key            core.RateLimitKey
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
	Metadata       map[string]any
}

type StateStore interface {
	Get(ctx context.Context, key core.RateLimitKey) (State, error)
	Upsert(ctx context.Context, state State) error
}

// DefaultBucketKey is the admission bucket used when the caller does not
// override it: one bucket per provider and tenant.
func DefaultBucketKey(providerID string, tenantID string) string {
	return strings.TrimSpace(strings.ToLower(providerID)) + ":" + strings.TrimSpace(tenantID)
}

// ResourceBucketKey narrows the default bucket to one resource family, so a
// chatty feed (events) cannot starve order fetches under the same tenant.
func ResourceBucketKey(providerID string, tenantID string, resource string) string {
	resource = strings.TrimSpace(strings.ToLower(resource))
	if resource == "" {
		return DefaultBucketKey(providerID, tenantID)
	}
	return DefaultBucketKey(providerID, tenantID) + ":" + resource
}

type ThrottledError struct {
	ProviderID string
	TenantID   string
	BucketKey  string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: provider %q bucket %q throttled for %s",
		strings.TrimSpace(e.ProviderID),
		strings.TrimSpace(e.BucketKey),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToMarketplaceError() *goerrors.Error {
	metadata := map[string]any{
		"provider_id": strings.TrimSpace(e.ProviderID),
		"tenant_id":   strings.TrimSpace(e.TenantID),
		"bucket_key":  strings.TrimSpace(e.BucketKey),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorCodeRateLimited).
		WithMetadata(metadata)
}

// AdaptivePolicy admits or rejects calls based on the last observed provider
// response. A 429, or quota headers at or below the reserve floor, opens a
// throttle window; successful responses close it.
type AdaptivePolicy struct {
	Store StateStore
	Now   func() time.Time

	// ReserveFloor keeps the last N calls of a bucket's quota in reserve:
	// once the provider reports remaining <= floor the bucket throttles
	// until reset. Zero spends the quota to the last call.
	ReserveFloor int

	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DefaultRetryHint time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:            store,
		Now:              func() time.Time { return time.Now().UTC() },
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		DefaultRetryHint: 5 * time.Second,
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key core.RateLimitKey) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, err := p.Store.Get(ctx, normalizeKey(key))
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return p.reject(state, until.Sub(now))
	}
	if state.Remaining <= p.reserveFloor() && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return p.reject(state, state.ResetAt.Sub(now))
	}
	return nil
}

func (p *AdaptivePolicy) reject(state State, retryAfter time.Duration) error {
	return ThrottledError{
		ProviderID: state.Key.ProviderID,
		TenantID:   state.Key.TenantID,
		BucketKey:  state.Key.BucketKey,
		RetryAfter: retryAfter,
	}
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, key core.RateLimitKey, res core.ProviderResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Key: key}
	}

	state.LastStatus = res.StatusCode
	state.UpdatedAt = now
	state.Metadata = cloneMap(state.Metadata)
	for k, v := range cloneMap(res.Metadata) {
		state.Metadata[k] = v
	}

	quota := readQuota(res, now)
	quota.applyTo(&state)

	if res.StatusCode == http.StatusTooManyRequests {
		state.Attempts++
		delay := quota.retryAfter
		if !quota.hasRetryAfter {
			delay = p.nextBackoff(state.Attempts)
		}
		until := now.Add(delay)
		state.ThrottledUntil = &until
		return p.Store.Upsert(ctx, state)
	}

	// A 5xx says nothing about quota, so it neither opens nor clears the
	// window; the retry policy owns that failure mode. Depleted remaining
	// counts are enforced by BeforeCall against ResetAt.
	if res.StatusCode < 500 {
		state.Attempts = 0
		state.ThrottledUntil = nil
	}
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) reserveFloor() int {
	if p != nil && p.ReserveFloor > 0 {
		return p.ReserveFloor
	}
	return 0
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *AdaptivePolicy) nextBackoff(attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	if attempt <= 0 {
		return initial
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay <= 0 {
		return p.defaultRetryHint()
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

func (p *AdaptivePolicy) defaultRetryHint() time.Duration {
	if p != nil && p.DefaultRetryHint > 0 {
		return p.DefaultRetryHint
	}
	return 5 * time.Second
}

// quotaSnapshot is what one provider response said about the bucket's quota,
// read from the X-RateLimit-* and Retry-After headers.
type quotaSnapshot struct {
	limit         int
	hasLimit      bool
	remaining     int
	hasRemaining  bool
	resetAt       time.Time
	hasResetAt    bool
	retryAfter    time.Duration
	hasRetryAfter bool
}

func readQuota(res core.ProviderResponseMeta, now time.Time) quotaSnapshot {
	quota := quotaSnapshot{}
	quota.limit, quota.hasLimit = parseHeaderInt(res.Headers, "x-ratelimit-limit")
	quota.remaining, quota.hasRemaining = parseHeaderInt(res.Headers, "x-ratelimit-remaining")
	if unix, ok := parseHeaderInt64(res.Headers, "x-ratelimit-reset"); ok && unix > 0 {
		quota.resetAt = time.Unix(unix, 0).UTC()
		quota.hasResetAt = true
	}
	quota.retryAfter, quota.hasRetryAfter = parseRetryAfter(res, now)
	return quota
}

func (q quotaSnapshot) applyTo(state *State) {
	if q.hasLimit {
		state.Limit = q.limit
	}
	if q.hasRemaining {
		state.Remaining = q.remaining
	}
	if q.hasResetAt {
		resetAt := q.resetAt
		state.ResetAt = &resetAt
	}
	if q.hasRetryAfter {
		retryAfter := q.retryAfter
		state.RetryAfter = &retryAfter
	} else {
		state.RetryAfter = nil
	}
}

func parseRetryAfter(res core.ProviderResponseMeta, now time.Time) (time.Duration, bool) {
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		return *res.RetryAfter, true
	}
	raw := headerValue(res.Headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := httpDate(raw); err == nil {
		if retryAt.After(now) {
			return retryAt.Sub(now), true
		}
	}
	return 0, false
}

func parseHeaderInt(headers map[string]string, key string) (int, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func parseHeaderInt64(headers map[string]string, key string) (int64, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func httpDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("ratelimit: empty date")
	}
	if parsed, err := time.Parse(time.RFC1123, value); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC1123Z, value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("ratelimit: invalid http date")
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func normalizeKey(key core.RateLimitKey) core.RateLimitKey {
	return core.RateLimitKey{
		ProviderID: strings.TrimSpace(strings.ToLower(key.ProviderID)),
		TenantID:   strings.TrimSpace(key.TenantID),
		BucketKey:  strings.TrimSpace(strings.ToLower(key.BucketKey)),
	}
}

func cloneMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key core.RateLimitKey) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	normalized := normalizeKey(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[stateKey(normalized)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	state.Metadata = cloneMap(state.Metadata)
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = normalizeKey(state.Key)
	state.Metadata = cloneMap(state.Metadata)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[stateKey(state.Key)] = state
	return nil
}

func stateKey(key core.RateLimitKey) string {
	return key.ProviderID + "|" + key.TenantID + "|" + key.BucketKey
}

var _ core.RateLimitPolicy = (*AdaptivePolicy)(nil)
