package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/ratelimit"
	"github.com/google/uuid"
)

const defaultUserAgent = "go-marketplace/1.0"

// ExecuteArgs describes one signed provider call. Body accepts nil, []byte,
// string, url.Values (form encoded), or any JSON-marshalable value.
type ExecuteArgs struct {
	TenantID      string
	Method        string
	Path          string
	Query         map[string]string
	Headers       map[string]string
	Body          any
	Credentials   *core.Credentials
	BucketKey     string
	CorrelationID string
	Timeout       time.Duration
	Observer      core.AttemptObserver
}

// Executor owns the request pipeline: credential resolution, header and
// correlation stamping, rate limit admission, the retry loop, and mapping the
// final outcome into the shared result envelope or the error taxonomy.
type Executor struct {
	Transport   core.RequestTransport
	Credentials core.CredentialProvider
	RateLimit   core.RateLimitPolicy
	Retry       core.RetryPolicy
	ProviderID  string
	Runtime     *core.Runtime
	Sleep       func(ctx context.Context, d time.Duration) error
	NewID       func() string
}

func NewExecutor(transport core.RequestTransport, credentials core.CredentialProvider, providerID string) *Executor {
	return &Executor{
		Transport:   transport,
		Credentials: credentials,
		Retry:       NewExponentialRetryPolicy(),
		ProviderID:  strings.TrimSpace(providerID),
	}
}

func (e *Executor) Execute(ctx context.Context, args ExecuteArgs) (core.RequestResult, error) {
	if e == nil || e.Transport == nil {
		return core.RequestResult{}, transportError(
			"transport: executor requires a transport",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tenantID := strings.TrimSpace(args.TenantID)
	if tenantID == "" {
		return core.RequestResult{}, transportError(
			"transport: tenant id is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			nil,
		)
	}
	if strings.TrimSpace(args.Path) == "" {
		return core.RequestResult{}, transportError(
			"transport: request path is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"tenant_id": tenantID},
		)
	}

	cred, err := e.resolveCredentials(ctx, tenantID, args.Credentials)
	if err != nil {
		return core.RequestResult{}, err
	}

	correlationID := strings.TrimSpace(args.CorrelationID)
	if correlationID == "" {
		correlationID = e.newID()
	}

	body, contentType, err := encodeBody(args.Body)
	if err != nil {
		return core.RequestResult{}, err
	}

	headers := map[string]string{
		"Accept":           "application/json",
		"User-Agent":       defaultUserAgent,
		"X-Correlation-Id": correlationID,
	}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	for key, value := range args.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		headers[strings.TrimSpace(key)] = value
	}

	bucketKey := strings.TrimSpace(args.BucketKey)
	if bucketKey == "" {
		bucketKey = ratelimit.DefaultBucketKey(e.ProviderID, tenantID)
	}
	rateKey := core.RateLimitKey{
		ProviderID: e.ProviderID,
		TenantID:   tenantID,
		BucketKey:  bucketKey,
	}

	request := core.SignedRequest{
		Method:        args.Method,
		Path:          args.Path,
		Query:         args.Query,
		Headers:       headers,
		Body:          body,
		Credentials:   cred,
		CorrelationID: correlationID,
		Timeout:       args.Timeout,
	}

	startedAt := time.Now().UTC()
	totalAttempts := 0

	// The managed transport owns admission and retries; running the local
	// policy and retry loop on top of it would double both.
	managed := e.Transport.Kind() == KindManaged

	for attempt := 1; ; attempt++ {
		if !managed {
			if err := e.beforeCall(ctx, rateKey); err != nil {
				e.observe(ctx, startedAt, tenantID, correlationID, totalAttempts, 0, err)
				return core.RequestResult{}, err
			}
		}

		result, execErr := e.Transport.Execute(ctx, request)
		if execErr != nil {
			totalAttempts++
			e.notify(args.Observer, attempt, 0, execErr)
			if !managed && e.shouldRetry(attempt, 0, execErr) {
				if waitErr := e.wait(ctx, e.nextDelay(attempt, nil)); waitErr != nil {
					return core.RequestResult{}, waitErr
				}
				continue
			}
			e.observe(ctx, startedAt, tenantID, correlationID, totalAttempts, 0, execErr)
			return core.RequestResult{}, execErr
		}

		if result.Attempts > 0 {
			totalAttempts += result.Attempts
		} else {
			totalAttempts++
		}

		retryAfter := deriveRetryAfter(result)
		if afterErr := e.afterCall(ctx, rateKey, result, retryAfter); afterErr != nil {
			e.logAfterCallFailure(ctx, tenantID, correlationID, afterErr)
		}
		e.notify(args.Observer, attempt, result.StatusCode, nil)

		if result.StatusCode >= 200 && result.StatusCode < 300 {
			final := buildResult(result, correlationID, totalAttempts, startedAt)
			e.observe(ctx, startedAt, tenantID, correlationID, totalAttempts, result.StatusCode, nil)
			return final, nil
		}

		if !managed && e.shouldRetry(attempt, result.StatusCode, nil) {
			if waitErr := e.wait(ctx, e.nextDelay(attempt, retryAfter)); waitErr != nil {
				return core.RequestResult{}, waitErr
			}
			continue
		}

		final := buildResult(result, correlationID, totalAttempts, startedAt)
		mapped := statusError(result, correlationID, totalAttempts, retryAfter)
		e.observe(ctx, startedAt, tenantID, correlationID, totalAttempts, result.StatusCode, mapped)
		return final, mapped
	}
}

func (e *Executor) resolveCredentials(ctx context.Context, tenantID string, override *core.Credentials) (core.Credentials, error) {
	if override != nil {
		if err := override.Validate(); err != nil {
			return core.Credentials{}, transportWrapError(
				err,
				goerrors.CategoryAuth,
				"transport: invalid credentials",
				http.StatusUnauthorized,
				map[string]any{"tenant_id": tenantID},
			)
		}
		return *override, nil
	}
	if e.Credentials == nil {
		return core.Credentials{}, transportError(
			"transport: executor requires a credential provider",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"tenant_id": tenantID},
		)
	}
	cred, err := e.Credentials.GetCredentials(ctx, tenantID)
	if err != nil {
		return core.Credentials{}, transportWrapError(
			err,
			goerrors.CategoryAuth,
			"transport: resolve credentials",
			http.StatusUnauthorized,
			map[string]any{"tenant_id": tenantID},
		)
	}
	if err := cred.Validate(); err != nil {
		return core.Credentials{}, transportWrapError(
			err,
			goerrors.CategoryAuth,
			"transport: invalid credentials",
			http.StatusUnauthorized,
			map[string]any{"tenant_id": tenantID},
		)
	}
	return cred, nil
}

func (e *Executor) beforeCall(ctx context.Context, key core.RateLimitKey) error {
	if e.RateLimit == nil {
		return nil
	}
	err := e.RateLimit.BeforeCall(ctx, key)
	if err == nil {
		return nil
	}
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		return throttled.ToMarketplaceError()
	}
	return err
}

func (e *Executor) afterCall(ctx context.Context, key core.RateLimitKey, result core.TransportResult, retryAfter *time.Duration) error {
	if e.RateLimit == nil {
		return nil
	}
	return e.RateLimit.AfterCall(ctx, key, core.ProviderResponseMeta{
		StatusCode: result.StatusCode,
		Headers:    result.Headers,
		RetryAfter: retryAfter,
		Metadata:   result.Metadata,
	})
}

func (e *Executor) shouldRetry(attempt int, status int, err error) bool {
	policy := e.Retry
	if policy == nil {
		policy = NewExponentialRetryPolicy()
	}
	return policy.ShouldRetry(attempt, status, err)
}

func (e *Executor) nextDelay(attempt int, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil && *retryAfter > 0 {
		return *retryAfter
	}
	policy := e.Retry
	if policy == nil {
		policy = NewExponentialRetryPolicy()
	}
	return policy.NextDelay(attempt)
}

func (e *Executor) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if e.Sleep != nil {
		return e.Sleep(ctx, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) newID() string {
	if e != nil && e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Executor) notify(observer core.AttemptObserver, attempt int, status int, err error) {
	if observer != nil {
		observer(attempt, status, err)
	}
}

func (e *Executor) observe(ctx context.Context, startedAt time.Time, tenantID string, correlationID string, attempts int, status int, err error) {
	if e == nil || e.Runtime == nil {
		return
	}
	e.Runtime.ObserveOperation(ctx, startedAt, "request_execute", err, map[string]any{
		"provider_id":    e.ProviderID,
		"tenant_id":      tenantID,
		"correlation_id": correlationID,
		"attempts":       attempts,
		"status_code":    status,
	})
}

func (e *Executor) logAfterCallFailure(ctx context.Context, tenantID string, correlationID string, err error) {
	if e == nil || e.Runtime == nil {
		return
	}
	e.Runtime.LogError(ctx, "rate limit state update failed", map[string]any{
		"provider_id":    e.ProviderID,
		"tenant_id":      tenantID,
		"correlation_id": correlationID,
		"error":          err.Error(),
	})
}

func encodeBody(body any) ([]byte, string, error) {
	switch value := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return value, "", nil
	case string:
		return []byte(value), "", nil
	case url.Values:
		return []byte(value.Encode()), "application/x-www-form-urlencoded", nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, "", transportWrapError(
				err,
				goerrors.CategoryBadInput,
				"transport: encode request body",
				http.StatusBadRequest,
				nil,
			)
		}
		return encoded, "application/json", nil
	}
}

func buildResult(result core.TransportResult, correlationID string, attempts int, startedAt time.Time) core.RequestResult {
	return core.RequestResult{
		OK:            result.StatusCode >= 200 && result.StatusCode < 300,
		Status:        result.StatusCode,
		Data:          decodeData(result.Body),
		Headers:       result.Headers,
		CorrelationID: correlationID,
		DurationMS:    time.Since(startedAt).Milliseconds(),
		Attempts:      attempts,
		Throttle:      throttleFromResult(result),
		RawBody:       result.Body,
	}
}

// decodeData prefers structured JSON; anything else comes back as the raw
// text so callers still see the provider's words.
func decodeData(body []byte) any {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return decoded
	}
	return trimmed
}

func throttleFromResult(result core.TransportResult) *core.Throttle {
	if result.Throttle != nil {
		return result.Throttle
	}
	limit, hasLimit := headerInt(result.Headers, "x-ratelimit-limit")
	remaining, hasRemaining := headerInt(result.Headers, "x-ratelimit-remaining")
	if !hasLimit && !hasRemaining {
		return nil
	}
	throttle := &core.Throttle{Limit: limit, Remaining: remaining}
	if raw := headerValue(result.Headers, "x-ratelimit-reset"); raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
			resetAt := time.Unix(unix, 0).UTC()
			throttle.ResetAt = &resetAt
		}
	}
	return throttle
}

// deriveRetryAfter checks, in priority order: the structured throttle state,
// the Retry-After header, then `errors[0].retry_after` seconds in the body.
func deriveRetryAfter(result core.TransportResult) *time.Duration {
	if result.Throttle != nil && result.Throttle.ResetAt != nil {
		if until := time.Until(*result.Throttle.ResetAt); until > 0 {
			return &until
		}
	}
	if raw := headerValue(result.Headers, "retry-after"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			return &delay
		}
	}
	if delay, ok := bodyRetryAfter(result.Body); ok {
		return &delay
	}
	return nil
}

func bodyRetryAfter(body []byte) (time.Duration, bool) {
	if len(body) == 0 {
		return 0, false
	}
	var envelope struct {
		Errors []struct {
			RetryAfter float64 `json:"retry_after"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0, false
	}
	if len(envelope.Errors) == 0 || envelope.Errors[0].RetryAfter <= 0 {
		return 0, false
	}
	return time.Duration(envelope.Errors[0].RetryAfter * float64(time.Second)), true
}

func statusError(result core.TransportResult, correlationID string, attempts int, retryAfter *time.Duration) error {
	metadata := map[string]any{
		"status_code":    result.StatusCode,
		"correlation_id": correlationID,
		"attempts":       attempts,
	}
	if retryAfter != nil && *retryAfter > 0 {
		metadata["retry_after_ms"] = retryAfter.Milliseconds()
	}
	message := fmt.Sprintf("transport: provider responded with status %d", result.StatusCode)
	return transportError(message, core.CategoryForStatus(result.StatusCode), result.StatusCode, metadata)
}

func headerInt(headers map[string]string, key string) (int, bool) {
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
