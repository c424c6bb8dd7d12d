package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorCodeAuthentication  = "MARKETPLACE_AUTHENTICATION_ERROR"
	ErrorCodeRateLimited     = "MARKETPLACE_RATE_LIMITED"
	ErrorCodeBadRequest      = "MARKETPLACE_BAD_REQUEST"
	ErrorCodeUpstreamFailure = "MARKETPLACE_UPSTREAM_FAILURE"
	ErrorCodeValidation      = "MARKETPLACE_VALIDATION_ERROR"
	ErrorCodeInvalidResponse = "MARKETPLACE_INVALID_RESPONSE"
	ErrorCodeNotFound        = "MARKETPLACE_NOT_FOUND"
	ErrorCodeUnknown         = "MARKETPLACE_UNKNOWN_ERROR"
)

// CategoryForStatus maps an upstream HTTP status into the error taxonomy.
func CategoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status >= 400 && status < 500:
		return goerrors.CategoryBadInput
	case status >= 500:
		return goerrors.CategoryExternal
	default:
		return goerrors.CategoryInternal
	}
}

// TextCodeForStatus maps an upstream HTTP status into the stable text codes
// callers dispatch on: 401 authentication, 429 rate limited, other 4xx bad
// request, 5xx upstream failure, anything else unknown.
func TextCodeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return ErrorCodeAuthentication
	case status == http.StatusTooManyRequests:
		return ErrorCodeRateLimited
	case status >= 400 && status < 500:
		return ErrorCodeBadRequest
	case status >= 500:
		return ErrorCodeUpstreamFailure
	default:
		return ErrorCodeUnknown
	}
}

func marketplaceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureMarketplaceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return newMarketplaceError(err.Error(), goerrors.CategoryNotFound, ErrorCodeNotFound)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newMarketplaceError(err.Error(), goerrors.CategoryRateLimit, ErrorCodeRateLimited)
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "signature"), strings.Contains(msg, "credential"):
		return newMarketplaceError(err.Error(), goerrors.CategoryAuth, ErrorCodeAuthentication)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return newMarketplaceError(err.Error(), goerrors.CategoryBadInput, ErrorCodeBadRequest)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureMarketplaceErrorEnvelope(mapped)
}

func newMarketplaceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureMarketplaceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureMarketplaceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = marketplaceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultMarketplaceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultMarketplaceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return ErrorCodeBadRequest
	case goerrors.CategoryValidation:
		return ErrorCodeValidation
	case goerrors.CategoryNotFound:
		return ErrorCodeNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorCodeAuthentication
	case goerrors.CategoryRateLimit:
		return ErrorCodeRateLimited
	case goerrors.CategoryExternal:
		return ErrorCodeUpstreamFailure
	default:
		return ErrorCodeUnknown
	}
}

func marketplaceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
