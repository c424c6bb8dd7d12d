package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
)

const KindSelfSigned = "self_signed"

const defaultClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SelfSignedTransport signs each request in-process with the tenant's OAuth1
// credentials and performs exactly one HTTP exchange. Retries belong to the
// executor above it.
type SelfSignedTransport struct {
	Client               HTTPDoer
	Signer               core.Signer
	BaseURL              string
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewSelfSignedTransport(client HTTPDoer, signer core.Signer, baseURL string) *SelfSignedTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &SelfSignedTransport{
		Client:               client,
		Signer:               signer,
		BaseURL:              strings.TrimSpace(baseURL),
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (*SelfSignedTransport) Kind() string {
	return KindSelfSigned
}

func (t *SelfSignedTransport) Execute(ctx context.Context, req core.SignedRequest) (core.TransportResult, error) {
	if t == nil || t.Client == nil {
		return core.TransportResult{}, transportError(
			"transport: self-signed transport requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"transport": KindSelfSigned},
		)
	}
	if t.Signer == nil {
		return core.TransportResult{}, transportError(
			"transport: self-signed transport requires a signer",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"transport": KindSelfSigned},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	requestURL, err := t.resolveURL(req.Path, req.Query)
	if err != nil {
		return core.TransportResult{}, err
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, requestURL, bytes.NewReader(req.Body))
	if err != nil {
		return core.TransportResult{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"transport": KindSelfSigned, "method": method, "url": requestURL},
		)
	}
	for key, value := range t.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	if err := t.Signer.Sign(ctx, httpReq, req.Credentials); err != nil {
		return core.TransportResult{}, transportWrapError(
			err,
			goerrors.CategoryAuth,
			"transport: sign request",
			http.StatusUnauthorized,
			map[string]any{"transport": KindSelfSigned, "method": method},
		)
	}

	startedAt := time.Now().UTC()
	httpRes, err := t.Client.Do(httpReq)
	if err != nil {
		return core.TransportResult{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"transport": KindSelfSigned, "method": method, "url": requestURL},
		)
	}
	defer httpRes.Body.Close()

	maxBodyBytes := t.MaxResponseBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		return core.TransportResult{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"transport": KindSelfSigned, "status_code": httpRes.StatusCode},
		)
	}
	if int64(len(body)) > maxBodyBytes {
		return core.TransportResult{}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", maxBodyBytes),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{
				"transport":        KindSelfSigned,
				"status_code":      httpRes.StatusCode,
				"response_limit_b": maxBodyBytes,
			},
		)
	}

	return core.TransportResult{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Attempts:   1,
		Metadata: map[string]any{
			"duration_ms": time.Since(startedAt).Milliseconds(),
			"transport":   KindSelfSigned,
		},
	}, nil
}

func (t *SelfSignedTransport) resolveURL(path string, query map[string]string) (string, error) {
	base := strings.TrimSpace(t.BaseURL)
	raw := strings.TrimSpace(path)
	if base != "" {
		raw = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(raw, "/")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid request url",
			http.StatusBadRequest,
			map[string]any{"transport": KindSelfSigned, "url": raw},
		)
	}
	if parsed.String() == "" {
		return "", transportError(
			"transport: request url is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"transport": KindSelfSigned},
		)
	}
	values := parsed.Query()
	for key, value := range query {
		if strings.TrimSpace(key) == "" {
			continue
		}
		values.Set(strings.TrimSpace(key), value)
	}
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			flat[key] = ""
			continue
		}
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

var _ core.RequestTransport = (*SelfSignedTransport)(nil)
