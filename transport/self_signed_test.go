package transport

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/oauth1"
)

type stubDoer struct {
	response *http.Response
	err      error
	last     *http.Request
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.last = req
	if d.err != nil {
		return nil, d.err
	}
	if d.response == nil {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("{}")),
		}, nil
	}
	return d.response, nil
}

func testSigner() *oauth1.Signer {
	return &oauth1.Signer{
		Nonce: func() string { return "nonce" },
		Now:   func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func TestSelfSignedAttachesAuthorization(t *testing.T) {
	doer := &stubDoer{}
	transport := NewSelfSignedTransport(doer, testSigner(), "https://api.example.com")

	result, err := transport.Execute(context.Background(), core.SignedRequest{
		Method:      http.MethodGet,
		Path:        "/orders/555",
		Query:       map[string]string{"detail": "full"},
		Credentials: validCredentials(),
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", result.StatusCode)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected single attempt, got %d", result.Attempts)
	}

	if doer.last == nil {
		t.Fatal("expected an outbound request")
	}
	auth := doer.last.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "OAuth ") {
		t.Fatalf("expected OAuth header, got %q", auth)
	}
	if !strings.Contains(auth, `oauth_consumer_key="ck"`) {
		t.Fatalf("expected consumer key in header, got %q", auth)
	}
	if doer.last.URL.String() != "https://api.example.com/orders/555?detail=full" {
		t.Fatalf("unexpected request url %s", doer.last.URL)
	}
}

func TestSelfSignedRejectsInvalidCredentials(t *testing.T) {
	transport := NewSelfSignedTransport(&stubDoer{}, testSigner(), "https://api.example.com")

	_, err := transport.Execute(context.Background(), core.SignedRequest{
		Method:      http.MethodGet,
		Path:        "/orders",
		Credentials: core.Credentials{ConsumerKey: "ck"},
	})
	if err == nil {
		t.Fatal("expected signing failure")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryAuth {
		t.Fatalf("expected auth category, got %v", err)
	}
}

func TestSelfSignedEnforcesResponseBodyLimit(t *testing.T) {
	doer := &stubDoer{response: &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(strings.Repeat("x", 64))),
	}}
	transport := NewSelfSignedTransport(doer, testSigner(), "https://api.example.com")
	transport.MaxResponseBodyBytes = 16

	_, err := transport.Execute(context.Background(), core.SignedRequest{
		Method:      http.MethodGet,
		Path:        "/orders",
		Credentials: validCredentials(),
	})
	if err == nil {
		t.Fatal("expected oversized response to error")
	}
}

func TestSelfSignedWrapsNetworkFailures(t *testing.T) {
	doer := &stubDoer{err: io.ErrUnexpectedEOF}
	transport := NewSelfSignedTransport(doer, testSigner(), "https://api.example.com")

	_, err := transport.Execute(context.Background(), core.SignedRequest{
		Method:      http.MethodGet,
		Path:        "/orders",
		Credentials: validCredentials(),
	})
	if err == nil {
		t.Fatal("expected network failure")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %v", err)
	}
}

func TestManagedTransportNormalizesResult(t *testing.T) {
	managed := NewManagedTransport(managedDoerFunc(func(_ context.Context, req core.SignedRequest) (core.TransportResult, error) {
		return core.TransportResult{StatusCode: http.StatusOK}, nil
	}))

	result, err := managed.Execute(context.Background(), core.SignedRequest{Method: http.MethodGet, Path: "/orders"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected attempt floor of 1, got %d", result.Attempts)
	}
	if result.Metadata["transport"] != KindManaged {
		t.Fatalf("expected managed metadata, got %v", result.Metadata)
	}
}

type managedDoerFunc func(ctx context.Context, req core.SignedRequest) (core.TransportResult, error)

func (f managedDoerFunc) Execute(ctx context.Context, req core.SignedRequest) (core.TransportResult, error) {
	return f(ctx, req)
}

func TestManagedTransportWrapsDoerFailure(t *testing.T) {
	managed := NewManagedTransport(managedDoerFunc(func(context.Context, core.SignedRequest) (core.TransportResult, error) {
		return core.TransportResult{}, io.ErrUnexpectedEOF
	}))

	_, err := managed.Execute(context.Background(), core.SignedRequest{Method: http.MethodGet, Path: "/orders"})
	if err == nil {
		t.Fatal("expected failure")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorCodeUpstreamFailure {
		t.Fatalf("expected upstream failure, got %v", err)
	}
}
