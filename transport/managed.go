package transport

import (
	"context"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
)

const KindManaged = "managed"

// ManagedDoer is the client for an external signing proxy: it receives the
// request description plus credentials, signs and executes upstream, and
// reports back the raw outcome with its own attempt accounting.
type ManagedDoer interface {
	Execute(ctx context.Context, req core.SignedRequest) (core.TransportResult, error)
}

// ManagedTransport delegates signing and execution to a managed proxy and
// normalizes whatever the proxy reports into the shared result shape.
type ManagedTransport struct {
	Doer ManagedDoer
}

func NewManagedTransport(doer ManagedDoer) *ManagedTransport {
	return &ManagedTransport{Doer: doer}
}

func (*ManagedTransport) Kind() string {
	return KindManaged
}

func (t *ManagedTransport) Execute(ctx context.Context, req core.SignedRequest) (core.TransportResult, error) {
	if t == nil || t.Doer == nil {
		return core.TransportResult{}, transportError(
			"transport: managed transport requires a doer",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"transport": KindManaged},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := t.Doer.Execute(ctx, req)
	if err != nil {
		return core.TransportResult{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: managed execution failed",
			http.StatusBadGateway,
			map[string]any{"transport": KindManaged, "method": strings.TrimSpace(req.Method)},
		)
	}

	if result.Attempts <= 0 {
		result.Attempts = 1
	}
	if result.Headers == nil {
		result.Headers = map[string]string{}
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["transport"] = KindManaged
	return result, nil
}

var _ core.RequestTransport = (*ManagedTransport)(nil)
