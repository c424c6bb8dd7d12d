package transport

import (
	"context"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/ratelimit"
)

// OrderClient fetches order detail and line items through the executor so
// every call carries signing, rate limiting, and retries. Order calls run in
// their own rate limit bucket so the event feed cannot starve them.
type OrderClient struct {
	Executor *Executor
}

func NewOrderClient(executor *Executor) *OrderClient {
	return &OrderClient{Executor: executor}
}

func (c *OrderClient) FetchOrder(ctx context.Context, tenantID string, orderID int64) (map[string]any, []map[string]any, error) {
	if c == nil || c.Executor == nil {
		return nil, nil, transportError(
			"transport: order client requires an executor",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}

	order, err := c.fetchObject(ctx, tenantID, fmt.Sprintf("/orders/%d", orderID))
	if err != nil {
		return nil, nil, err
	}

	result, err := c.Executor.Execute(ctx, ExecuteArgs{
		TenantID:  tenantID,
		Method:    http.MethodGet,
		Path:      fmt.Sprintf("/orders/%d/items", orderID),
		BucketKey: c.bucketKey(tenantID),
	})
	if err != nil {
		return nil, nil, err
	}
	items, err := decodeObjectList(result, "order items")
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

func (c *OrderClient) fetchObject(ctx context.Context, tenantID string, path string) (map[string]any, error) {
	result, err := c.Executor.Execute(ctx, ExecuteArgs{
		TenantID:  tenantID,
		Method:    http.MethodGet,
		Path:      path,
		BucketKey: c.bucketKey(tenantID),
	})
	if err != nil {
		return nil, err
	}
	object, ok := result.Data.(map[string]any)
	if !ok || len(object) == 0 {
		return nil, invalidResponseError(
			"transport: provider returned an empty or non-object payload",
			map[string]any{
				"path":           path,
				"correlation_id": result.CorrelationID,
			},
		)
	}
	return object, nil
}

func (c *OrderClient) bucketKey(tenantID string) string {
	return ratelimit.ResourceBucketKey(c.Executor.ProviderID, tenantID, "orders")
}

func invalidResponseError(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(core.ErrorCodeInvalidResponse)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func decodeObjectList(result core.RequestResult, what string) ([]map[string]any, error) {
	raw, ok := result.Data.([]any)
	if !ok {
		if result.Data == nil {
			return []map[string]any{}, nil
		}
		return nil, invalidResponseError(
			fmt.Sprintf("transport: provider returned malformed %s", what),
			map[string]any{"correlation_id": result.CorrelationID},
		)
	}
	items := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		object, ok := entry.(map[string]any)
		if !ok {
			return nil, invalidResponseError(
				fmt.Sprintf("transport: provider returned malformed %s entry", what),
				map[string]any{"correlation_id": result.CorrelationID},
			)
		}
		items = append(items, object)
	}
	return items, nil
}
