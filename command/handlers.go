package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/notifications"
)

type ProcessNotificationCommand struct {
	processor *notifications.Processor
}

func NewProcessNotificationCommand(processor *notifications.Processor) *ProcessNotificationCommand {
	return &ProcessNotificationCommand{processor: processor}
}

func (c *ProcessNotificationCommand) Execute(ctx context.Context, msg ProcessNotificationMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: notification processor is required")
	}
	if err := msg.Validate(); err != nil {
		return commandValidationError("notification_id", "is required")
	}
	return c.processor.Process(ctx, strings.TrimSpace(msg.NotificationID))
}

type PollTenantCommand struct {
	poller *notifications.Poller
}

func NewPollTenantCommand(poller *notifications.Poller) *PollTenantCommand {
	return &PollTenantCommand{poller: poller}
}

func (c *PollTenantCommand) Execute(ctx context.Context, msg PollTenantMessage) error {
	if c == nil || c.poller == nil {
		return commandDependencyError("command: poller is required")
	}
	if err := msg.Validate(); err != nil {
		return commandValidationError("tenant_id", "is required")
	}
	stats, err := c.poller.PollTenant(ctx, strings.TrimSpace(msg.TenantID))
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

type PollAllTenantsCommand struct {
	poller *notifications.Poller
}

func NewPollAllTenantsCommand(poller *notifications.Poller) *PollAllTenantsCommand {
	return &PollAllTenantsCommand{poller: poller}
}

func (c *PollAllTenantsCommand) Execute(ctx context.Context, msg PollAllTenantsMessage) error {
	if c == nil || c.poller == nil {
		return commandDependencyError("command: poller is required")
	}
	stats, err := c.poller.PollAllTenants(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

type ReleaseStaleCommand struct {
	store core.NotificationStore
}

func NewReleaseStaleCommand(store core.NotificationStore) *ReleaseStaleCommand {
	return &ReleaseStaleCommand{store: store}
}

func (c *ReleaseStaleCommand) Execute(ctx context.Context, msg ReleaseStaleMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: notification store is required")
	}
	if err := msg.Validate(); err != nil {
		return commandValidationError("older_than", "is required")
	}
	released, err := c.store.ReleaseStale(ctx, msg.OlderThan)
	if err != nil {
		return err
	}
	storeResult(ctx, released)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
