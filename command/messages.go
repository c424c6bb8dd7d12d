package command

import (
	"fmt"
	"strings"
	"time"
)

const (
	TypeProcessNotification = "marketplace.command.notification.process"
	TypePollTenant          = "marketplace.command.poll.tenant"
	TypePollAllTenants      = "marketplace.command.poll.all"
	TypeReleaseStale        = "marketplace.command.notification.release_stale"
)

type ProcessNotificationMessage struct {
	NotificationID string
}

func (ProcessNotificationMessage) Type() string { return TypeProcessNotification }

func (m ProcessNotificationMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("command: notification id is required")
	}
	return nil
}

type PollTenantMessage struct {
	TenantID string
}

func (PollTenantMessage) Type() string { return TypePollTenant }

func (m PollTenantMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("command: tenant id is required")
	}
	return nil
}

type PollAllTenantsMessage struct{}

func (PollAllTenantsMessage) Type() string { return TypePollAllTenants }

func (PollAllTenantsMessage) Validate() error { return nil }

type ReleaseStaleMessage struct {
	OlderThan time.Time
}

func (ReleaseStaleMessage) Type() string { return TypeReleaseStale }

func (m ReleaseStaleMessage) Validate() error {
	if m.OlderThan.IsZero() {
		return fmt.Errorf("command: older-than cutoff is required")
	}
	return nil
}
