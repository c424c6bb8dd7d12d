package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ProcessNotificationMessage] = (*ProcessNotificationCommand)(nil)
	_ gocmd.Commander[PollTenantMessage]          = (*PollTenantCommand)(nil)
	_ gocmd.Commander[PollAllTenantsMessage]      = (*PollAllTenantsCommand)(nil)
	_ gocmd.Commander[ReleaseStaleMessage]        = (*ReleaseStaleCommand)(nil)
)
