package model

// HubStats is a point-in-time snapshot of the subscription hub, exposed
// through metrics rather than any client-facing endpoint.
type HubStats struct {
	TotalMailboxes int `json:"total_mailboxes"`
	TotalSubscribers int `json:"total_subscribers"`
}
