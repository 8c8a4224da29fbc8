package models

// ContinuationToken persists the change-feed cursor for one container so the
// change-feed processor can resume after a restart instead of re-scanning.
type ContinuationToken struct {
	DocumentBase
	Token     string `json:"token"`
	Container string `json:"container"`
}

// ContinuationTokenID returns the id under which a container's token is
// stored: "change-feed-token-<container>".
func ContinuationTokenID(container string) string {
	return "change-feed-token-" + container
}

// PartitionKey returns the token document's own ID (metadata documents are
// their own partition).
func (c *ContinuationToken) PartitionKey() string {
	return c.ID
}
