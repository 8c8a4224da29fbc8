package models

// LinkStatus is the position of a link within the pipeline.
type LinkStatus string

const (
	LinkStatusSubmitted LinkStatus = "submitted"
	LinkStatusFetching  LinkStatus = "fetching"
	LinkStatusReviewed  LinkStatus = "reviewed"
	LinkStatusDrafted   LinkStatus = "drafted"
	LinkStatusFailed    LinkStatus = "failed"
)

// Terminal reports whether the status advances no further from change
// events.
func (s LinkStatus) Terminal() bool {
	return s == LinkStatusDrafted || s == LinkStatusFailed
}

// Link is a submitted URL tracked through fetch/review/draft.
type Link struct {
	DocumentBase
	URL       string     `json:"url"`
	Title     string     `json:"title,omitempty"`
	Status    LinkStatus `json:"status"`
	Content   string     `json:"content,omitempty"`
	Review    string     `json:"review,omitempty"`
	EditionID string     `json:"edition_id,omitempty"`
}

// PartitionKey returns the link's partition key: its edition, or the
// unattached sentinel for links not yet assigned to an edition.
func (l *Link) PartitionKey() string {
	if l.EditionID == "" {
		return unattachedPartition
	}
	return l.EditionID
}

// unattachedPartition is the sentinel partition key for links not yet
// attached to an edition.
const unattachedPartition = "unattached"
