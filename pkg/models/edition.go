package models

import "time"

// EditionStatus is the lifecycle stage of an edition document.
type EditionStatus string

const (
	EditionStatusCreated   EditionStatus = "created"
	EditionStatusDrafting  EditionStatus = "drafting"
	EditionStatusInReview  EditionStatus = "in_review"
	EditionStatusPublished EditionStatus = "published"
)

// Edition is the living newsletter document assembled from reviewed links.
type Edition struct {
	DocumentBase
	Status      EditionStatus  `json:"status"`
	Content     map[string]any `json:"content,omitempty"`
	LinkIDs     []string       `json:"link_ids"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
}

// PartitionKey returns the edition's own ID (editions are their own partition).
func (e *Edition) PartitionKey() string {
	return e.ID
}

// AddLinkID appends a link ID if not already present, keeping LinkIDs
// free of duplicates.
func (e *Edition) AddLinkID(linkID string) {
	for _, id := range e.LinkIDs {
		if id == linkID {
			return
		}
	}
	e.LinkIDs = append(e.LinkIDs, linkID)
}
