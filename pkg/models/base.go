// Package models defines the document records that flow through the
// pipeline: links, editions, feedback, agent runs, revisions, and the
// change-feed continuation tokens that track progress through them.
package models

import "time"

// DocumentBase holds the fields every stored record shares. Records with
// DeletedAt set are soft-deleted and invisible to reads.
type DocumentBase struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Touch stamps CreatedAt (if unset) and UpdatedAt.
func (d *DocumentBase) Touch(now time.Time) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
}

// MarkDeleted sets DeletedAt, soft-deleting the record.
func (d *DocumentBase) MarkDeleted(now time.Time) {
	d.DeletedAt = &now
}

// IsDeleted reports whether the record has been soft-deleted.
func (d *DocumentBase) IsDeleted() bool {
	return d.DeletedAt != nil
}

// GetID returns the record's identifier.
func (d *DocumentBase) GetID() string {
	return d.ID
}

// GetDeletedAt returns the soft-delete tombstone, or nil if the record is live.
func (d *DocumentBase) GetDeletedAt() *time.Time {
	return d.DeletedAt
}

// SetID assigns the record's identifier.
func (d *DocumentBase) SetID(id string) {
	d.ID = id
}

// Record is satisfied by every document model via the embedded DocumentBase
// plus a type-specific PartitionKey. The store package operates generically
// over Record so it never needs to know about Link, Edition, etc.
type Record interface {
	GetID() string
	SetID(string)
	Touch(time.Time)
	MarkDeleted(time.Time)
	IsDeleted() bool
	GetDeletedAt() *time.Time
	PartitionKey() string
}
