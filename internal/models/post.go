// Package models contains data structures for the application's domain models.
package models

import "time"

// Post statuses. A removed post is a tombstone: the row stays so its slug remains
// reserved and its permalink resolves as gone.
const (
	PostStatusDraft     = "draft"
	PostStatusPublished = "published"
	PostStatusRemoved   = "removed"
)

// Post represents a blog post.
type Post struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title       string     `gorm:"not null" json:"title"`
	Slug        string     `gorm:"not null;uniqueIndex" json:"slug"`
	Body        string     `gorm:"type:text;not null" json:"body"`
	AuthorID    string     `gorm:"type:varchar(36);not null;index" json:"author_id"`
	Tags        []string   `gorm:"type:text;serializer:json" json:"tags"`
	Status      string     `gorm:"type:varchar(16);not null;index" json:"status"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	// Timestamps are assigned by the post service clock, never by GORM.
	CreatedAt time.Time `gorm:"not null;index;autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

// IsRemoved reports whether the post is a tombstone.
func (p *Post) IsRemoved() bool {
	return p.Status == PostStatusRemoved
}

// IsPublished reports whether the post is publicly visible.
func (p *Post) IsPublished() bool {
	return p.Status == PostStatusPublished
}

// Clone returns a deep copy of the post.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	if p.PublishedAt != nil {
		at := *p.PublishedAt
		cp.PublishedAt = &at
	}
	return &cp
}
