// Package events publishes post lifecycle events to a message bus and lets peer
// instances follow them.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	PostCreated = "post.created"
	PostUpdated = "post.updated"
	PostDeleted = "post.deleted"
)

// Event describes one committed post mutation. PreviousTags and WasPublished carry the
// state before the mutation so subscribers can apply the same tag index delta.
type Event struct {
	Type         string    `json:"type"`
	Origin       string    `json:"origin"`
	PostID       string    `json:"post_id"`
	Slug         string    `json:"slug"`
	PreviousSlug string    `json:"previous_slug,omitempty"`
	AuthorID     string    `json:"author_id"`
	Tags         []string  `json:"tags"`
	PreviousTags []string  `json:"previous_tags,omitempty"`
	Published    bool      `json:"published"`
	WasPublished bool      `json:"was_published"`
	CreatedAt    time.Time `json:"created_at"`
	At           time.Time `json:"at"`
}

// Handler receives events delivered by a subscription.
type Handler func(ctx context.Context, ev Event)

// Publisher publishes post events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe delivers events until ctx is cancelled.
	Subscribe(ctx context.Context, h Handler) error
	Name() string
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error     { return nil }
func (Noop) Subscribe(context.Context, Handler) error { return nil }
func (Noop) Name() string                             { return "none" }
func (Noop) Close() error                             { return nil }
