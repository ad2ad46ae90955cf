// Package repository persists clients, posts and media.
package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/debemdeboas/postdeck/internal/model"
)

var repoLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	repoLogger = l
}

// Store is the key-path read/write API the publishing core depends on.
type Store interface {
	ReadPost(ctx context.Context, key model.PostKey) (*model.Post, error)
	WritePost(ctx context.Context, key model.PostKey, patch model.PostPatch) error
}

// Claimer leases a post to one publisher at a time, across every process sharing the store.
type Claimer interface {
	// ClaimPost takes the lease until the given time. It reports false while another lease is live
	// or the post is already posted.
	ClaimPost(ctx context.Context, key model.PostKey, now, until time.Time) (bool, error)
	ReleasePost(ctx context.Context, key model.PostKey) error
}

type PostRepository interface {
	Store

	Init(ctx context.Context) error

	CreatePost(ctx context.Context, agency model.AgencyID, client model.ClientID, title, content string) (*model.Post, error)
	ListPosts(ctx context.Context, agency model.AgencyID, client model.ClientID) ([]model.Post, error)

	// DuePosts lists Scheduled posts whose time is at or before now, across all agencies.
	DuePosts(ctx context.Context, now time.Time) ([]model.Post, error)

	ReadClient(ctx context.Context, agency model.AgencyID, client model.ClientID) (*model.Client, error)
	SaveClient(ctx context.Context, client *model.Client) error

	// SetChangeNotifier sets a function that is called after a post is written.
	SetChangeNotifier(notifier func(model.PostKey))
}

func clonePost(p *model.Post) *model.Post {
	c := *p
	c.Attachment = model.CloneAttachment(p.Attachment)
	if p.ScheduledAt != nil {
		at := *p.ScheduledAt
		c.ScheduledAt = &at
	}
	if p.PostedAt != nil {
		at := *p.PostedAt
		c.PostedAt = &at
	}
	return &c
}
