// Package model defines core data structures and types for post composition and publishing.
package model

import (
	"strings"
	"time"
)

type (
	AgencyID  string
	ClientID  string
	PostID    string
	UserID    string
	ProfileID string
)

// PostKey addresses a post in the store: agencies/{Agency}/clients/{Client}/posts/{Post}.
type PostKey struct {
	Agency AgencyID
	Client ClientID
	Post   PostID
}

func (k PostKey) String() string {
	return "agencies/" + string(k.Agency) + "/clients/" + string(k.Client) + "/posts/" + string(k.Post)
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusQueued    Status = "queued"
	StatusScheduled Status = "scheduled"
	StatusPosted    Status = "posted"
)

// Post is the stored projection of a post. Status, ScheduledAt and PostedAt are independently
// stored fields; read them through lifecycle.FromRecord rather than directly.
type Post struct {
	ID     PostID
	Client ClientID
	Agency AgencyID

	Title string

	Status         Status
	ScheduledAt    *time.Time
	PostedAt       *time.Time
	ExternalPostID string

	Content    string
	Attachment Attachment

	CreatedAt  time.Time
	ModifiedAt time.Time
}

func (p *Post) Key() PostKey {
	return PostKey{Agency: p.Agency, Client: p.Client, Post: p.ID}
}

func (p *Post) DisplayTitle() string {
	title := strings.TrimSpace(p.Title)
	if title == "" || strings.EqualFold(title, "none") {
		return "Untitled Post"
	}
	return title
}

// PostPatch lists the fields of a single store write. Nil fields are left untouched.
type PostPatch struct {
	Title  *string
	Status *Status

	Content       *string
	Attachment    Attachment
	SetAttachment bool

	ScheduledAt      *time.Time
	ClearScheduledAt bool

	PostedAt       *time.Time
	ExternalPostID *string
}

// Apply writes the patch onto p.
func (patch PostPatch) Apply(p *Post) {
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Content != nil {
		p.Content = *patch.Content
	}
	if patch.SetAttachment {
		p.Attachment = patch.Attachment
	}
	if patch.ClearScheduledAt {
		p.ScheduledAt = nil
	}
	if patch.ScheduledAt != nil {
		at := *patch.ScheduledAt
		p.ScheduledAt = &at
	}
	if patch.PostedAt != nil {
		at := *patch.PostedAt
		p.PostedAt = &at
	}
	if patch.ExternalPostID != nil {
		p.ExternalPostID = *patch.ExternalPostID
	}
}

// Client is an agency's customer and the LinkedIn profile its posts are published to.
type Client struct {
	ID        ClientID
	Agency    AgencyID
	Name      string
	ProfileID ProfileID
}
