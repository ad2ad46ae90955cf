package model

import (
	"slices"
)

type FormatTag string

const (
	FormatBold          FormatTag = "bold"
	FormatItalic        FormatTag = "italic"
	FormatUnderline     FormatTag = "underline"
	FormatStrikethrough FormatTag = "strikeThrough"
)

// Formats is the set of inline styles active at the cursor. It is kept sorted so that
// two sets with the same members compare equal.
type Formats []FormatTag

func (f Formats) Has(tag FormatTag) bool {
	_, found := slices.BinarySearch(f, tag)
	return found
}

// Toggle returns a new set with tag added or removed.
func (f Formats) Toggle(tag FormatTag) Formats {
	i, found := slices.BinarySearch(f, tag)
	if found {
		return slices.Delete(slices.Clone(f), i, i+1)
	}
	return slices.Insert(slices.Clone(f), i, tag)
}

func (f Formats) Equal(other Formats) bool {
	return slices.Equal(f, other)
}

type AttachmentKind string

const (
	KindMedia AttachmentKind = "media"
	KindPoll  AttachmentKind = "poll"
)

// Attachment is either Media or Poll. A nil Attachment means none.
type Attachment interface {
	Kind() AttachmentKind
	equal(Attachment) bool
	clone() Attachment
}

type MediaFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`

	// ExternalID is the publisher's asset reference (a LinkedIn image URN), when registered.
	ExternalID string `json:"external_id,omitempty"`
}

type Media struct {
	Files []MediaFile
}

func (Media) Kind() AttachmentKind { return KindMedia }

func (m Media) equal(other Attachment) bool {
	o, ok := other.(Media)
	return ok && slices.Equal(m.Files, o.Files)
}

func (m Media) clone() Attachment {
	return Media{Files: slices.Clone(m.Files)}
}

type Poll struct {
	Options      []string
	DurationDays int
}

func (Poll) Kind() AttachmentKind { return KindPoll }

func (p Poll) equal(other Attachment) bool {
	o, ok := other.(Poll)
	return ok && p.DurationDays == o.DurationDays && slices.Equal(p.Options, o.Options)
}

func (p Poll) clone() Attachment {
	return Poll{Options: slices.Clone(p.Options), DurationDays: p.DurationDays}
}

func AttachmentEqual(a, b Attachment) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.equal(b)
}

func CloneAttachment(a Attachment) Attachment {
	if a == nil {
		return nil
	}
	return a.clone()
}

// Snapshot captures content, formats and attachment at one point of an editing session.
// Snapshots are values: the With* methods return copies and never share slices.
type Snapshot struct {
	Content    string
	Formats    Formats
	Attachment Attachment
}

func (s Snapshot) Equal(other Snapshot) bool {
	return s.Content == other.Content &&
		s.Formats.Equal(other.Formats) &&
		AttachmentEqual(s.Attachment, other.Attachment)
}

func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Content:    s.Content,
		Formats:    slices.Clone(s.Formats),
		Attachment: CloneAttachment(s.Attachment),
	}
}

func (s Snapshot) WithContent(content string) Snapshot {
	c := s.Clone()
	c.Content = content
	return c
}

func (s Snapshot) WithFormats(formats Formats) Snapshot {
	c := s.Clone()
	c.Formats = slices.Clone(formats)
	return c
}

func (s Snapshot) WithAttachment(a Attachment) Snapshot {
	c := s.Clone()
	c.Attachment = CloneAttachment(a)
	return c
}

func (s Snapshot) HasMedia() bool {
	return s.Attachment != nil && s.Attachment.Kind() == KindMedia
}

func (s Snapshot) HasPoll() bool {
	return s.Attachment != nil && s.Attachment.Kind() == KindPoll
}
