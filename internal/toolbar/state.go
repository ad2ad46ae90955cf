package toolbar

import (
	"context"
	"time"

	"github.com/debemdeboas/postdeck/internal/lifecycle"
	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/render"
)

// EmojiPalette is the quick-insert palette, in display order.
var EmojiPalette = []string{
	"😀", "😊", "😍", "🤔", "👍", "👎", "❤️", "🔥", "💡", "🎉",
	"🚀", "💯", "✨", "🌟", "📈", "💼", "🎯", "💪", "🙌", "👏",
}

const (
	TooltipUndo          = "Undo (Ctrl+Z)"
	TooltipRedo          = "Redo (Ctrl+Y)"
	TooltipAddAttachment = "Add media or poll"
	TooltipPosted        = "This post has already been posted"
)

type FooterKind string

const (
	FooterQueue     FooterKind = "queue"
	FooterScheduled FooterKind = "scheduled"
	FooterPosted    FooterKind = "posted"
)

type Action string

const (
	ActionAddToQueue Action = "add_to_queue"
	ActionSchedule   Action = "schedule"
	ActionReschedule Action = "reschedule"
	ActionPostNow    Action = "post_now"
)

// Footer is the action area under the editor. Exactly one of the three shapes applies.
type Footer struct {
	Kind FooterKind `json:"kind"`

	// Primary is empty for a posted post.
	Primary  Action   `json:"primary,omitempty"`
	Dropdown []Action `json:"dropdown,omitempty"`

	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
	ExternalPostID string     `json:"external_post_id,omitempty"`
}

type Control struct {
	Enabled bool   `json:"enabled"`
	Tooltip string `json:"tooltip,omitempty"`
}

// View is everything the toolbar renders, derived from the session at one instant.
type View struct {
	Post   string         `json:"post"`
	Status model.Status   `json:"status"`
	Draft  DraftView      `json:"draft"`
	Undo   Control        `json:"undo"`
	Redo   Control        `json:"redo"`
	Add    Control        `json:"add"`
	Media  Control        `json:"media"`
	Poll   Control        `json:"poll"`
	Picker string         `json:"picker,omitempty"`
	Emoji  []string       `json:"emoji"`
	Footer Footer         `json:"footer"`
	Stats  render.Metrics `json:"metrics"`
}

type DraftView struct {
	Content    string            `json:"content"`
	Formats    []model.FormatTag `json:"formats"`
	Attachment any               `json:"attachment,omitempty"`
}

type pollView struct {
	Kind         model.AttachmentKind `json:"kind"`
	Options      []string             `json:"options"`
	DurationDays int                  `json:"duration_days"`
}

type mediaView struct {
	Kind  model.AttachmentKind `json:"kind"`
	Files []model.MediaFile    `json:"files"`
}

// FooterFor derives the footer from the lifecycle state alone.
func FooterFor(s lifecycle.State) Footer {
	switch v := s.(type) {
	case lifecycle.Posted:
		at := v.At
		return Footer{Kind: FooterPosted, PostedAt: &at, ExternalPostID: v.ExternalPostID}
	case lifecycle.Scheduled:
		at := v.At
		return Footer{
			Kind:        FooterScheduled,
			Primary:     ActionReschedule,
			Dropdown:    []Action{ActionPostNow},
			ScheduledAt: &at,
		}
	default:
		return Footer{
			Kind:     FooterQueue,
			Primary:  ActionAddToQueue,
			Dropdown: []Action{ActionSchedule, ActionPostNow},
		}
	}
}

// State builds the view from the committed lifecycle state and the session's draft.
func (c *Controller) State(ctx context.Context) (View, error) {
	state, err := c.lifecycle(ctx)
	if err != nil {
		return View{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	present := c.history.Present()
	posted := lifecycle.IsTerminal(state)

	v := View{
		Post:   c.key.String(),
		Status: state.Status(),
		Draft:  draftView(present),
		Undo:   Control{Enabled: !posted && c.history.CanUndo(), Tooltip: TooltipUndo},
		Redo:   Control{Enabled: !posted && c.history.CanRedo(), Tooltip: TooltipRedo},
		Add:    Control{Enabled: !posted && present.Attachment == nil, Tooltip: TooltipAddAttachment},
		Media:  c.attachControl(present, model.KindMedia, posted),
		Poll:   c.attachControl(present, model.KindPoll, posted),
		Picker: string(c.picker),
		Emoji:  EmojiPalette,
		Footer: FooterFor(state),
		Stats:  render.ComputeMetrics(present.Content),
	}
	return v, nil
}

func (c *Controller) attachControl(present model.Snapshot, kind model.AttachmentKind, posted bool) Control {
	if posted {
		return Control{Tooltip: TooltipPosted}
	}
	return Control{
		Enabled: c.guard.CanAttach(present, kind),
		Tooltip: c.guard.BlockedReason(present, kind),
	}
}

func draftView(s model.Snapshot) DraftView {
	d := DraftView{Content: s.Content, Formats: []model.FormatTag(s.Formats)}
	if d.Formats == nil {
		d.Formats = []model.FormatTag{}
	}
	switch a := s.Attachment.(type) {
	case model.Poll:
		d.Attachment = pollView{Kind: model.KindPoll, Options: a.Options, DurationDays: a.DurationDays}
	case model.Media:
		d.Attachment = mediaView{Kind: model.KindMedia, Files: a.Files}
	}
	return d
}
