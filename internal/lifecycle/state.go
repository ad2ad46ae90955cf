// Package lifecycle implements the post state machine: Draft, Queued, Scheduled and Posted.
//
// A State carries its own timestamps so that a Scheduled state always has a time and a
// Posted state always has a publish time and an external id.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/debemdeboas/postdeck/internal/model"
)

type State interface {
	Status() model.Status
	isState()
}

type Draft struct{}

type Queued struct{}

type Scheduled struct {
	At time.Time
}

type Posted struct {
	At             time.Time
	ExternalPostID string

	// ScheduledAt is kept when a Scheduled post was published early.
	ScheduledAt *time.Time
}

func (Draft) Status() model.Status     { return model.StatusDraft }
func (Queued) Status() model.Status    { return model.StatusQueued }
func (Scheduled) Status() model.Status { return model.StatusScheduled }
func (Posted) Status() model.Status    { return model.StatusPosted }

func (Draft) isState()     {}
func (Queued) isState()    {}
func (Scheduled) isState() {}
func (Posted) isState()    {}

func IsTerminal(s State) bool {
	_, ok := s.(Posted)
	return ok
}

// Event is an input to Transition.
type Event interface {
	Name() string
	isEvent()
}

type AddToQueue struct{}

// Schedule doubles as reschedule when the post is already Scheduled.
type Schedule struct {
	At time.Time
}

// Published is fired once the publishing API has accepted the post, either from a
// user's "Post Now" or from the scheduler reaching the scheduled time.
type Published struct {
	At             time.Time
	ExternalPostID string
}

func (AddToQueue) Name() string { return "add_to_queue" }
func (Schedule) Name() string   { return "schedule" }
func (Published) Name() string  { return "published" }

func (AddToQueue) isEvent() {}
func (Schedule) isEvent()   {}
func (Published) isEvent()  {}

// Transition applies ev to from. content is the draft body being committed with the event
// and now is the reference for schedule validation.
func Transition(from State, ev Event, content string, now time.Time) (State, error) {
	if from == nil {
		from = Draft{}
	}
	if IsTerminal(from) {
		return from, fmt.Errorf("%w: cannot %s", model.ErrTerminalState, ev.Name())
	}
	if strings.TrimSpace(content) == "" {
		return from, model.ErrEmptyContent
	}

	switch e := ev.(type) {
	case AddToQueue:
		switch from.(type) {
		case Draft, Queued:
			return Queued{}, nil
		default:
			return from, fmt.Errorf("%w: %s from %s", model.ErrInvalidTransition, e.Name(), from.Status())
		}

	case Schedule:
		if !e.At.After(now) {
			return from, model.ErrInvalidSchedule
		}
		return Scheduled{At: e.At}, nil

	case Published:
		if e.ExternalPostID == "" {
			return from, fmt.Errorf("%w: published without an external post id", model.ErrInvalidTransition)
		}
		posted := Posted{At: e.At, ExternalPostID: e.ExternalPostID}
		if s, ok := from.(Scheduled); ok {
			at := s.At
			posted.ScheduledAt = &at
		}
		return posted, nil

	default:
		return from, fmt.Errorf("%w: unknown event %T", model.ErrInvalidTransition, ev)
	}
}

// FromRecord reads the state of a stored post. A Scheduled status without a time, or a Posted
// status without a publish time, is an inconsistent partial write and reads as Draft.
func FromRecord(p *model.Post) State {
	if p == nil {
		return Draft{}
	}

	switch p.Status {
	case model.StatusQueued:
		return Queued{}
	case model.StatusScheduled:
		if p.ScheduledAt == nil || p.ScheduledAt.IsZero() {
			return Draft{}
		}
		return Scheduled{At: *p.ScheduledAt}
	case model.StatusPosted:
		if p.PostedAt == nil || p.PostedAt.IsZero() {
			return Draft{}
		}
		posted := Posted{At: *p.PostedAt, ExternalPostID: p.ExternalPostID}
		if p.ScheduledAt != nil && !p.ScheduledAt.IsZero() {
			at := *p.ScheduledAt
			posted.ScheduledAt = &at
		}
		return posted
	default:
		return Draft{}
	}
}

// Patch builds the store write that persists s together with the committed draft.
func Patch(s State, draft model.Snapshot) model.PostPatch {
	status := s.Status()
	content := draft.Content
	patch := model.PostPatch{
		Status:        &status,
		Content:       &content,
		Attachment:    model.CloneAttachment(draft.Attachment),
		SetAttachment: true,
	}

	switch v := s.(type) {
	case Draft, Queued:
		patch.ClearScheduledAt = true
	case Scheduled:
		at := v.At
		patch.ScheduledAt = &at
	case Posted:
		at := v.At
		id := v.ExternalPostID
		patch.PostedAt = &at
		patch.ExternalPostID = &id
		if v.ScheduledAt != nil {
			scheduled := *v.ScheduledAt
			patch.ScheduledAt = &scheduled
		}
	}
	return patch
}
