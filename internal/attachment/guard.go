// Package attachment enforces the media XOR poll rule on drafts and validates attachment payloads.
package attachment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/debemdeboas/postdeck/internal/model"
)

const (
	MinPollOptions = 2
	MaxPollOptions = 4
)

// Policy holds the configurable attachment limits.
type Policy struct {
	MinPollDays   int
	MaxPollDays   int
	MaxMediaFiles int
}

func DefaultPolicy() Policy {
	return Policy{MinPollDays: 1, MaxPollDays: 7, MaxMediaFiles: 9}
}

type pollOptions struct {
	Options []string `validate:"min=2,max=4,unique,dive,required"`
}

type Guard struct {
	policy   Policy
	validate *validator.Validate
}

func NewGuard(policy Policy) *Guard {
	return &Guard{
		policy:   policy,
		validate: validator.New(),
	}
}

func (g *Guard) Policy() Policy { return g.policy }

// CanAttach reports whether an attachment of kind may be added to draft: either none is
// present or the present one is of the same kind.
func (g *Guard) CanAttach(draft model.Snapshot, kind model.AttachmentKind) bool {
	return draft.Attachment == nil || draft.Attachment.Kind() == kind
}

// BlockedReason is the tooltip text for a disabled attach control, empty when attaching is allowed.
func (g *Guard) BlockedReason(draft model.Snapshot, kind model.AttachmentKind) string {
	if g.CanAttach(draft, kind) {
		return ""
	}
	return fmt.Sprintf("Remove %s to add %s", draft.Attachment.Kind(), kind)
}

// Attach returns a copy of draft holding a. Replacing an attachment of the same kind is allowed.
func (g *Guard) Attach(draft model.Snapshot, a model.Attachment) (model.Snapshot, error) {
	if a == nil {
		return draft, errors.New("attachment is nil")
	}
	if !g.CanAttach(draft, a.Kind()) {
		return draft, model.ErrAttachmentConflict
	}

	switch v := a.(type) {
	case model.Poll:
		poll, err := g.ValidatePoll(v)
		if err != nil {
			return draft, err
		}
		return draft.WithAttachment(poll), nil
	case model.Media:
		if err := g.ValidateMedia(v); err != nil {
			return draft, err
		}
		return draft.WithAttachment(v), nil
	default:
		return draft, fmt.Errorf("unsupported attachment kind %q", a.Kind())
	}
}

// Detach clears the attachment. It is a no-op when there is none.
func (g *Guard) Detach(draft model.Snapshot) model.Snapshot {
	if draft.Attachment == nil {
		return draft
	}
	return draft.WithAttachment(nil)
}

// ValidatePoll checks the poll shape and returns it with options trimmed.
func (g *Guard) ValidatePoll(p model.Poll) (model.Poll, error) {
	options := lo.Map(p.Options, func(o string, _ int) string {
		return strings.TrimSpace(o)
	})

	if err := g.validate.Struct(pollOptions{Options: options}); err != nil {
		return p, pollError(err)
	}

	if p.DurationDays < g.policy.MinPollDays || p.DurationDays > g.policy.MaxPollDays {
		return p, &model.PollError{
			Reason: fmt.Sprintf("duration must be between %d and %d days", g.policy.MinPollDays, g.policy.MaxPollDays),
		}
	}

	return model.Poll{Options: options, DurationDays: p.DurationDays}, nil
}

func pollError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &model.PollError{Reason: err.Error()}
	}

	switch verrs[0].Tag() {
	case "min", "max":
		return &model.PollError{Reason: fmt.Sprintf("poll needs %d to %d options", MinPollOptions, MaxPollOptions)}
	case "unique":
		return &model.PollError{Reason: "poll options must be unique"}
	case "required":
		return &model.PollError{Reason: "poll options must not be empty"}
	default:
		return &model.PollError{Reason: verrs[0].Error()}
	}
}

func (g *Guard) ValidateMedia(m model.Media) error {
	if len(m.Files) == 0 {
		return fmt.Errorf("%w: at least one file is required", model.ErrInvalidMedia)
	}
	if g.policy.MaxMediaFiles > 0 && len(m.Files) > g.policy.MaxMediaFiles {
		return fmt.Errorf("%w: at most %d files are allowed", model.ErrInvalidMedia, g.policy.MaxMediaFiles)
	}

	ids := lo.Map(m.Files, func(f model.MediaFile, _ int) string { return f.ID })
	if lo.Contains(ids, "") {
		return fmt.Errorf("%w: file without id", model.ErrInvalidMedia)
	}
	if len(lo.Uniq(ids)) != len(ids) {
		return fmt.Errorf("%w: duplicate file", model.ErrInvalidMedia)
	}
	return nil
}
