// Package toolbar drives one post's editing session: formatting, emoji, undo/redo, attachments
// and the footer actions that hand the draft to the publish coordinator.
package toolbar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/debemdeboas/postdeck/internal/attachment"
	"github.com/debemdeboas/postdeck/internal/history"
	"github.com/debemdeboas/postdeck/internal/lifecycle"
	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/notify"
	"github.com/debemdeboas/postdeck/internal/publish"
)

var toolbarLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	toolbarLogger = l
}

// Coordinator is the part of publish.Coordinator the toolbar drives.
type Coordinator interface {
	State(ctx context.Context, key model.PostKey) (lifecycle.State, error)
	AddToQueue(ctx context.Context, key model.PostKey, draft model.Snapshot) (publish.Result, error)
	Schedule(ctx context.Context, key model.PostKey, draft model.Snapshot, at time.Time) (publish.Result, error)
	PostNow(ctx context.Context, pc publish.PublishContext, draft model.Snapshot) (publish.Result, error)
}

type Options struct {
	HistoryLimit int
	Guard        *attachment.Guard
	Notifier     notify.Notifier
}

// Controller is not shared between posts. Its methods are safe for concurrent use; footer
// actions release the lock while the coordinator works so edits can continue.
//
// The lifecycle state is never kept here. Every guard and view reads it from the coordinator,
// so a publish made elsewhere locks the session at once.
type Controller struct {
	mu sync.Mutex

	key     model.PostKey
	profile model.ProfileID

	history  *history.History
	guard    *attachment.Guard
	coord    Coordinator
	notifier notify.Notifier

	picker model.AttachmentKind
}

// NewController opens a session on post, starting from its stored content.
func NewController(ctx context.Context, coord Coordinator, post *model.Post, profile model.ProfileID, opts Options) (*Controller, error) {
	if opts.Guard == nil {
		opts.Guard = attachment.NewGuard(attachment.DefaultPolicy())
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{Logger: toolbarLogger}
	}

	key := post.Key()
	if _, err := coord.State(ctx, key); err != nil {
		return nil, err
	}

	initial := model.Snapshot{Content: post.Content, Attachment: model.CloneAttachment(post.Attachment)}
	return &Controller{
		key:      key,
		profile:  profile,
		history:  history.New(initial, opts.HistoryLimit),
		guard:    opts.Guard,
		coord:    coord,
		notifier: opts.Notifier,
	}, nil
}

func (c *Controller) Key() model.PostKey { return c.key }

// SetProfile changes the LinkedIn profile Post Now publishes to.
func (c *Controller) SetProfile(profile model.ProfileID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = profile
}

// Draft returns the snapshot the session currently presents.
func (c *Controller) Draft() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Present()
}

func (c *Controller) Versions() []model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Versions()
}

// lifecycle reads the committed state of the session's post.
func (c *Controller) lifecycle(ctx context.Context) (lifecycle.State, error) {
	return c.coord.State(ctx, c.key)
}

// editable fails once the post is Posted.
func (c *Controller) editable(ctx context.Context) error {
	s, err := c.lifecycle(ctx)
	if err != nil {
		return err
	}
	if lifecycle.IsTerminal(s) {
		return model.ErrTerminalState
	}
	return nil
}

// edit applies fn to the present snapshot and records the result.
func (c *Controller) edit(ctx context.Context, fn func(model.Snapshot) (model.Snapshot, error)) (model.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	present := c.history.Present()
	if err := c.editable(ctx); err != nil {
		if errors.Is(err, model.ErrTerminalState) {
			toolbarLogger.Warn().Str("post", c.key.String()).Msg("Edit attempted on a posted post")
		}
		return present, err
	}

	next, err := fn(present)
	if err != nil {
		return present, err
	}
	c.history.Record(next)
	return c.history.Present(), nil
}

// Edit replaces the content with what the host text surface now shows.
func (c *Controller) Edit(ctx context.Context, content string) (model.Snapshot, error) {
	return c.edit(ctx, func(s model.Snapshot) (model.Snapshot, error) {
		return s.WithContent(content), nil
	})
}

func (c *Controller) ApplyFormat(ctx context.Context, tag model.FormatTag) (model.Snapshot, error) {
	if !validFormat(tag) {
		return c.Draft(), fmt.Errorf("unknown format %q", tag)
	}
	return c.edit(ctx, func(s model.Snapshot) (model.Snapshot, error) {
		return s.WithFormats(s.Formats.Toggle(tag)), nil
	})
}

// InsertEmoji inserts glyph at cursor, counted in runes. A cursor outside the content appends.
func (c *Controller) InsertEmoji(ctx context.Context, glyph string, cursor int) (model.Snapshot, error) {
	if glyph == "" {
		return c.Draft(), errors.New("emoji is empty")
	}
	return c.edit(ctx, func(s model.Snapshot) (model.Snapshot, error) {
		runes := []rune(s.Content)
		if cursor < 0 || cursor > len(runes) {
			cursor = len(runes)
		}
		content := string(runes[:cursor]) + glyph + string(runes[cursor:])
		return s.WithContent(content), nil
	})
}

func (c *Controller) AttachPoll(ctx context.Context, p model.Poll) (model.Snapshot, error) {
	return c.attach(ctx, p)
}

func (c *Controller) AttachMedia(ctx context.Context, m model.Media) (model.Snapshot, error) {
	return c.attach(ctx, m)
}

func (c *Controller) attach(ctx context.Context, a model.Attachment) (model.Snapshot, error) {
	snap, err := c.edit(ctx, func(s model.Snapshot) (model.Snapshot, error) {
		return c.guard.Attach(s, a)
	})
	if err == nil {
		c.mu.Lock()
		c.picker = ""
		c.mu.Unlock()
	}
	return snap, err
}

func (c *Controller) Detach(ctx context.Context) (model.Snapshot, error) {
	return c.edit(ctx, func(s model.Snapshot) (model.Snapshot, error) {
		return c.guard.Detach(s), nil
	})
}

// OpenAttachmentPicker opens the picker for kind. It fails with ErrAttachmentConflict while the
// other kind is attached.
func (c *Controller) OpenAttachmentPicker(ctx context.Context, kind model.AttachmentKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.editable(ctx); err != nil {
		return err
	}
	if kind != model.KindMedia && kind != model.KindPoll {
		return fmt.Errorf("unknown attachment kind %q", kind)
	}
	if !c.guard.CanAttach(c.history.Present(), kind) {
		return model.ErrAttachmentConflict
	}
	c.picker = kind
	return nil
}

func (c *Controller) CloseAttachmentPicker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.picker = ""
}

func (c *Controller) Undo(ctx context.Context) (model.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.editable(ctx); err != nil {
		return c.history.Present(), false, err
	}
	s, ok := c.history.Undo()
	if !ok {
		return c.history.Present(), false, nil
	}
	return s, true, nil
}

func (c *Controller) Redo(ctx context.Context) (model.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.editable(ctx); err != nil {
		return c.history.Present(), false, err
	}
	s, ok := c.history.Redo()
	if !ok {
		return c.history.Present(), false, nil
	}
	return s, true, nil
}

// capture takes the draft by value for a footer action.
func (c *Controller) capture() (model.Snapshot, model.ProfileID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Present(), c.profile
}

func (c *Controller) AddToQueue(ctx context.Context) (publish.Result, error) {
	draft, _ := c.capture()
	res, err := c.coord.AddToQueue(ctx, c.key, draft)
	c.report(err, "Added to queue", "Your post is queued.", "Could not add to queue")
	return res, err
}

// Schedule schedules or reschedules the post.
func (c *Controller) Schedule(ctx context.Context, at time.Time) (publish.Result, error) {
	draft, _ := c.capture()
	res, err := c.coord.Schedule(ctx, c.key, draft, at)
	c.report(err, "Post scheduled", "Scheduled for "+at.UTC().Format("Jan 2, 2006 15:04 MST")+".", "Could not schedule post")
	return res, err
}

// PostNow publishes the draft on behalf of user to the session's profile.
func (c *Controller) PostNow(ctx context.Context, user model.UserID) (publish.Result, error) {
	draft, profile := c.capture()

	var res publish.Result
	pc, err := publish.NewPublishContext(user, c.key.Client, c.key.Post, profile, c.key.Agency)
	if err == nil {
		res, err = c.coord.PostNow(ctx, pc, draft)
	}

	success := "Your post is live on LinkedIn."
	if res.ExternalPostID != "" {
		success = "Your post is live on LinkedIn (" + res.ExternalPostID + ")."
	}
	c.report(err, "Post published", success, "Could not publish post")
	return res, err
}

// report emits exactly one notification for a footer action.
func (c *Controller) report(err error, okTitle, okMessage, failTitle string) {
	if err == nil {
		c.notifier.Notify(notify.Notification{Kind: notify.Info, Title: okTitle, Message: okMessage})
		return
	}
	c.notifier.Notify(notify.Notification{Kind: notify.Error, Title: failTitle, Message: Describe(err)})
}

// Describe turns an operation error into the message shown to the user.
func Describe(err error) string {
	var pe *model.PublishError
	var mi *model.MissingIdentityError
	var poll *model.PollError
	switch {
	case errors.As(err, &pe) && pe.Uncertain:
		return "LinkedIn did not confirm the post: " + pe.Message + ". Check the profile before trying again."
	case errors.As(err, &pe):
		return "LinkedIn rejected the post: " + pe.Message + ". Your draft is unchanged, try again."
	case errors.As(err, &mi):
		return "Missing " + mi.Field + ". Reopen the post and try again."
	case errors.As(err, &poll):
		return "The poll is invalid: " + poll.Reason + "."
	case errors.Is(err, model.ErrOperationInProgress):
		return "This post is already being saved or published."
	case errors.Is(err, model.ErrTerminalState):
		return "This post has already been posted."
	case errors.Is(err, model.ErrInvalidSchedule):
		return "Pick a time in the future."
	case errors.Is(err, model.ErrEmptyContent):
		return "Write something before saving the post."
	case errors.Is(err, model.ErrStore):
		return "The post could not be saved. Your draft is unchanged, try again."
	default:
		return err.Error()
	}
}

func validFormat(tag model.FormatTag) bool {
	switch tag {
	case model.FormatBold, model.FormatItalic, model.FormatUnderline, model.FormatStrikethrough:
		return true
	}
	return false
}
