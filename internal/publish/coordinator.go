// Package publish runs the Add to Queue, Schedule and Post Now commands against the store
// and the publishing API.
package publish

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/debemdeboas/postdeck/internal/cache"
	"github.com/debemdeboas/postdeck/internal/lifecycle"
	"github.com/debemdeboas/postdeck/internal/metrics"
	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/publisher"
	"github.com/debemdeboas/postdeck/internal/repository"
)

var publishLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	publishLogger = l
}

const (
	OpAddToQueue = "add_to_queue"
	OpSchedule   = "schedule"
	OpPostNow    = "post_now"
	OpPublishDue = "publish_due"
)

// Result is the committed outcome of an operation.
type Result struct {
	State          lifecycle.State
	ExternalPostID string
}

type Options struct {
	// RetryInitial and RetryMaxElapsed bound the backoff of store writes. A zero RetryMaxElapsed
	// disables retries.
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration

	// ClaimTTL bounds how long a publish holds its lease on stores that are Claimers.
	ClaimTTL time.Duration

	Now func() time.Time
}

type Coordinator struct {
	store     repository.Store
	publisher publisher.Publisher

	// unsaved holds posts that are live but whose Posted record could not be written. They read
	// as Posted until the store has them.
	unsaved *cache.Cache[model.PostKey, lifecycle.State]
	// uploads maps media file ids to the image URN they were uploaded as.
	uploads *cache.Cache[string, string]

	mu       sync.Mutex
	inFlight map[model.PostKey]string

	opts Options
}

func NewCoordinator(store repository.Store, pub publisher.Publisher, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 200 * time.Millisecond
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 10 * time.Minute
	}
	return &Coordinator{
		store:     store,
		publisher: pub,
		unsaved:   cache.NewCache[model.PostKey, lifecycle.State](),
		uploads:   cache.NewCache[string, string](),
		inFlight:  make(map[model.PostKey]string),
		opts:      opts,
	}
}

func (c *Coordinator) acquire(key model.PostKey, op string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[key]; busy {
		return false
	}
	c.inFlight[key] = op
	return true
}

func (c *Coordinator) release(key model.PostKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}

// InFlight reports whether an operation currently holds key.
func (c *Coordinator) InFlight(key model.PostKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inFlight[key]
	return busy
}

// State returns the committed lifecycle state of a post, read from the store so that commits
// made by other processes are seen.
func (c *Coordinator) State(ctx context.Context, key model.PostKey) (lifecycle.State, error) {
	if s, ok := c.unsaved.Get(key); ok {
		return s, nil
	}

	post, err := c.store.ReadPost(ctx, key)
	if err != nil {
		return lifecycle.Draft{}, storeError(err)
	}
	return lifecycle.FromRecord(post), nil
}

// Forget drops a live-but-unsaved override once the store has been repaired by hand.
func (c *Coordinator) Forget(key model.PostKey) {
	c.unsaved.Delete(key)
}

func (c *Coordinator) AddToQueue(ctx context.Context, key model.PostKey, draft model.Snapshot) (Result, error) {
	draft = draft.Clone()
	return c.run(ctx, OpAddToQueue, key, func(ctx context.Context, from lifecycle.State) (Result, error) {
		to, err := lifecycle.Transition(from, lifecycle.AddToQueue{}, draft.Content, c.opts.Now())
		if err != nil {
			return Result{State: from}, err
		}
		if err := c.write(ctx, key, lifecycle.Patch(to, draft)); err != nil {
			return Result{State: from}, err
		}
		return Result{State: to}, nil
	})
}

// Schedule also reschedules a post that is already Scheduled. A Posted post is refused before
// the time is looked at.
func (c *Coordinator) Schedule(ctx context.Context, key model.PostKey, draft model.Snapshot, at time.Time) (Result, error) {
	draft = draft.Clone()
	return c.run(ctx, OpSchedule, key, func(ctx context.Context, from lifecycle.State) (Result, error) {
		to, err := lifecycle.Transition(from, lifecycle.Schedule{At: at}, draft.Content, c.opts.Now())
		if err != nil {
			return Result{State: from}, err
		}
		if err := c.write(ctx, key, lifecycle.Patch(to, draft)); err != nil {
			return Result{State: from}, err
		}
		return Result{State: to}, nil
	})
}

// PostNow publishes draft immediately. A missing identity field fails before any network call.
func (c *Coordinator) PostNow(ctx context.Context, pc PublishContext, draft model.Snapshot) (Result, error) {
	if err := pc.Validate(); err != nil {
		metrics.ObserveOperation(OpPostNow, metrics.OutcomeRejected)
		return Result{}, err
	}

	draft = draft.Clone()
	return c.run(ctx, OpPostNow, pc.Key(), func(ctx context.Context, from lifecycle.State) (Result, error) {
		return c.publish(ctx, pc, from, draft, false)
	})
}

// PublishDue publishes a Scheduled post whose time has come, using its stored content.
func (c *Coordinator) PublishDue(ctx context.Context, pc PublishContext) (Result, error) {
	if err := pc.Validate(); err != nil {
		metrics.ObserveOperation(OpPublishDue, metrics.OutcomeRejected)
		return Result{}, err
	}

	key := pc.Key()
	return c.run(ctx, OpPublishDue, key, func(ctx context.Context, from lifecycle.State) (Result, error) {
		scheduled, ok := from.(lifecycle.Scheduled)
		if !ok {
			if lifecycle.IsTerminal(from) {
				return Result{State: from}, model.ErrTerminalState
			}
			return Result{State: from}, fmt.Errorf("%w: %s post is not scheduled", model.ErrInvalidTransition, from.Status())
		}
		if scheduled.At.After(c.opts.Now()) {
			return Result{State: from}, fmt.Errorf("%w: post is due at %s", model.ErrInvalidTransition, scheduled.At.Format(time.RFC3339))
		}

		post, err := c.store.ReadPost(ctx, key)
		if err != nil {
			return Result{State: from}, storeError(err)
		}
		draft := model.Snapshot{Content: post.Content, Attachment: post.Attachment}
		return c.publish(ctx, pc, from, draft, true)
	})
}

// publish sends draft to the publishing API under the store's lease and commits Posted. When
// stored is set the draft is the stored record, and newly uploaded image URNs are saved with it
// even if the publish fails.
func (c *Coordinator) publish(ctx context.Context, pc PublishContext, from lifecycle.State, draft model.Snapshot, stored bool) (Result, error) {
	key := pc.Key()

	// Check the guards with a placeholder id so nothing invalid reaches the network
	if _, err := lifecycle.Transition(from, lifecycle.Published{At: c.opts.Now(), ExternalPostID: "pending"}, draft.Content, c.opts.Now()); err != nil {
		return Result{State: from}, err
	}

	claimer, _ := c.store.(repository.Claimer)
	if claimer != nil {
		now := c.opts.Now()
		ok, err := claimer.ClaimPost(ctx, key, now, now.Add(c.opts.ClaimTTL))
		if err != nil {
			return Result{State: from}, storeError(err)
		}
		if !ok {
			return Result{State: from}, model.ErrOperationInProgress
		}
	}
	release := func() {
		if claimer == nil {
			return
		}
		if err := claimer.ReleasePost(ctx, key); err != nil {
			publishLogger.Warn().Err(err).Str("post", key.String()).Msg("Error releasing publish claim")
		}
	}

	draft = c.withUploads(draft)
	uploaded := 0

	start := time.Now()
	externalID, err := c.publisher.Publish(ctx, publisher.Request{
		Author:     pc.Profile,
		Content:    draft.Content,
		Attachment: draft.Attachment,
		Uploaded: func(f model.MediaFile) {
			c.uploads.Set(f.ID, f.ExternalID)
			uploaded++
		},
	})
	metrics.ObservePublish(time.Since(start).Seconds())
	draft = c.withUploads(draft)

	if err != nil {
		var pe *model.PublishError
		if !errors.As(err, &pe) {
			pe = &model.PublishError{Message: err.Error()}
			err = pe
		}
		if stored && uploaded > 0 {
			c.saveUploads(ctx, key, draft)
		}
		// An uncertain publish keeps the lease until it expires
		if !pe.Uncertain {
			release()
		}
		return Result{State: from}, err
	}

	to, err := lifecycle.Transition(from, lifecycle.Published{At: c.opts.Now().UTC(), ExternalPostID: externalID}, draft.Content, c.opts.Now())
	if err != nil {
		release()
		return Result{State: from}, err
	}

	if err := c.write(ctx, key, lifecycle.Patch(to, draft)); err != nil {
		// The post is live; keep it Posted and keep the lease so it can never be published twice.
		c.unsaved.Set(key, to)
		publishLogger.Error().Err(err).
			Str("post", key.String()).
			Str("external_post_id", externalID).
			Msg("Post published but the store write failed")
		return Result{State: to, ExternalPostID: externalID}, err
	}
	c.unsaved.Delete(key)
	release()

	return Result{State: to, ExternalPostID: externalID}, nil
}

// withUploads fills in the image URNs of media files uploaded by an earlier attempt.
func (c *Coordinator) withUploads(draft model.Snapshot) model.Snapshot {
	m, ok := draft.Attachment.(model.Media)
	if !ok {
		return draft
	}
	files := slices.Clone(m.Files)
	for i := range files {
		if files[i].ExternalID != "" {
			continue
		}
		if urn, ok := c.uploads.Get(files[i].ID); ok {
			files[i].ExternalID = urn
		}
	}
	return draft.WithAttachment(model.Media{Files: files})
}

func (c *Coordinator) saveUploads(ctx context.Context, key model.PostKey, draft model.Snapshot) {
	patch := model.PostPatch{Attachment: model.CloneAttachment(draft.Attachment), SetAttachment: true}
	if err := c.store.WritePost(ctx, key, patch); err != nil {
		publishLogger.Warn().Err(err).Str("post", key.String()).Msg("Error saving uploaded media")
	}
}

type step func(ctx context.Context, from lifecycle.State) (Result, error)

func (c *Coordinator) run(ctx context.Context, op string, key model.PostKey, fn step) (Result, error) {
	if !c.acquire(key, op) {
		metrics.ObserveOperation(op, metrics.OutcomeBusy)
		publishLogger.Debug().Str("op", op).Str("post", key.String()).Msg("Operation rejected, another is in flight")
		return Result{}, model.ErrOperationInProgress
	}
	defer c.release(key)

	metrics.OperationStarted()
	defer metrics.OperationFinished()

	// The caller may go away; the committed result must still land
	ctx = context.WithoutCancel(ctx)

	from, err := c.State(ctx, key)
	if err != nil {
		metrics.ObserveOperation(op, metrics.OutcomeFailed)
		return Result{State: from}, err
	}

	res, err := fn(ctx, from)
	log := publishLogger.With().Str("op", op).Str("post", key.String()).Str("from", string(from.Status())).Logger()

	switch {
	case err == nil:
		metrics.ObserveOperation(op, metrics.OutcomeOK)
		log.Info().Str("to", string(res.State.Status())).Str("external_post_id", res.ExternalPostID).Msg("Operation committed")
	case errors.Is(err, model.ErrTerminalState), errors.Is(err, model.ErrInvalidTransition):
		metrics.ObserveOperation(op, metrics.OutcomeRejected)
		log.Warn().Err(err).Msg("Lifecycle guard rejected operation")
	case errors.Is(err, model.ErrOperationInProgress):
		metrics.ObserveOperation(op, metrics.OutcomeBusy)
		log.Debug().Msg("Post is being published elsewhere")
	case model.IsValidation(err):
		metrics.ObserveOperation(op, metrics.OutcomeRejected)
		log.Debug().Err(err).Msg("Validation failed")
	default:
		metrics.ObserveOperation(op, metrics.OutcomeFailed)
		log.Error().Err(err).Msg("Operation failed")
	}

	if res.State == nil {
		res.State = from
	}
	return res, err
}

func (c *Coordinator) write(ctx context.Context, key model.PostKey, patch model.PostPatch) error {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if c.opts.RetryMaxElapsed > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.opts.RetryInitial
		exp.MaxElapsedTime = c.opts.RetryMaxElapsed
		b = exp
	}

	op := func() error {
		err := c.store.WritePost(ctx, key, patch)
		if errors.Is(err, model.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.StoreRetried()
		publishLogger.Warn().Err(err).Str("post", key.String()).Dur("retry_in", wait).Msg("Store write failed, retrying")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return storeError(err)
	}
	return nil
}

func storeError(err error) error {
	if errors.Is(err, model.ErrStore) || errors.Is(err, model.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrStore, err)
}
