// Package scheduler publishes Scheduled posts once their time has come.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/notify"
	"github.com/debemdeboas/postdeck/internal/publish"
)

var schedulerLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	schedulerLogger = l
}

// User is the identity recorded on publishes made by the scheduler.
const User model.UserID = "scheduler"

type Source interface {
	DuePosts(ctx context.Context, now time.Time) ([]model.Post, error)
	ReadClient(ctx context.Context, agency model.AgencyID, client model.ClientID) (*model.Client, error)
}

type Publisher interface {
	PublishDue(ctx context.Context, pc publish.PublishContext) (publish.Result, error)
}

// NotifierFunc returns where the outcome of a post's publish is reported.
type NotifierFunc func(key model.PostKey) notify.Notifier

// Scheduler is driven by a single goroutine; Tick is not safe for concurrent use.
type Scheduler struct {
	source      Source
	publisher   Publisher
	notifierFor NotifierFunc
	interval    time.Duration
	now         func() time.Time

	// failed holds posts that failed for good, by the schedule time that failed. Rescheduling
	// makes a post eligible again.
	failed map[model.PostKey]time.Time
	// retrying holds posts whose temporary failure was already reported.
	retrying map[model.PostKey]bool
}

func New(source Source, publisher Publisher, notifierFor NotifierFunc, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		source:      source,
		publisher:   publisher,
		notifierFor: notifierFor,
		interval:    interval,
		now:         time.Now,
		failed:      make(map[model.PostKey]time.Time),
		retrying:    make(map[model.PostKey]bool),
	}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	schedulerLogger.Info().Dur("interval", s.interval).Msg("Scheduler started")
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			schedulerLogger.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick publishes every post due now and returns how many were published.
func (s *Scheduler) Tick(ctx context.Context) int {
	due, err := s.source.DuePosts(ctx, s.now())
	if err != nil {
		schedulerLogger.Error().Err(err).Msg("Error listing due posts")
		return 0
	}

	published := 0
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		if s.publishOne(ctx, &due[i]) {
			published++
		}
	}
	return published
}

func (s *Scheduler) publishOne(ctx context.Context, post *model.Post) bool {
	key := post.Key()
	log := schedulerLogger.With().Str("post", key.String()).Logger()

	if at, ok := s.failed[key]; ok && post.ScheduledAt != nil && at.Equal(*post.ScheduledAt) {
		return false
	}

	var profile model.ProfileID
	client, err := s.source.ReadClient(ctx, post.Agency, post.Client)
	if err == nil {
		profile = client.ProfileID
	} else if !errors.Is(err, model.ErrNotFound) {
		log.Error().Err(err).Msg("Error reading client")
		return false
	}

	pc := publish.PublishContext{User: User, Agency: post.Agency, Client: post.Client, Post: post.ID, Profile: profile}
	res, err := s.publisher.PublishDue(ctx, pc)

	// Another operation holds the post; the next tick retries.
	if errors.Is(err, model.ErrOperationInProgress) {
		log.Debug().Msg("Post busy, retrying on the next tick")
		return false
	}

	// Live on LinkedIn but not saved. The coordinator keeps it Posted, so later ticks must not
	// report it again.
	if err != nil && res.ExternalPostID != "" {
		log.Error().Err(err).Str("external_post_id", res.ExternalPostID).Msg("Scheduled post published but not saved")
		s.markFailed(post)
		s.notifyPublished(key, post)
		return true
	}
	if errors.Is(err, model.ErrTerminalState) {
		s.markFailed(post)
		return false
	}

	if err == nil {
		delete(s.failed, key)
		delete(s.retrying, key)
		log.Info().Str("external_post_id", res.ExternalPostID).Msg("Scheduled post published")
		s.notifyPublished(key, post)
		return true
	}

	// An uncertain publish may be live already; retrying could post it twice
	var pe *model.PublishError
	isPublishErr := errors.As(err, &pe)
	temporary := (isPublishErr && pe.Temporary && !pe.Uncertain) || errors.Is(err, model.ErrStore)
	if temporary {
		log.Warn().Err(err).Msg("Scheduled publish failed, retrying on the next tick")
		if s.retrying[key] {
			return false
		}
		s.retrying[key] = true
	} else {
		log.Error().Err(err).Bool("uncertain", isPublishErr && pe.Uncertain).Msg("Scheduled publish failed")
		s.markFailed(post)
	}

	s.notify(key, notify.Notification{
		Kind:    notify.Error,
		Title:   "Scheduled post failed",
		Message: post.DisplayTitle() + ": " + err.Error(),
	})
	return false
}

func (s *Scheduler) markFailed(post *model.Post) {
	key := post.Key()
	delete(s.retrying, key)
	if post.ScheduledAt != nil {
		s.failed[key] = *post.ScheduledAt
	}
}

func (s *Scheduler) notifyPublished(key model.PostKey, post *model.Post) {
	s.notify(key, notify.Notification{
		Kind:    notify.Info,
		Title:   "Scheduled post published",
		Message: post.DisplayTitle() + " is live on LinkedIn.",
	})
}

func (s *Scheduler) notify(key model.PostKey, n notify.Notification) {
	if s.notifierFor != nil {
		s.notifierFor(key).Notify(n)
	}
}
