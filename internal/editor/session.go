// Package editor keeps the open editing sessions and serves them over HTTP.
package editor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/notify"
	"github.com/debemdeboas/postdeck/internal/repository"
	"github.com/debemdeboas/postdeck/internal/toolbar"
)

var editorLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	editorLogger = l
}

// Session is one user's editing session of one post.
type Session struct {
	*toolbar.Controller

	ID     string
	Owner  model.UserID
	Opened time.Time

	lastSeen atomic.Int64
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// NotifierFunc returns where the notifications of a post's session go.
type NotifierFunc func(key model.PostKey) notify.Notifier

// Registry holds at most one session per post.
type Registry struct {
	repo        repository.PostRepository
	coord       toolbar.Coordinator
	opts        toolbar.Options
	notifierFor NotifierFunc

	mu       sync.Mutex
	sessions map[model.PostKey]*Session
}

func NewRegistry(repo repository.PostRepository, coord toolbar.Coordinator, opts toolbar.Options, notifierFor NotifierFunc) *Registry {
	return &Registry{
		repo:        repo,
		coord:       coord,
		opts:        opts,
		notifierFor: notifierFor,
		sessions:    make(map[model.PostKey]*Session),
	}
}

// Open returns the post's session, starting one from the stored post if none is open.
func (r *Registry) Open(ctx context.Context, owner model.UserID, key model.PostKey) (*Session, error) {
	if s, ok := r.Get(key); ok {
		return s, nil
	}

	post, err := r.repo.ReadPost(ctx, key)
	if err != nil {
		return nil, err
	}

	// A client without a profile can still be edited; Post Now reports the missing profile.
	var profile model.ProfileID
	client, err := r.repo.ReadClient(ctx, key.Agency, key.Client)
	switch {
	case err == nil:
		profile = client.ProfileID
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	opts := r.opts
	if r.notifierFor != nil {
		opts.Notifier = r.notifierFor(key)
	}
	ctrl, err := toolbar.NewController(ctx, r.coord, post, profile, opts)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Controller: ctrl,
		ID:         uuid.New().String(),
		Owner:      owner,
		Opened:     time.Now().UTC(),
	}
	s.touch()

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[key]; ok {
		return existing, nil
	}
	r.sessions[key] = s
	editorLogger.Debug().Str("post", key.String()).Str("session", s.ID).Msg("Editing session opened")
	return s, nil
}

func (r *Registry) Get(key model.PostKey) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if ok {
		s.touch()
	}
	return s, ok
}

func (r *Registry) Close(key model.PostKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		delete(r.sessions, key)
		editorLogger.Debug().Str("post", key.String()).Str("session", s.ID).Msg("Editing session closed")
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SetProfile updates the open sessions of a client after its profile changed.
func (r *Registry) SetProfile(agency model.AgencyID, client model.ClientID, profile model.ProfileID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, s := range r.sessions {
		if key.Agency == agency && key.Client == client {
			s.SetProfile(profile)
		}
	}
}

// Sweep closes sessions not used for longer than idle and returns how many were closed.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()
	closed := 0
	for key, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(r.sessions, key)
			closed++
		}
	}
	if closed > 0 {
		editorLogger.Info().Int("closed", closed).Msg("Closed idle editing sessions")
	}
	return closed
}
