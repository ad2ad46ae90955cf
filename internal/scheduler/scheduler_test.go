package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/debemdeboas/postdeck/internal/db"
	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/notify"
	"github.com/debemdeboas/postdeck/internal/publish"
	"github.com/debemdeboas/postdeck/internal/publisher"
	"github.com/debemdeboas/postdeck/internal/repository"
	"github.com/debemdeboas/postdeck/internal/util/compression"
)

type stubPublisher struct {
	calls atomic.Int32
	err   error
}

func (s *stubPublisher) Publish(context.Context, publisher.Request) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return "urn:li:share:42", nil
}

type busyPublisher struct{}

func (busyPublisher) PublishDue(context.Context, publish.PublishContext) (publish.Result, error) {
	return publish.Result{}, model.ErrOperationInProgress
}

type fixture struct {
	sched *Scheduler
	store *repository.MemoryPostRepository
	pub   *stubPublisher
	notes *notify.Recorder
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	SetLogger(zerolog.Nop())
	publish.SetLogger(zerolog.Nop())

	now := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)
	store := repository.NewMemoryPostRepository()
	pub := &stubPublisher{}
	coord := publish.NewCoordinator(store, pub, publish.Options{Now: func() time.Time { return now }})

	notes := &notify.Recorder{}
	s := New(store, coord, func(model.PostKey) notify.Notifier { return notes }, time.Minute)
	s.now = func() time.Time { return now }
	return &fixture{sched: s, store: store, pub: pub, notes: notes, now: now}
}

func (f *fixture) scheduled(t *testing.T, id model.PostID, at time.Time, withProfile bool) model.PostKey {
	t.Helper()
	p := &model.Post{ID: id, Agency: "a1", Client: "c1", Status: model.StatusScheduled, ScheduledAt: &at, Content: "Launch day"}
	f.store.Put(p)
	if withProfile {
		if err := f.store.SaveClient(context.Background(), &model.Client{ID: "c1", Agency: "a1", ProfileID: "urn:li:person:1"}); err != nil {
			t.Fatal(err)
		}
	}
	return p.Key()
}

func (f *fixture) status(t *testing.T, key model.PostKey) model.Status {
	t.Helper()
	p, err := f.store.ReadPost(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	return p.Status
}

func TestTickPublishesDuePosts(t *testing.T) {
	f := newFixture(t)
	due := f.scheduled(t, "due", f.now.Add(-time.Hour), true)
	later := f.scheduled(t, "later", f.now.Add(time.Hour), true)

	if n := f.sched.Tick(context.Background()); n != 1 {
		t.Fatalf("Expected 1 post published, got %d", n)
	}
	if got := f.status(t, due); got != model.StatusPosted {
		t.Errorf("Expected due post to be posted, got %s", got)
	}
	if got := f.status(t, later); got != model.StatusScheduled {
		t.Errorf("Expected future post to stay scheduled, got %s", got)
	}

	sent := f.notes.Sent()
	if len(sent) != 1 || sent[0].Kind != notify.Info {
		t.Fatalf("Expected one info notification, got %+v", sent)
	}

	if n := f.sched.Tick(context.Background()); n != 0 {
		t.Errorf("Expected nothing left to publish, got %d", n)
	}
	if f.pub.calls.Load() != 1 {
		t.Errorf("Expected 1 publisher call, got %d", f.pub.calls.Load())
	}
}

func TestTickMissingProfile(t *testing.T) {
	f := newFixture(t)
	key := f.scheduled(t, "p1", f.now.Add(-time.Minute), false)

	f.sched.Tick(context.Background())
	f.sched.Tick(context.Background())

	if f.pub.calls.Load() != 0 {
		t.Error("Expected no publisher call without a profile")
	}
	sent := f.notes.Sent()
	if len(sent) != 1 || sent[0].Kind != notify.Error {
		t.Fatalf("Expected a single error notification, got %+v", sent)
	}
	if got := f.status(t, key); got != model.StatusScheduled {
		t.Errorf("Expected post to stay scheduled, got %s", got)
	}

	t.Run("Rescheduling makes it eligible again", func(t *testing.T) {
		if err := f.store.SaveClient(context.Background(), &model.Client{ID: "c1", Agency: "a1", ProfileID: "urn:li:person:1"}); err != nil {
			t.Fatal(err)
		}
		f.sched.Tick(context.Background())
		if f.pub.calls.Load() != 0 {
			t.Fatal("Expected the failed schedule to be skipped")
		}

		at := f.now.Add(-time.Second)
		status := model.StatusScheduled
		if err := f.store.WritePost(context.Background(), key, model.PostPatch{Status: &status, ScheduledAt: &at}); err != nil {
			t.Fatal(err)
		}
		if n := f.sched.Tick(context.Background()); n != 1 {
			t.Errorf("Expected the rescheduled post to publish, got %d", n)
		}
	})
}

func TestTickTemporaryFailure(t *testing.T) {
	f := newFixture(t)
	key := f.scheduled(t, "p1", f.now.Add(-time.Minute), true)
	f.pub.err = &model.PublishError{Message: "rate limited", Temporary: true}

	f.sched.Tick(context.Background())
	f.sched.Tick(context.Background())
	if f.pub.calls.Load() != 2 {
		t.Errorf("Expected a retry on every tick, got %d calls", f.pub.calls.Load())
	}
	if sent := f.notes.Sent(); len(sent) != 1 {
		t.Fatalf("Expected the failure to be reported once, got %+v", sent)
	}

	f.pub.err = nil
	if n := f.sched.Tick(context.Background()); n != 1 {
		t.Fatalf("Expected the retry to publish, got %d", n)
	}
	if got := f.status(t, key); got != model.StatusPosted {
		t.Errorf("Expected posted, got %s", got)
	}
	if sent := f.notes.Sent(); len(sent) != 2 || sent[1].Kind != notify.Info {
		t.Errorf("Expected a success notification, got %+v", sent)
	}
}

func TestTickUncertainFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	key := f.scheduled(t, "p1", f.now.Add(-time.Minute), true)
	f.pub.err = &model.PublishError{Message: "request timed out, the post may have been published", Uncertain: true}

	f.sched.Tick(context.Background())
	f.pub.err = nil
	// Let the publish lease lapse so only the scheduler can hold the post back
	if err := f.store.ReleasePost(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	f.sched.Tick(context.Background())
	f.sched.Tick(context.Background())

	if f.pub.calls.Load() != 1 {
		t.Errorf("Expected a single publish call, got %d", f.pub.calls.Load())
	}
	sent := f.notes.Sent()
	if len(sent) != 1 || sent[0].Kind != notify.Error {
		t.Fatalf("Expected the failure to be reported once, got %+v", sent)
	}
	if got := f.status(t, key); got != model.StatusScheduled {
		t.Errorf("Expected post to stay scheduled, got %s", got)
	}
}

func TestTickSkipsBusyPosts(t *testing.T) {
	f := newFixture(t)
	f.scheduled(t, "p1", f.now.Add(-time.Minute), true)

	notes := &notify.Recorder{}
	s := New(f.store, busyPublisher{}, func(model.PostKey) notify.Notifier { return notes }, 0)
	s.now = func() time.Time { return f.now }

	if n := s.Tick(context.Background()); n != 0 {
		t.Errorf("Expected nothing published, got %d", n)
	}
	if len(notes.Sent()) != 0 {
		t.Errorf("Expected busy posts to be skipped silently, got %+v", notes.Sent())
	}
	if s.interval != 30*time.Second {
		t.Errorf("Expected default interval, got %s", s.interval)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.scheduled(t, "p1", f.now.Add(-time.Minute), true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for f.pub.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("Expected Run to tick immediately")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestTickPublishesPostScheduledElsewhere(t *testing.T) {
	SetLogger(zerolog.Nop())
	publish.SetLogger(zerolog.Nop())
	db.SetLogger(zerolog.Nop())
	repository.SetLogger(zerolog.Nop())
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	open := func() *repository.DBPostRepository {
		sqlite := db.NewSQLite(path)
		if err := sqlite.InitDb(); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { sqlite.Close() })
		r := repository.NewDBPostRepository(sqlite, compression.ZstdCompressor{})
		if err := r.Init(ctx); err != nil {
			t.Fatal(err)
		}
		return r
	}

	now := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	// The server has the post loaded before the CLI schedules it
	server := open()
	post, err := server.CreatePost(ctx, "a1", "c1", "Launch", "Launch day")
	if err != nil {
		t.Fatal(err)
	}
	if err := server.SaveClient(ctx, &model.Client{ID: "c1", Agency: "a1", ProfileID: "urn:li:person:1"}); err != nil {
		t.Fatal(err)
	}
	pub := &stubPublisher{}
	coord := publish.NewCoordinator(server, pub, publish.Options{Now: clock})
	if _, err := coord.State(ctx, post.Key()); err != nil {
		t.Fatal(err)
	}

	cli := open()
	cliCoord := publish.NewCoordinator(cli, publisher.DryRun{}, publish.Options{Now: clock})
	if _, err := cliCoord.Schedule(ctx, post.Key(), model.Snapshot{Content: "Launch day"}, now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	notes := &notify.Recorder{}
	s := New(server, coord, func(model.PostKey) notify.Notifier { return notes }, time.Minute)
	now = now.Add(61 * time.Minute)
	s.now = clock

	if n := s.Tick(ctx); n != 1 {
		t.Fatalf("Expected the post to publish, got %d (notifications %+v)", n, notes.Sent())
	}
	if pub.calls.Load() != 1 {
		t.Errorf("Expected one publish call, got %d", pub.calls.Load())
	}
	stored, err := cli.ReadPost(ctx, post.Key())
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.StatusPosted {
		t.Errorf("Expected the other process to see it posted, got %s", stored.Status)
	}
}
