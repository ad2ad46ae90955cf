package publish

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/debemdeboas/postdeck/internal/lifecycle"
	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/publisher"
	"github.com/debemdeboas/postdeck/internal/repository"
)

// fakePublisher returns queued errors first, then successes. If gate is set, each call waits on it.
// Media files without an image URN are uploaded and reported before any error.
type fakePublisher struct {
	calls   atomic.Int32
	uploads atomic.Int32
	mu      sync.Mutex
	errs    []error
	gate    chan struct{}
	entered chan struct{}
	last    publisher.Request
}

func (f *fakePublisher) Publish(ctx context.Context, req publisher.Request) (string, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}

	if m, ok := req.Attachment.(model.Media); ok {
		for _, file := range m.Files {
			if file.ExternalID == "" {
				f.uploads.Add(1)
				file.ExternalID = "urn:li:image:" + file.ID
				req.Uploaded(file)
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	return "urn:li:share:42", nil
}

type fixture struct {
	store *repository.MemoryPostRepository
	pub   *fakePublisher
	coord *Coordinator
	key   model.PostKey
	pc    PublishContext
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)

	store := repository.NewMemoryPostRepository()
	store.Put(&model.Post{ID: "post-1", Agency: "agency-1", Client: "client-1", Status: model.StatusDraft})

	pub := &fakePublisher{}
	coord := NewCoordinator(store, pub, Options{
		RetryInitial:    time.Millisecond,
		RetryMaxElapsed: 20 * time.Millisecond,
		Now:             func() time.Time { return now },
	})

	pc, err := NewPublishContext("user-1", "client-1", "post-1", "profile-1", "agency-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	return &fixture{store: store, pub: pub, coord: coord, key: pc.Key(), pc: pc, now: now}
}

func (f *fixture) stored(t *testing.T) *model.Post {
	t.Helper()
	p, err := f.store.ReadPost(context.Background(), f.key)
	if err != nil {
		t.Fatalf("ReadPost failed: %v", err)
	}
	return p
}

func TestLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := model.Snapshot{Content: "Hello"}

	res, err := f.coord.AddToQueue(ctx, f.key, draft)
	if err != nil {
		t.Fatalf("AddToQueue failed: %v", err)
	}
	if res.State.Status() != model.StatusQueued || f.stored(t).Status != model.StatusQueued {
		t.Fatalf("Expected Queued, got %s", res.State.Status())
	}

	futureT := f.now.Add(24 * time.Hour)
	res, err = f.coord.Schedule(ctx, f.key, draft, futureT)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if s, ok := res.State.(lifecycle.Scheduled); !ok || !s.At.Equal(futureT) {
		t.Fatalf("Expected Scheduled at %v, got %#v", futureT, res.State)
	}
	if at := f.stored(t).ScheduledAt; at == nil || !at.Equal(futureT) {
		t.Errorf("Expected stored scheduledAt %v, got %v", futureT, at)
	}

	res, err = f.coord.PostNow(ctx, f.pc, draft)
	if err != nil {
		t.Fatalf("PostNow failed: %v", err)
	}
	if res.ExternalPostID != "urn:li:share:42" {
		t.Errorf("Expected external id to be surfaced, got %q", res.ExternalPostID)
	}
	post := f.stored(t)
	if post.Status != model.StatusPosted || post.PostedAt == nil || post.ExternalPostID != "urn:li:share:42" {
		t.Fatalf("Expected stored Posted record, got %+v", post)
	}
	if post.ScheduledAt == nil {
		t.Error("Expected an early-posted post to keep its original schedule")
	}

	if _, err := f.coord.Schedule(ctx, f.key, draft, futureT); !errors.Is(err, model.ErrTerminalState) {
		t.Errorf("Expected ErrTerminalState, got %v", err)
	}
	if _, err := f.coord.AddToQueue(ctx, f.key, draft); !errors.Is(err, model.ErrTerminalState) {
		t.Errorf("Expected ErrTerminalState, got %v", err)
	}
	if _, err := f.coord.PostNow(ctx, f.pc, draft); !errors.Is(err, model.ErrTerminalState) {
		t.Errorf("Expected ErrTerminalState, got %v", err)
	}
	if f.pub.calls.Load() != 1 {
		t.Errorf("Expected exactly one publish call, got %d", f.pub.calls.Load())
	}
}

func TestPostNowFailureThenRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := model.Snapshot{Content: "Hello", Attachment: model.Poll{Options: []string{"A", "B"}, DurationDays: 3}}

	if _, err := f.coord.AddToQueue(ctx, f.key, draft); err != nil {
		t.Fatal(err)
	}
	f.pub.errs = []error{&model.PublishError{Message: "rate limited", Temporary: true}}

	res, err := f.coord.PostNow(ctx, f.pc, draft)
	var pe *model.PublishError
	if !errors.As(err, &pe) || pe.Message != "rate limited" {
		t.Fatalf("Expected rate limited PublishError, got %v", err)
	}
	if res.State.Status() != model.StatusQueued {
		t.Errorf("Expected state to remain Queued, got %s", res.State.Status())
	}
	if f.stored(t).Status != model.StatusQueued {
		t.Error("Failed publish must not touch the store")
	}
	if draft.Content != "Hello" {
		t.Error("Draft must be left intact")
	}

	res, err = f.coord.PostNow(ctx, f.pc, draft)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if res.State.Status() != model.StatusPosted {
		t.Errorf("Expected Posted after retry, got %s", res.State.Status())
	}
	if !model.AttachmentEqual(f.pub.last.Attachment, draft.Attachment) || f.pub.last.Author != "profile-1" {
		t.Errorf("Unexpected publish request %+v", f.pub.last)
	}
}

func TestPostNowMissingIdentity(t *testing.T) {
	testCases := []struct {
		name  string
		build func() (PublishContext, error)
		field string
	}{
		{"No profile", func() (PublishContext, error) {
			return NewPublishContext("user-1", "client-1", "post-1", "", "agency-1")
		}, "profile_id"},
		{"No user", func() (PublishContext, error) {
			return NewPublishContext("", "client-1", "post-1", "profile-1", "agency-1")
		}, "user_id"},
		{"No client", func() (PublishContext, error) {
			return NewPublishContext("user-1", "", "post-1", "profile-1", "agency-1")
		}, "client_id"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.build()
			var mie *model.MissingIdentityError
			if !errors.As(err, &mie) || mie.Field != tc.field {
				t.Fatalf("Expected missing %s, got %v", tc.field, err)
			}
		})
	}

	t.Run("Zero context makes no network call", func(t *testing.T) {
		f := newFixture(t)
		pc := f.pc
		pc.Profile = ""

		_, err := f.coord.PostNow(context.Background(), pc, model.Snapshot{Content: "Hello"})
		if !errors.Is(err, model.ErrMissingIdentity) {
			t.Fatalf("Expected ErrMissingIdentity, got %v", err)
		}
		if f.pub.calls.Load() != 0 {
			t.Errorf("Expected zero publish calls, got %d", f.pub.calls.Load())
		}
	})
}

func TestDoubleInvocation(t *testing.T) {
	f := newFixture(t)
	f.pub.gate = make(chan struct{})
	f.pub.entered = make(chan struct{}, 1)
	draft := model.Snapshot{Content: "Hello"}

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.PostNow(context.Background(), f.pc, draft)
		done <- err
	}()

	<-f.pub.entered
	if !f.coord.InFlight(f.key) {
		t.Error("Expected the post to be in flight")
	}

	if _, err := f.coord.PostNow(context.Background(), f.pc, draft); !errors.Is(err, model.ErrOperationInProgress) {
		t.Errorf("Expected ErrOperationInProgress, got %v", err)
	}
	if _, err := f.coord.AddToQueue(context.Background(), f.key, draft); !errors.Is(err, model.ErrOperationInProgress) {
		t.Errorf("Expected ErrOperationInProgress for a different command, got %v", err)
	}

	close(f.pub.gate)
	if err := <-done; err != nil {
		t.Fatalf("First PostNow failed: %v", err)
	}
	if f.pub.calls.Load() != 1 {
		t.Errorf("Expected exactly one publish call, got %d", f.pub.calls.Load())
	}
	if f.coord.InFlight(f.key) {
		t.Error("Expected the in-flight flag to be released")
	}
}

func TestCallerCancellationDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	f.pub.gate = make(chan struct{})
	f.pub.entered = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.coord.PostNow(ctx, f.pc, model.Snapshot{Content: "Hello"})
		done <- err
	}()

	<-f.pub.entered
	cancel()
	close(f.pub.gate)

	if err := <-done; err != nil {
		t.Fatalf("Expected publish to complete after cancellation, got %v", err)
	}
	if f.stored(t).Status != model.StatusPosted {
		t.Error("Expected result to be committed")
	}
}

func TestDraftCapturedByValue(t *testing.T) {
	f := newFixture(t)
	f.pub.gate = make(chan struct{})
	f.pub.entered = make(chan struct{}, 1)

	options := []string{"A", "B"}
	draft := model.Snapshot{Content: "Hello", Attachment: model.Poll{Options: options, DurationDays: 2}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.coord.PostNow(context.Background(), f.pc, draft)
	}()

	<-f.pub.entered
	options[0] = "edited while in flight"
	close(f.pub.gate)
	<-done

	if got := f.pub.last.Attachment.(model.Poll).Options[0]; got != "A" {
		t.Errorf("Expected captured option 'A', got %q", got)
	}
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := model.Snapshot{Content: "Hello"}

	for _, at := range []time.Time{f.now, f.now.Add(-time.Second), {}} {
		if _, err := f.coord.Schedule(ctx, f.key, draft, at); !errors.Is(err, model.ErrInvalidSchedule) {
			t.Errorf("Expected ErrInvalidSchedule for %v, got %v", at, err)
		}
	}
	if f.store.Writes() != 0 {
		t.Error("Rejected schedule must not write")
	}

	t.Run("Draft to Scheduled", func(t *testing.T) {
		at := f.now.Add(time.Minute)
		res, err := f.coord.Schedule(ctx, f.key, draft, at)
		if err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
		if s := res.State.(lifecycle.Scheduled); !s.At.Equal(at) {
			t.Errorf("Expected scheduledAt %v, got %v", at, s.At)
		}
	})

	t.Run("Reschedule", func(t *testing.T) {
		at := f.now.Add(2 * time.Hour)
		if _, err := f.coord.Schedule(ctx, f.key, draft, at); err != nil {
			t.Fatalf("Reschedule failed: %v", err)
		}
		if got := f.stored(t).ScheduledAt; got == nil || !got.Equal(at) {
			t.Errorf("Expected rescheduled time %v, got %v", at, got)
		}
	})

	t.Run("Queue a scheduled post", func(t *testing.T) {
		if _, err := f.coord.AddToQueue(ctx, f.key, draft); !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestEmptyContentRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.coord.AddToQueue(ctx, f.key, model.Snapshot{Content: "  "}); !errors.Is(err, model.ErrEmptyContent) {
		t.Errorf("Expected ErrEmptyContent, got %v", err)
	}
	if _, err := f.coord.PostNow(ctx, f.pc, model.Snapshot{}); !errors.Is(err, model.ErrEmptyContent) {
		t.Errorf("Expected ErrEmptyContent, got %v", err)
	}
	if f.pub.calls.Load() != 0 || f.store.Writes() != 0 {
		t.Error("Validation failures must not reach the publisher or the store")
	}
}

func TestStoreFailure(t *testing.T) {
	t.Run("Transient failure is retried", func(t *testing.T) {
		f := newFixture(t)
		f.store.FailWrites(2)

		res, err := f.coord.AddToQueue(context.Background(), f.key, model.Snapshot{Content: "Hello"})
		if err != nil {
			t.Fatalf("Expected retries to succeed, got %v", err)
		}
		if res.State.Status() != model.StatusQueued || f.store.Writes() != 3 {
			t.Errorf("Expected Queued after 3 writes, got %s after %d", res.State.Status(), f.store.Writes())
		}
	})

	t.Run("Persistent failure keeps prior state", func(t *testing.T) {
		f := newFixture(t)
		f.store.FailWrites(1 << 20)

		res, err := f.coord.AddToQueue(context.Background(), f.key, model.Snapshot{Content: "Hello"})
		if !errors.Is(err, model.ErrStore) {
			t.Fatalf("Expected ErrStore, got %v", err)
		}
		if res.State.Status() != model.StatusDraft {
			t.Errorf("Expected Draft to remain, got %s", res.State.Status())
		}
		state, _ := f.coord.State(context.Background(), f.key)
		if state.Status() != model.StatusDraft {
			t.Errorf("Committed state must not change, got %s", state.Status())
		}
	})

	t.Run("Published but not stored", func(t *testing.T) {
		f := newFixture(t)
		f.store.FailWrites(1 << 20)

		res, err := f.coord.PostNow(context.Background(), f.pc, model.Snapshot{Content: "Hello"})
		if !errors.Is(err, model.ErrStore) {
			t.Fatalf("Expected ErrStore, got %v", err)
		}
		if res.ExternalPostID == "" || res.State.Status() != model.StatusPosted {
			t.Errorf("Expected the live post to be reported, got %+v", res)
		}

		if _, err := f.coord.PostNow(context.Background(), f.pc, model.Snapshot{Content: "Hello"}); !errors.Is(err, model.ErrTerminalState) {
			t.Errorf("Expected a second publish to be refused, got %v", err)
		}
		if f.pub.calls.Load() != 1 {
			t.Errorf("Expected one publish call, got %d", f.pub.calls.Load())
		}
	})

	t.Run("Missing post", func(t *testing.T) {
		f := newFixture(t)
		key := model.PostKey{Agency: "agency-1", Client: "client-1", Post: "missing"}
		if _, err := f.coord.AddToQueue(context.Background(), key, model.Snapshot{Content: "Hello"}); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestPublishDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := model.Snapshot{Content: "Scheduled hello"}

	if _, err := f.coord.PublishDue(ctx, f.pc); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for a draft, got %v", err)
	}

	at := f.now.Add(time.Hour)
	if _, err := f.coord.Schedule(ctx, f.key, draft, at); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.PublishDue(ctx, f.pc); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("Expected a post that is not yet due to be refused, got %v", err)
	}

	f.now = at
	f.coord.opts.Now = func() time.Time { return f.now }

	res, err := f.coord.PublishDue(ctx, f.pc)
	if err != nil {
		t.Fatalf("PublishDue failed: %v", err)
	}
	if res.State.Status() != model.StatusPosted {
		t.Errorf("Expected Posted, got %s", res.State.Status())
	}
	if f.pub.last.Content != "Scheduled hello" {
		t.Errorf("Expected stored content to be published, got %q", f.pub.last.Content)
	}
}

func TestStateReadsDerivedRecord(t *testing.T) {
	f := newFixture(t)
	// Scheduled flag without a timestamp is a partial write
	f.store.Put(&model.Post{ID: "post-1", Agency: "agency-1", Client: "client-1", Status: model.StatusScheduled})
	f.coord.Forget(f.key)

	state, err := f.coord.State(context.Background(), f.key)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status() != model.StatusDraft {
		t.Errorf("Expected inconsistent record to read as Draft, got %s", state.Status())
	}
}

func TestScheduleOnPostedPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := model.Snapshot{Content: "Hello"}

	if _, err := f.coord.PostNow(ctx, f.pc, draft); err != nil {
		t.Fatal(err)
	}
	for _, at := range []time.Time{f.now.Add(-time.Hour), f.now.Add(time.Hour)} {
		if _, err := f.coord.Schedule(ctx, f.key, draft, at); !errors.Is(err, model.ErrTerminalState) {
			t.Errorf("Expected ErrTerminalState for %v, got %v", at, err)
		}
	}
}

func TestStateSeesOtherWriters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if state, _ := f.coord.State(ctx, f.key); state.Status() != model.StatusDraft {
		t.Fatalf("Expected Draft, got %s", state.Status())
	}

	at := f.now.Add(-time.Minute)
	status := model.StatusScheduled
	if err := f.store.WritePost(ctx, f.key, model.PostPatch{Status: &status, ScheduledAt: &at, Content: ptr("From the CLI")}); err != nil {
		t.Fatal(err)
	}

	state, err := f.coord.State(ctx, f.key)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status() != model.StatusScheduled {
		t.Fatalf("Expected the other writer's Scheduled state, got %s", state.Status())
	}
	if _, err := f.coord.PublishDue(ctx, f.pc); err != nil {
		t.Errorf("Expected the due post to publish, got %v", err)
	}
}

func TestPublishClaimIsShared(t *testing.T) {
	f := newFixture(t)
	f.pub.gate = make(chan struct{})
	f.pub.entered = make(chan struct{}, 1)
	draft := model.Snapshot{Content: "Hello"}

	// A second coordinator on the same store stands in for another process
	otherPub := &fakePublisher{}
	other := NewCoordinator(f.store, otherPub, Options{Now: func() time.Time { return f.now }})

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.PostNow(context.Background(), f.pc, draft)
		done <- err
	}()
	<-f.pub.entered

	if _, err := other.PostNow(context.Background(), f.pc, draft); !errors.Is(err, model.ErrOperationInProgress) {
		t.Errorf("Expected ErrOperationInProgress while the post is claimed, got %v", err)
	}

	close(f.pub.gate)
	if err := <-done; err != nil {
		t.Fatalf("PostNow failed: %v", err)
	}
	if f.store.Claimed(f.key) {
		t.Error("Expected the claim to be released after the commit")
	}

	if _, err := other.PostNow(context.Background(), f.pc, draft); !errors.Is(err, model.ErrTerminalState) {
		t.Errorf("Expected ErrTerminalState once posted, got %v", err)
	}
	if otherPub.calls.Load() != 0 {
		t.Errorf("Expected no publish from the other coordinator, got %d", otherPub.calls.Load())
	}
}

func TestFailedPublishReleasesClaim(t *testing.T) {
	t.Run("Refused", func(t *testing.T) {
		f := newFixture(t)
		f.pub.errs = []error{&model.PublishError{Message: "rate limited", Temporary: true}}

		if _, err := f.coord.PostNow(context.Background(), f.pc, model.Snapshot{Content: "Hello"}); err == nil {
			t.Fatal("Expected the publish to fail")
		}
		if f.store.Claimed(f.key) {
			t.Error("Expected a refused publish to release its claim")
		}
	})

	t.Run("Uncertain", func(t *testing.T) {
		f := newFixture(t)
		f.pub.errs = []error{&model.PublishError{Message: "request timed out", Uncertain: true}}

		if _, err := f.coord.PostNow(context.Background(), f.pc, model.Snapshot{Content: "Hello"}); err == nil {
			t.Fatal("Expected the publish to fail")
		}
		if !f.store.Claimed(f.key) {
			t.Error("Expected an uncertain publish to keep its claim")
		}
		if _, err := f.coord.PostNow(context.Background(), f.pc, model.Snapshot{Content: "Hello"}); !errors.Is(err, model.ErrOperationInProgress) {
			t.Errorf("Expected the claim to block a retry, got %v", err)
		}
		if f.pub.calls.Load() != 1 {
			t.Errorf("Expected one publish call, got %d", f.pub.calls.Load())
		}
	})
}

func TestUploadedMediaIsReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	media := model.Media{Files: []model.MediaFile{{ID: "f1", Name: "one.png"}, {ID: "f2", Name: "two.png"}}}
	draft := model.Snapshot{Content: "Photos", Attachment: media}

	at := f.now.Add(time.Minute)
	if _, err := f.coord.Schedule(ctx, f.key, draft, at); err != nil {
		t.Fatal(err)
	}
	f.now = at
	f.coord.opts.Now = func() time.Time { return f.now }
	f.pub.errs = []error{&model.PublishError{Message: "service unavailable", Temporary: true}}

	if _, err := f.coord.PublishDue(ctx, f.pc); err == nil {
		t.Fatal("Expected the first attempt to fail")
	}
	stored, ok := f.stored(t).Attachment.(model.Media)
	if !ok || stored.Files[0].ExternalID != "urn:li:image:f1" || stored.Files[1].ExternalID != "urn:li:image:f2" {
		t.Errorf("Expected the uploaded urns to be stored, got %#v", f.stored(t).Attachment)
	}

	if _, err := f.coord.PublishDue(ctx, f.pc); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if f.pub.uploads.Load() != 2 {
		t.Errorf("Expected each file to be uploaded once, got %d uploads", f.pub.uploads.Load())
	}

	t.Run("Session draft without urns", func(t *testing.T) {
		g := newFixture(t)
		g.coord.uploads = f.coord.uploads
		if _, err := g.coord.PostNow(ctx, g.pc, draft); err != nil {
			t.Fatal(err)
		}
		if g.pub.uploads.Load() != 0 {
			t.Errorf("Expected known urns to be reused, got %d uploads", g.pub.uploads.Load())
		}
		posted, _ := g.stored(t).Attachment.(model.Media)
		if posted.Files[0].ExternalID != "urn:li:image:f1" {
			t.Errorf("Expected the posted record to carry the urns, got %#v", posted)
		}
	})
}

func ptr[T any](v T) *T { return &v }
