package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/debemdeboas/postdeck/internal/model"
)

type clientKey struct {
	Agency model.AgencyID
	Client model.ClientID
}

// MemoryPostRepository keeps everything in process memory. Writes can be failed on demand.
type MemoryPostRepository struct { // implements PostRepository
	mu      sync.RWMutex
	posts   map[model.PostKey]*model.Post
	clients map[clientKey]*model.Client
	claims  map[model.PostKey]time.Time

	changeNotifier func(model.PostKey)

	failWrites int
	writes     int
}

func NewMemoryPostRepository() *MemoryPostRepository {
	return &MemoryPostRepository{
		posts:   make(map[model.PostKey]*model.Post),
		clients: make(map[clientKey]*model.Client),
		claims:  make(map[model.PostKey]time.Time),
	}
}

func (r *MemoryPostRepository) Init(context.Context) error { return nil }

func (r *MemoryPostRepository) SetChangeNotifier(notifier func(model.PostKey)) {
	r.changeNotifier = notifier
}

// FailWrites makes the next n writes fail with ErrStore.
func (r *MemoryPostRepository) FailWrites(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWrites = n
}

// Writes reports how many writes were attempted.
func (r *MemoryPostRepository) Writes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes
}

// Put stores p as is, replacing any post under the same key.
func (r *MemoryPostRepository) Put(p *model.Post) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts[p.Key()] = clonePost(p)
}

func (r *MemoryPostRepository) ReadPost(_ context.Context, key model.PostKey) (*model.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	post, ok := r.posts[key]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", key, model.ErrNotFound)
	}
	return clonePost(post), nil
}

func (r *MemoryPostRepository) WritePost(_ context.Context, key model.PostKey, patch model.PostPatch) error {
	r.mu.Lock()
	r.writes++
	if r.failWrites > 0 {
		r.failWrites--
		r.mu.Unlock()
		return fmt.Errorf("%w: write to %s refused", model.ErrStore, key)
	}

	post, ok := r.posts[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("post %s: %w", key, model.ErrNotFound)
	}

	updated := clonePost(post)
	patch.Apply(updated)
	updated.ModifiedAt = time.Now().UTC()
	r.posts[key] = updated
	notifier := r.changeNotifier
	r.mu.Unlock()

	if notifier != nil {
		go notifier(key)
	}
	return nil
}

func (r *MemoryPostRepository) ClaimPost(_ context.Context, key model.PostKey, now, until time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	post, ok := r.posts[key]
	if !ok || post.Status == model.StatusPosted {
		return false, nil
	}
	if held, ok := r.claims[key]; ok && held.After(now) {
		return false, nil
	}
	r.claims[key] = until
	return true, nil
}

func (r *MemoryPostRepository) ReleasePost(_ context.Context, key model.PostKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, key)
	return nil
}

// Claimed reports whether a publish lease is held on key.
func (r *MemoryPostRepository) Claimed(key model.PostKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.claims[key]
	return ok
}

func (r *MemoryPostRepository) CreatePost(_ context.Context, agency model.AgencyID, client model.ClientID, title, content string) (*model.Post, error) {
	now := time.Now().UTC()
	post := &model.Post{
		ID:         model.PostID(uuid.New().String()),
		Agency:     agency,
		Client:     client,
		Title:      title,
		Status:     model.StatusDraft,
		Content:    content,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	r.Put(post)
	return clonePost(post), nil
}

func (r *MemoryPostRepository) ListPosts(_ context.Context, agency model.AgencyID, client model.ClientID) ([]model.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	posts := lo.FilterMap(lo.Values(r.posts), func(p *model.Post, _ int) (model.Post, bool) {
		return *clonePost(p), p.Agency == agency && p.Client == client
	})
	slices.SortStableFunc(posts, func(a, b model.Post) int {
		return -a.ModifiedAt.Compare(b.ModifiedAt)
	})
	return posts, nil
}

func (r *MemoryPostRepository) DuePosts(_ context.Context, now time.Time) ([]model.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	posts := lo.Map(lo.Values(r.posts), func(p *model.Post, _ int) model.Post { return *clonePost(p) })
	return duePosts(posts, now), nil
}

func (r *MemoryPostRepository) ReadClient(_ context.Context, agency model.AgencyID, client model.ClientID) (*model.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[clientKey{agency, client}]
	if !ok {
		return nil, fmt.Errorf("client %s/%s: %w", agency, client, model.ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

func (r *MemoryPostRepository) SaveClient(_ context.Context, client *model.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *client
	r.clients[clientKey{client.Agency, client.ID}] = &copied
	return nil
}
