package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/debemdeboas/postdeck/internal/cache"
	"github.com/debemdeboas/postdeck/internal/db"
	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/util"
	"github.com/debemdeboas/postdeck/internal/util/compression"
)

const postColumns = `id, agency_id, client_id, title, status, scheduled_at, posted_at, external_post_id,
	content, content_hash, attachment, created_at, modified_at`

type DBPostRepository struct { // implements PostRepository
	postsCache *cache.Cache[model.PostKey, *model.Post]

	changeNotifier func(model.PostKey)

	db         db.Db
	compressor compression.Compressor
}

func NewDBPostRepository(db db.Db, compressor compression.Compressor) *DBPostRepository {
	if compressor == nil {
		compressor = compression.ZstdCompressor{}
	}
	return &DBPostRepository{
		postsCache: cache.NewCache[model.PostKey, *model.Post](),

		db: db,

		compressor: compressor,
	}
}

// Init warms the cache with every stored post.
func (r *DBPostRepository) Init(ctx context.Context) error {
	posts, err := r.queryPosts(ctx, `SELECT `+postColumns+` FROM posts`)
	if err != nil {
		return fmt.Errorf("error initializing posts: %w", err)
	}

	postMap := make(map[model.PostKey]*model.Post, len(posts))
	for i := range posts {
		postMap[posts[i].Key()] = &posts[i]
	}
	r.postsCache.SetTo(postMap)

	repoLogger.Info().Int("posts", len(posts)).Msg("Post cache loaded")
	return nil
}

func (r *DBPostRepository) SetChangeNotifier(notifier func(model.PostKey)) {
	r.changeNotifier = notifier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DBPostRepository) scanPost(row rowScanner) (*model.Post, error) {
	var (
		post        model.Post
		title       sql.NullString
		externalID  sql.NullString
		contentHash sql.NullString
		scheduledAt sql.NullTime
		postedAt    sql.NullTime
		modifiedAt  sql.NullTime
		createdAt   sql.NullTime
		compressed  []byte
		attachment  []byte
	)

	err := row.Scan(&post.ID, &post.Agency, &post.Client, &title, &post.Status, &scheduledAt, &postedAt,
		&externalID, &compressed, &contentHash, &attachment, &createdAt, &modifiedAt)
	if err != nil {
		return nil, err
	}

	post.Title = title.String
	post.ExternalPostID = externalID.String
	post.CreatedAt = createdAt.Time.UTC()
	post.ModifiedAt = modifiedAt.Time.UTC()
	if scheduledAt.Valid {
		at := scheduledAt.Time.UTC()
		post.ScheduledAt = &at
	}
	if postedAt.Valid {
		at := postedAt.Time.UTC()
		post.PostedAt = &at
	}

	if len(compressed) > 0 {
		content, err := r.compressor.Decompress(compressed)
		if err != nil {
			return nil, fmt.Errorf("error decompressing content: %w", err)
		}
		if contentHash.Valid && contentHash.String != util.ContentHash(compressed) {
			repoLogger.Warn().Str("post", post.Key().String()).Msg("Content hash mismatch")
		}
		post.Content = string(content)
	}

	post.Attachment, err = DecodeAttachment(attachment)
	if err != nil {
		return nil, err
	}

	return &post, nil
}

func (r *DBPostRepository) queryPosts(ctx context.Context, query string, args ...any) ([]model.Post, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: error querying posts: %w", model.ErrStore, err)
	}
	defer rows.Close()

	posts := make([]model.Post, 0)
	for rows.Next() {
		post, err := r.scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: error scanning post: %w", model.ErrStore, err)
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStore, err)
	}
	return posts, nil
}

// ReadPost serves the cached post only while its stored modification time is unchanged, so
// writes from other processes are always seen.
func (r *DBPostRepository) ReadPost(ctx context.Context, key model.PostKey) (*model.Post, error) {
	if cached, ok := r.postsCache.Get(key); ok {
		var modifiedAt sql.NullTime
		err := r.db.QueryRow(ctx, `SELECT modified_at FROM posts WHERE agency_id = ? AND client_id = ? AND id = ?`,
			key.Agency, key.Client, key.Post).Scan(&modifiedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			r.postsCache.Delete(key)
			return nil, fmt.Errorf("post %s: %w", key, model.ErrNotFound)
		case err != nil:
			return nil, fmt.Errorf("%w: error reading post %s: %w", model.ErrStore, key, err)
		case modifiedAt.Valid && modifiedAt.Time.Equal(cached.ModifiedAt):
			return clonePost(cached), nil
		}
	}

	row := r.db.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE agency_id = ? AND client_id = ? AND id = ?`,
		key.Agency, key.Client, key.Post)
	post, err := r.scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: error reading post %s: %w", model.ErrStore, key, err)
	}

	r.postsCache.Set(key, post)
	return clonePost(post), nil
}

func (r *DBPostRepository) WritePost(ctx context.Context, key model.PostKey, patch model.PostPatch) error {
	tx, err := r.db.Get().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrStore, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE agency_id = ? AND client_id = ? AND id = ?`,
		key.Agency, key.Client, key.Post)
	post, err := r.scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("post %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: error reading post %s: %w", model.ErrStore, key, err)
	}

	patch.Apply(post)
	post.ModifiedAt = time.Now().UTC()

	compressed, err := r.compressor.Compress([]byte(post.Content))
	if err != nil {
		return fmt.Errorf("error compressing content: %w", err)
	}
	attachment, err := EncodeAttachment(post.Attachment)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE posts SET title = ?, status = ?, scheduled_at = ?, posted_at = ?, external_post_id = ?,
			content = ?, content_hash = ?, attachment = ?, modified_at = ?
		WHERE agency_id = ? AND client_id = ? AND id = ?`,
		post.Title, post.Status, nullTime(post.ScheduledAt), nullTime(post.PostedAt), post.ExternalPostID,
		compressed, util.ContentHash(compressed), attachment, post.ModifiedAt,
		key.Agency, key.Client, key.Post,
	)
	if err != nil {
		return fmt.Errorf("%w: error saving post %s: %w", model.ErrStore, key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStore, err)
	}

	r.postsCache.Set(key, post)
	repoLogger.Debug().Str("post", key.String()).Str("status", string(post.Status)).Msg("Post written")

	if r.changeNotifier != nil {
		go r.changeNotifier(key)
	}
	return nil
}

func (r *DBPostRepository) ClaimPost(ctx context.Context, key model.PostKey, now, until time.Time) (bool, error) {
	res, err := r.db.Exec(ctx,
		`UPDATE posts SET claimed_until = ?
		WHERE agency_id = ? AND client_id = ? AND id = ? AND status <> ?
			AND (claimed_until IS NULL OR claimed_until <= ?)`,
		until.UnixMilli(), key.Agency, key.Client, key.Post, model.StatusPosted, now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("%w: error claiming post %s: %w", model.ErrStore, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %w", model.ErrStore, err)
	}
	return n == 1, nil
}

func (r *DBPostRepository) ReleasePost(ctx context.Context, key model.PostKey) error {
	_, err := r.db.Exec(ctx, `UPDATE posts SET claimed_until = NULL WHERE agency_id = ? AND client_id = ? AND id = ?`,
		key.Agency, key.Client, key.Post)
	if err != nil {
		return fmt.Errorf("%w: error releasing post %s: %w", model.ErrStore, key, err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (r *DBPostRepository) CreatePost(ctx context.Context, agency model.AgencyID, client model.ClientID, title, content string) (*model.Post, error) {
	now := time.Now().UTC()
	post := &model.Post{
		ID:     model.PostID(uuid.New().String()),
		Agency: agency,
		Client: client,
		Title:  title,
		Status: model.StatusDraft,

		Content: content,

		CreatedAt:  now,
		ModifiedAt: now,
	}

	compressed, err := r.compressor.Compress([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("error compressing content: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO posts (id, agency_id, client_id, title, status, content, content_hash, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.Agency, post.Client, post.Title, post.Status, compressed, util.ContentHash(compressed),
		post.CreatedAt, post.ModifiedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: error saving post: %w", model.ErrStore, err)
	}

	r.postsCache.Set(post.Key(), post)
	repoLogger.Info().Str("post", post.Key().String()).Msg("Post created")
	return clonePost(post), nil
}

func (r *DBPostRepository) ListPosts(ctx context.Context, agency model.AgencyID, client model.ClientID) ([]model.Post, error) {
	posts, err := r.queryPosts(ctx, `SELECT `+postColumns+` FROM posts WHERE agency_id = ? AND client_id = ?`, agency, client)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(posts, func(a, b model.Post) int {
		return -a.ModifiedAt.Compare(b.ModifiedAt)
	})
	return posts, nil
}

func (r *DBPostRepository) DuePosts(ctx context.Context, now time.Time) ([]model.Post, error) {
	posts, err := r.queryPosts(ctx, `SELECT `+postColumns+` FROM posts WHERE status = ? AND scheduled_at IS NOT NULL`,
		model.StatusScheduled)
	if err != nil {
		return nil, err
	}
	return duePosts(posts, now), nil
}

func duePosts(posts []model.Post, now time.Time) []model.Post {
	due := lo.Filter(posts, func(p model.Post, _ int) bool {
		return p.Status == model.StatusScheduled && p.ScheduledAt != nil && !p.ScheduledAt.After(now)
	})
	slices.SortStableFunc(due, func(a, b model.Post) int {
		return a.ScheduledAt.Compare(*b.ScheduledAt)
	})
	return due
}

func (r *DBPostRepository) ReadClient(ctx context.Context, agency model.AgencyID, client model.ClientID) (*model.Client, error) {
	var c model.Client
	var name, profile sql.NullString

	err := r.db.QueryRow(ctx, `SELECT id, agency_id, name, profile_id FROM clients WHERE agency_id = ? AND id = ?`,
		agency, client).Scan(&c.ID, &c.Agency, &name, &profile)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %s/%s: %w", agency, client, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: error reading client: %w", model.ErrStore, err)
	}

	c.Name = name.String
	c.ProfileID = model.ProfileID(profile.String)
	return &c, nil
}

func (r *DBPostRepository) SaveClient(ctx context.Context, client *model.Client) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO clients (id, agency_id, name, profile_id) VALUES (?, ?, ?, ?)
		ON CONFLICT (agency_id, id) DO UPDATE SET name = excluded.name, profile_id = excluded.profile_id`,
		client.ID, client.Agency, client.Name, client.ProfileID,
	)
	if err != nil {
		return fmt.Errorf("%w: error saving client: %w", model.ErrStore, err)
	}
	return nil
}
