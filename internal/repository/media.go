package repository

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/debemdeboas/postdeck/internal/model"
)

// MediaRepository stores uploaded media files. It also serves as the publisher's media source.
type MediaRepository interface {
	PutMedia(ctx context.Context, name, mimeType string, body io.Reader, size int64) (model.MediaFile, error)
	OpenMedia(ctx context.Context, file model.MediaFile) (io.ReadCloser, error)
	DeleteMedia(ctx context.Context, file model.MediaFile) error
}

// mediaObjectKey builds a collision-free object key that keeps the original extension.
func mediaObjectKey(name string) (id, key string) {
	id = uuid.New().String()
	ext := strings.ToLower(path.Ext(path.Base(name)))
	return id, "media/" + id + ext
}
