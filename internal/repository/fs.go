package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/debemdeboas/postdeck/internal/model"
)

// FSMediaRepository stores media under a local directory. Used in development.
type FSMediaRepository struct { // implements MediaRepository
	root string
}

func NewFSMediaRepository(root string) (*FSMediaRepository, error) {
	if err := os.MkdirAll(filepath.Join(root, "media"), 0o755); err != nil {
		return nil, fmt.Errorf("error creating media directory: %w", err)
	}
	return &FSMediaRepository{root: root}, nil
}

func (r *FSMediaRepository) PutMedia(_ context.Context, name, mimeType string, body io.Reader, _ int64) (model.MediaFile, error) {
	id, key := mediaObjectKey(name)

	f, err := os.Create(filepath.Join(r.root, filepath.FromSlash(key)))
	if err != nil {
		return model.MediaFile{}, fmt.Errorf("%w: %w", model.ErrStore, err)
	}
	defer f.Close()

	n, err := io.Copy(f, body)
	if err != nil {
		return model.MediaFile{}, fmt.Errorf("%w: error writing %s: %w", model.ErrStore, name, err)
	}

	return model.MediaFile{
		ID:       id,
		Name:     path.Base(name),
		MimeType: mimeType,
		Size:     n,
		URL:      "/" + key,
	}, nil
}

func (r *FSMediaRepository) find(file model.MediaFile) (string, error) {
	matches, err := filepath.Glob(filepath.Join(r.root, "media", file.ID+"*"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("media %s: %w", file.ID, model.ErrNotFound)
	}
	return matches[0], nil
}

func (r *FSMediaRepository) OpenMedia(_ context.Context, file model.MediaFile) (io.ReadCloser, error) {
	p, err := r.find(file)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (r *FSMediaRepository) DeleteMedia(_ context.Context, file model.MediaFile) error {
	p, err := r.find(file)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", model.ErrStore, err)
	}
	return nil
}

// Dir is the directory the files are stored under.
func (r *FSMediaRepository) Dir() string {
	return r.root
}
