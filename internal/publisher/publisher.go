// Package publisher talks to the external publishing API.
package publisher

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/debemdeboas/postdeck/internal/model"
)

var publisherLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	publisherLogger = l
}

type Request struct {
	Author     model.ProfileID
	Content    string
	Attachment model.Attachment

	// Uploaded, if set, receives each media file with the image URN it was uploaded as.
	Uploaded func(model.MediaFile)
}

// Publisher publishes a post and returns the external post id. Failures reported by the API
// are *model.PublishError.
type Publisher interface {
	Publish(ctx context.Context, req Request) (string, error)
}

// MediaSource opens the bytes of an uploaded media file.
type MediaSource interface {
	OpenMedia(ctx context.Context, file model.MediaFile) (io.ReadCloser, error)
}

// DryRun logs the request and returns a synthetic id. Used when no API token is configured.
type DryRun struct{}

func (DryRun) Publish(ctx context.Context, req Request) (string, error) {
	id := "urn:li:share:dryrun-" + uuid.NewString()

	ev := publisherLogger.Info().
		Str("author", string(req.Author)).
		Int("content_length", len(req.Content)).
		Str("external_post_id", id)
	if req.Attachment != nil {
		ev = ev.Str("attachment", string(req.Attachment.Kind()))
	}
	ev.Msg("Dry run publish")

	return id, nil
}

// AuthorURN turns a profile id into a LinkedIn author URN. Ids that already are URNs are kept.
func AuthorURN(profile model.ProfileID) string {
	if strings.HasPrefix(string(profile), "urn:li:") {
		return string(profile)
	}
	return "urn:li:person:" + string(profile)
}
