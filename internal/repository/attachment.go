package repository

import (
	"encoding/json"
	"fmt"

	"github.com/debemdeboas/postdeck/internal/model"
)

// attachmentRecord is the stored JSON shape of an attachment.
type attachmentRecord struct {
	Kind         model.AttachmentKind `json:"kind"`
	Files        []model.MediaFile    `json:"files,omitempty"`
	Options      []string             `json:"options,omitempty"`
	DurationDays int                  `json:"duration_days,omitempty"`
}

func EncodeAttachment(a model.Attachment) ([]byte, error) {
	if a == nil {
		return nil, nil
	}

	var rec attachmentRecord
	switch v := a.(type) {
	case model.Media:
		rec = attachmentRecord{Kind: model.KindMedia, Files: v.Files}
	case model.Poll:
		rec = attachmentRecord{Kind: model.KindPoll, Options: v.Options, DurationDays: v.DurationDays}
	default:
		return nil, fmt.Errorf("unsupported attachment %T", a)
	}
	return json.Marshal(rec)
}

func DecodeAttachment(data []byte) (model.Attachment, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var rec attachmentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("error decoding attachment: %w", err)
	}

	switch rec.Kind {
	case model.KindMedia:
		return model.Media{Files: rec.Files}, nil
	case model.KindPoll:
		return model.Poll{Options: rec.Options, DurationDays: rec.DurationDays}, nil
	default:
		return nil, fmt.Errorf("unknown attachment kind %q", rec.Kind)
	}
}
