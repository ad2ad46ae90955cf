package model

import (
	"errors"
	"fmt"
)

var (
	// Validation errors, rejected before any network call
	ErrEmptyContent    = errors.New("post content is empty")
	ErrInvalidSchedule = errors.New("schedule time must be in the future")
	ErrInvalidPoll     = errors.New("invalid poll")
	ErrInvalidMedia    = errors.New("invalid media")

	ErrAttachmentConflict  = errors.New("post already has an attachment of another kind")
	ErrMissingIdentity     = errors.New("missing identity")
	ErrTerminalState       = errors.New("post is already posted")
	ErrInvalidTransition   = errors.New("invalid lifecycle transition")
	ErrOperationInProgress = errors.New("another operation is in progress for this post")

	// Collaborator errors
	ErrStore    = errors.New("store error")
	ErrPublish  = errors.New("publish error")
	ErrNotFound = errors.New("not found")
)

// PollError carries the reason a poll was rejected.
type PollError struct {
	Reason string
}

func (e *PollError) Error() string { return "invalid poll: " + e.Reason }

func (e *PollError) Unwrap() error { return ErrInvalidPoll }

// MissingIdentityError names the identity field that was absent.
type MissingIdentityError struct {
	Field string
}

func (e *MissingIdentityError) Error() string {
	return fmt.Sprintf("missing identity: %s is required", e.Field)
}

func (e *MissingIdentityError) Unwrap() error { return ErrMissingIdentity }

// PublishError is a failure reported by the publishing API. Message is shown to the user.
//
// Temporary failures were refused by the API and are safe to retry. Uncertain failures lost the
// answer to a request that may have created the post, so retrying could publish it twice.
type PublishError struct {
	Message   string
	Temporary bool
	Uncertain bool
}

func (e *PublishError) Error() string { return "publish failed: " + e.Message }

func (e *PublishError) Unwrap() error { return ErrPublish }

func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidPoll) ||
		errors.Is(err, ErrInvalidMedia)
}
