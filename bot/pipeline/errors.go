package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCDNURL is returned before any work when a track has no source URL.
	ErrMissingCDNURL = errors.New("missing CDN URL")

	// ErrMissingKey is returned for an encrypted track without a decryption key.
	ErrMissingKey = errors.New("missing CDN key")

	// ErrEmptyPlaylist is returned when no playlist entry could be processed.
	ErrEmptyPlaylist = errors.New("no playlist track could be downloaded")
)

// Stage names the step a track failed in.
type Stage string

const (
	StageValidate Stage = "validate"
	StageFetch    Stage = "fetch"
	StageDecrypt  Stage = "decrypt"
	StageRepair   Stage = "repair"
	StageRemux    Stage = "remux"
	StageTag      Stage = "tag"
	StagePackage  Stage = "package"
)

// Error carries the failing stage and track alongside the cause.
type Error struct {
	Stage   Stage
	TrackID string
	Err     error
}

func (e *Error) Error() string {
	if e.TrackID == "" {
		return fmt.Sprintf("pipeline %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("pipeline %s (track %s): %v", e.Stage, e.TrackID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, trackID string, err error) error {
	return &Error{Stage: stage, TrackID: trackID, Err: err}
}

// StageOf returns the failing stage of err, or "" when err did not come from
// the pipeline.
func StageOf(err error) Stage {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Stage
	}
	return ""
}
