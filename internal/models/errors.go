package models

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCorpus      = errors.New("no extractable text found in corpus")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotCorrupt  = errors.New("snapshot is corrupt")
	ErrModelMismatch    = errors.New("embedding model mismatch")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// ArgumentError reports bad caller input. It unwraps to ErrInvalidArgument.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return ErrInvalidArgument }

func NewArgumentError(field, reason string) error {
	return &ArgumentError{Field: field, Reason: reason}
}
