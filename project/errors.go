package project

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageFailure wraps any error returned by the Store.
	ErrStorageFailure = errors.New("project storage failure")
	// ErrDocumentMismatch means a stored file no longer has the page
	// count recorded when the project was saved.
	ErrDocumentMismatch = errors.New("document does not match project")
	ErrInvalidProject   = errors.New("invalid project metadata")
	ErrEmptyCatalog     = errors.New("cannot save an empty catalog")
)

// MismatchError names the stored file whose page count changed.
type MismatchError struct {
	File     string
	Recorded int
	Actual   int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: recorded %d pages, found %d: %v", e.File, e.Recorded, e.Actual, ErrDocumentMismatch)
}

func (e *MismatchError) Unwrap() error { return ErrDocumentMismatch }

func storageErr(op, id string, err error) error {
	if errors.Is(err, ErrProjectNotFound) {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	return fmt.Errorf("%s %s: %w: %w", op, id, ErrStorageFailure, err)
}
