package document

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDocument is returned for bytes that are not a readable PDF.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrEncryptedDocument is returned for password protected documents.
	ErrEncryptedDocument = errors.New("encrypted document")
	// ErrReleased is returned when a document is used after its last
	// reference was released.
	ErrReleased = errors.New("document released")
	// ErrPageIndex is returned for page indices outside [0, PageCount).
	ErrPageIndex = errors.New("page index out of range")
)

// FileError ties a load failure to the file it came from.
type FileError struct {
	File string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("%s: %v", e.File, e.Err) }
func (e *FileError) Unwrap() error { return e.Err }
