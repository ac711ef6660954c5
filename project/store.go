package project

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrFileNotFound    = errors.New("project file not found")
	// ErrInvalidFileName is returned by stores for names that are empty,
	// duplicated, or not a single path element.
	ErrInvalidFileName = errors.New("invalid file name")
)

// Store persists project files and metadata. Create is all-or-nothing:
// when it fails, no part of the project is visible to List or Get.
type Store interface {
	Create(ctx context.Context, name, description string, files []File, metadata []byte) (string, error)
	List(ctx context.Context) ([]Summary, error)
	Get(ctx context.Context, id string) (*Record, error)
	Files(ctx context.Context, id string) ([]FileInfo, error)
	Download(ctx context.Context, id, fileName string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

type File struct {
	Name string
	Data []byte
}

type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	FileCount   int       `json:"fileCount"`
}

// Record is a stored project: its summary plus the opaque metadata blob
// handed to Create.
type Record struct {
	Summary
	Metadata []byte `json:"metadata"`
}

// CheckFileName validates a stored file name.
func CheckFileName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`+"\x00") || path.Base(name) != name {
		return fmt.Errorf("%q: %w", name, ErrInvalidFileName)
	}
	return nil
}

// CheckFiles validates every name and rejects duplicates.
func CheckFiles(files []File) error {
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if err := CheckFileName(f.Name); err != nil {
			return err
		}
		if seen[f.Name] {
			return fmt.Errorf("%q appears twice: %w", f.Name, ErrInvalidFileName)
		}
		seen[f.Name] = true
	}
	return nil
}
