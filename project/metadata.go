package project

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

const metadataVersion = 1

// Metadata is the catalog snapshot stored alongside the project files.
// Pages are kept in catalog order.
type Metadata struct {
	Version int        `json:"version"`
	Files   []FileMeta `json:"files"`
	Pages   []PageMeta `json:"pages"`
}

// FileMeta records what a stored file looked like when it was saved.
type FileMeta struct {
	Ref       string `json:"ref"`
	Name      string `json:"name"`
	PageCount int    `json:"pageCount"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest"`
}

// PageMeta is one catalog entry. Page is 0-based.
type PageMeta struct {
	File     string `json:"file"`
	Page     int    `json:"page"`
	Selected bool   `json:"selected"`
}

// DecodeMetadata parses and validates a stored metadata blob.
func DecodeMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProject, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the version, that every page names a known file and
// that every page index is inside the recorded page count.
func (m *Metadata) Validate() error {
	if m.Version != metadataVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidProject, m.Version)
	}
	if len(m.Pages) == 0 {
		return fmt.Errorf("%w: no pages", ErrInvalidProject)
	}
	files := make(map[string]FileMeta, len(m.Files))
	for _, f := range m.Files {
		if err := CheckFileName(f.Ref); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProject, err)
		}
		if _, dup := files[f.Ref]; dup {
			return fmt.Errorf("%w: file %q listed twice", ErrInvalidProject, f.Ref)
		}
		if f.PageCount <= 0 {
			return fmt.Errorf("%w: file %q has %d pages", ErrInvalidProject, f.Ref, f.PageCount)
		}
		files[f.Ref] = f
	}
	for i, p := range m.Pages {
		f, ok := files[p.File]
		if !ok {
			return fmt.Errorf("%w: entry %d names unknown file %q", ErrInvalidProject, i, p.File)
		}
		if p.Page < 0 || p.Page >= f.PageCount {
			return fmt.Errorf("%w: entry %d: page %d of %q out of range (1-%d)", ErrInvalidProject, i, p.Page+1, f.Ref, f.PageCount)
		}
	}
	return nil
}

// fileRef returns the stored name for the i-th file of a project. The
// index prefix keeps two documents with the same display name apart.
func fileRef(i int, name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '-' || r == '_':
			return r
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		}
		return '_'
	}, name)
	clean = strings.TrimLeft(clean, ".")
	if clean == "" {
		clean = "document.pdf"
	}
	return fmt.Sprintf("%03d-%s", i+1, clean)
}
