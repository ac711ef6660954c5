package project

import (
	"errors"
	"testing"
)

func TestMetadataValidate(t *testing.T) {
	file := FileMeta{Ref: "001-a.pdf", Name: "a.pdf", PageCount: 2}
	tests := []struct {
		name string
		meta Metadata
		ok   bool
	}{
		{"valid", Metadata{Version: 1, Files: []FileMeta{file}, Pages: []PageMeta{{File: file.Ref, Page: 1}}}, true},
		{"no pages", Metadata{Version: 1, Files: []FileMeta{file}}, false},
		{"version", Metadata{Version: 2, Files: []FileMeta{file}, Pages: []PageMeta{{File: file.Ref}}}, false},
		{"index", Metadata{Version: 1, Files: []FileMeta{file}, Pages: []PageMeta{{File: file.Ref, Page: 2}}}, false},
		{"negative", Metadata{Version: 1, Files: []FileMeta{file}, Pages: []PageMeta{{File: file.Ref, Page: -1}}}, false},
		{"unknown file", Metadata{Version: 1, Files: []FileMeta{file}, Pages: []PageMeta{{File: "x.pdf"}}}, false},
		{"duplicate file", Metadata{Version: 1, Files: []FileMeta{file, file}, Pages: []PageMeta{{File: file.Ref}}}, false},
		{"bad ref", Metadata{Version: 1, Files: []FileMeta{{Ref: "../a.pdf", PageCount: 1}}, Pages: []PageMeta{{File: "../a.pdf"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidProject) {
				t.Fatalf("expected ErrInvalidProject, got %v", err)
			}
		})
	}
}

func TestFileRef(t *testing.T) {
	tests := map[string]string{
		"report.pdf":       "001-report.pdf",
		"../../etc/passwd": "001-_.._etc_passwd",
		"Übersicht 1.pdf":  "001-_bersicht_1.pdf",
		"":                 "001-document.pdf",
	}
	for in, want := range tests {
		got := fileRef(0, in)
		if got != want {
			t.Errorf("fileRef(%q) = %q, want %q", in, got, want)
		}
		if err := CheckFileName(got); err != nil {
			t.Errorf("fileRef(%q) produced an invalid name: %v", in, err)
		}
	}
}
