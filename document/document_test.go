package document

import (
	"context"
	"errors"
	"testing"

	"github.com/wudi/pagekit/internal/pdftest"
)

func TestDocumentReferenceCounting(t *testing.T) {
	doc, err := NewLoader(Config{}).Load(context.Background(), "rc.pdf", pdftest.Uniform("rc", 2))
	if err != nil {
		t.Fatal(err)
	}
	if err := doc.Retain(); err != nil {
		t.Fatalf("retain: %v", err)
	}
	doc.Release()
	if doc.Released() || doc.Bytes() == nil {
		t.Fatalf("document freed while still referenced")
	}
	if _, err := doc.Page(1); err != nil {
		t.Fatalf("page: %v", err)
	}

	doc.Release()
	if !doc.Released() || doc.Bytes() != nil {
		t.Fatalf("document not freed after last release")
	}
	if _, err := doc.Source(); !errors.Is(err, ErrReleased) {
		t.Fatalf("source after release: %v", err)
	}
	if err := doc.Retain(); !errors.Is(err, ErrReleased) {
		t.Fatalf("retain after release: %v", err)
	}
	doc.Release() // extra releases are harmless
	if doc.PageCount() != 2 {
		t.Fatalf("metadata should survive release")
	}
}

func TestDocumentPageBounds(t *testing.T) {
	doc, err := NewLoader(Config{}).Load(context.Background(), "b.pdf", pdftest.Uniform("b", 2))
	if err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{-1, 2} {
		if _, err := doc.Page(i); !errors.Is(err, ErrPageIndex) {
			t.Fatalf("page %d: %v", i, err)
		}
	}
}
