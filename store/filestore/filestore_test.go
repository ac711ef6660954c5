package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wudi/pagekit/project"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	files := []project.File{{Name: "001-a.pdf", Data: []byte("aaa")}, {Name: "002-b.pdf", Data: []byte("bb")}}
	id, err := s.Create(ctx, "name", "desc", files, []byte(`{"version":1}`))
	if err != nil {
		t.Fatal(err)
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Name != "name" || rec.Description != "desc" || rec.FileCount != 2 {
		t.Fatalf("record = %+v", rec.Summary)
	}
	if string(rec.Metadata) != `{"version":1}` {
		t.Fatalf("metadata = %s", rec.Metadata)
	}
	infos, err := s.Files(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	want := []project.FileInfo{{Name: "001-a.pdf", Size: 3}, {Name: "002-b.pdf", Size: 2}}
	if diff := cmp.Diff(want, infos); diff != "" {
		t.Fatalf("files:\n%s", diff)
	}
	data, err := s.Download(ctx, id, "002-b.pdf")
	if err != nil || string(data) != "bb" {
		t.Fatalf("download = %q, %v", data, err)
	}

	// a second handle on the same directory sees the project
	again, _ := Open(s.root)
	list, err := again.List(ctx)
	if err != nil || len(list) != 1 || list[0].ID != id {
		t.Fatalf("list = %+v, %v", list, err)
	}
}

func TestFailedCreateLeavesNothing(t *testing.T) {
	root := t.TempDir()
	s, _ := Open(root)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Create(ctx, "n", "", []project.File{{Name: "a.pdf", Data: []byte("x")}}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, err := s.Create(context.Background(), "n", "", []project.File{{Name: "../a.pdf"}}, nil); !errors.Is(err, project.ErrInvalidFileName) {
		t.Fatalf("expected ErrInvalidFileName, got %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Fatalf("root not empty after failed creates: %v", entries)
	}
}

func TestOpenRemovesLeftovers(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, tmpPrefix+"123"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(root); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, tmpPrefix+"123")); !os.IsNotExist(err) {
		t.Fatalf("leftover temp dir kept: %v", err)
	}
}

func TestNotFoundAndTraversal(t *testing.T) {
	ctx := context.Background()
	s, _ := Open(t.TempDir())
	id, _ := s.Create(ctx, "n", "", []project.File{{Name: "a.pdf", Data: []byte("x")}}, nil)

	for _, bad := range []string{"../" + id, "nope", ""} {
		if _, err := s.Get(ctx, bad); !errors.Is(err, project.ErrProjectNotFound) {
			t.Errorf("get %q: %v", bad, err)
		}
	}
	if _, err := s.Download(ctx, id, "../project.json"); !errors.Is(err, project.ErrInvalidFileName) {
		t.Fatalf("traversal: %v", err)
	}
	if _, err := s.Download(ctx, id, "b.pdf"); !errors.Is(err, project.ErrFileNotFound) {
		t.Fatalf("missing file: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, id); !errors.Is(err, project.ErrProjectNotFound) {
		t.Fatalf("delete twice: %v", err)
	}
	if list, _ := s.List(ctx); len(list) != 0 {
		t.Fatalf("deleted project still listed")
	}
}
