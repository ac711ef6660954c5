package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/wudi/pagekit/document"
	"github.com/wudi/pagekit/internal/pdftest"
	"github.com/wudi/pagekit/observability"
	"github.com/wudi/pagekit/project"
	"github.com/wudi/pagekit/recovery"
)

func TestMain(m *testing.M) {
	api.DisableConfigDir()
	os.Exit(m.Run())
}

func testEnv(out *bytes.Buffer) *env {
	return &env{
		log:    observability.NopLogger{},
		loader: document.NewLoader(document.Config{Recovery: recovery.NewStrictStrategy()}),
		stdout: out,
	}
}

func writeFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	d1 := filepath.Join(dir, "d1.pdf")
	d2 := filepath.Join(dir, "d2.pdf")
	if err := os.WriteFile(d1, pdftest.Uniform("D1", 3), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(d2, pdftest.Uniform("D2", 2), 0o644); err != nil {
		t.Fatal(err)
	}
	return d1, d2
}

func pageCount(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		t.Fatalf("pdfcpu rejects %s: %v", path, err)
	}
	return n
}

func TestParseInput(t *testing.T) {
	tests := map[string]input{
		"a.pdf":           {path: "a.pdf"},
		"a.pdf:1-3":       {path: "a.pdf", pages: "1-3"},
		"a.pdf:2,4-":      {path: "a.pdf", pages: "2,4-"},
		`C:\docs\a.pdf`:   {path: `C:\docs\a.pdf`},
		"dir:x/a.pdf":     {path: "dir:x/a.pdf"},
		"a.pdf:":          {path: "a.pdf:"},
		"scan:2024.pdf:3": {path: "scan:2024.pdf", pages: "3"},
	}
	for arg, want := range tests {
		if got := parseInput(arg); got != want {
			t.Errorf("parseInput(%q) = %+v, want %+v", arg, got, want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-v", "merge", "-o", "out.pdf", "a.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if !opts.verbose || opts.command != "merge" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if diff := cmp.Diff([]string{"-o", "out.pdf", "a.pdf"}, opts.args); diff != "" {
		t.Fatalf("args (-want +got):\n%s", diff)
	}
	if _, err := parseFlags([]string{"bogus"}); err == nil {
		t.Fatal("expected unknown command error")
	}
	if _, err := parseFlags(nil); err == nil {
		t.Fatal("expected missing command error")
	}
}

func TestMergeWithRanges(t *testing.T) {
	d1, d2 := writeFixtures(t)
	out := filepath.Join(t.TempDir(), "out.pdf")
	e := testEnv(&bytes.Buffer{})
	if err := runMerge(context.Background(), e, []string{"-o", out, "-deterministic", "-dedupe", d2, d1 + ":3-1"}); err != nil {
		t.Fatal(err)
	}
	if n := pageCount(t, out); n != 5 {
		t.Fatalf("merged %d pages, want 5", n)
	}
}

func TestExtractSelection(t *testing.T) {
	d1, d2 := writeFixtures(t)
	out := filepath.Join(t.TempDir(), "out.pdf")
	e := testEnv(&bytes.Buffer{})
	if err := runExtract(context.Background(), e, []string{"-o", out, "-select", "2,4", d1, d2}); err != nil {
		t.Fatal(err)
	}
	if n := pageCount(t, out); n != 2 {
		t.Fatalf("extracted %d pages, want 2", n)
	}
}

func TestUsageErrors(t *testing.T) {
	d1, _ := writeFixtures(t)
	e := testEnv(&bytes.Buffer{})
	var ue usageError
	if err := runMerge(context.Background(), e, []string{d1}); !errors.As(err, &ue) {
		t.Fatalf("merge without -o: %v", err)
	}
	if err := runMerge(context.Background(), e, []string{"-o", "x.pdf"}); !errors.As(err, &ue) {
		t.Fatalf("merge without inputs: %v", err)
	}
	if err := runProject(context.Background(), e, []string{"list"}); !errors.As(err, &ue) {
		t.Fatalf("project without store: %v", err)
	}
}

func TestLoadCatalogRejectsBadFiles(t *testing.T) {
	d1, _ := writeFixtures(t)
	bad := filepath.Join(t.TempDir(), "bad.pdf")
	if err := os.WriteFile(bad, pdftest.Corrupt(), 0o644); err != nil {
		t.Fatal(err)
	}
	e := testEnv(&bytes.Buffer{})
	_, err := loadCatalog(context.Background(), e, []string{d1, bad})
	if !errors.Is(err, document.ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
	_, err = loadCatalog(context.Background(), e, []string{d1 + ":9"})
	if err == nil {
		t.Fatal("expected out of range page error")
	}
}

func TestSelectPages(t *testing.T) {
	d1, _ := writeFixtures(t)
	c, err := loadCatalog(context.Background(), testEnv(&bytes.Buffer{}), []string{d1})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Reset()
	if err := selectPages(c, "1,3"); err != nil {
		t.Fatal(err)
	}
	var got []bool
	for _, ref := range c.Entries() {
		got = append(got, ref.Selected)
	}
	if diff := cmp.Diff([]bool{true, false, true}, got); diff != "" {
		t.Fatalf("selection (-want +got):\n%s", diff)
	}
}

func TestInfo(t *testing.T) {
	d1, _ := writeFixtures(t)
	var out bytes.Buffer
	if err := runInfo(context.Background(), testEnv(&out), []string{d1}); err != nil {
		t.Fatal(err)
	}
	var report []fileInfo
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if len(report) != 1 || report[0].Name != "d1.pdf" || report[0].Pages != 3 || report[0].Digest == "" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestThumbs(t *testing.T) {
	d1, _ := writeFixtures(t)
	dir := t.TempDir()
	if err := runThumbs(context.Background(), testEnv(&bytes.Buffer{}), []string{"-out", dir, "-scale", "0.1", d1 + ":2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "001-d1-p2.png")); err != nil {
		t.Fatal(err)
	}
}

func TestProjectCommands(t *testing.T) {
	d1, d2 := writeFixtures(t)
	store := t.TempDir()
	ctx := context.Background()

	var out bytes.Buffer
	e := testEnv(&out)
	if err := runProject(ctx, e, []string{"-dir", store, "save", "-name", "quarterly", "-select", "1,5", d1, d2}); err != nil {
		t.Fatal(err)
	}
	var saved project.Summary
	if err := json.Unmarshal(out.Bytes(), &saved); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if saved.Name != "quarterly" || saved.FileCount != 2 {
		t.Fatalf("unexpected summary %+v", saved)
	}

	merged := filepath.Join(t.TempDir(), "merged.pdf")
	if err := runProject(ctx, e, []string{"-dir", store, "render", "-o", merged, saved.ID}); err != nil {
		t.Fatal(err)
	}
	if n := pageCount(t, merged); n != 5 {
		t.Fatalf("rendered %d pages, want 5", n)
	}
	extracted := filepath.Join(t.TempDir(), "extracted.pdf")
	if err := runProject(ctx, e, []string{"-dir", store, "render", "-extract", "-o", extracted, saved.ID}); err != nil {
		t.Fatal(err)
	}
	if n := pageCount(t, extracted); n != 2 {
		t.Fatalf("extracted %d pages, want 2", n)
	}

	if err := runProject(ctx, e, []string{"-dir", store, "delete", saved.ID}); err != nil {
		t.Fatal(err)
	}
	err := runProject(ctx, e, []string{"-dir", store, "show", saved.ID})
	if !errors.Is(err, project.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}
