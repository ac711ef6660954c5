package xref_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/wudi/pagekit/recovery"
	"github.com/wudi/pagekit/xref"
)

func TestResolverRepairsCorruptXRef(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	// no xref section and no startxref
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	buf.WriteString("%%EOF\n")
	data := buf.Bytes()

	resolver := xref.NewResolver(xref.ResolverConfig{})
	if _, err := resolver.Resolve(context.Background(), data); err == nil {
		t.Fatal("expected error on missing startxref, got nil")
	}

	resolver = xref.NewResolver(xref.ResolverConfig{Recovery: recovery.NewLenientStrategy(nil)})
	table, err := resolver.Resolve(context.Background(), data)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if !resolver.Repaired() || table.Type() != "repaired" {
		t.Fatalf("expected repaired table, got %q", table.Type())
	}
	if off, _, ok := table.Lookup(1); !ok || off != int64(off1) {
		t.Errorf("object 1: got %d ok=%v, want %d", off, ok, off1)
	}
	if off, _, ok := table.Lookup(2); !ok || off != int64(off2) {
		t.Errorf("object 2: got %d ok=%v, want %d", off, ok, off2)
	}
	if size, _ := resolver.Trailer().Int("Size"); size != 3 {
		t.Errorf("trailer size = %d", size)
	}
}

func TestResolverRepairsGarbagePrefix(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	buf.WriteString("999 ")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	buf.WriteString("%%EOF\n")

	resolver := xref.NewResolver(xref.ResolverConfig{Recovery: recovery.NewLenientStrategy(nil)})
	table, err := resolver.Resolve(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if off, _, ok := table.Lookup(1); !ok || off != int64(off1) {
		t.Fatalf("object 1: got %d ok=%v, want %d", off, ok, off1)
	}
	// no trailer keyword: root is taken from the catalog object
	if root, ok := resolver.Trailer().RefTo("Root"); !ok || root.Num != 1 {
		t.Fatalf("synthesised root = %v ok=%v", root, ok)
	}
	if _, _, ok := table.Lookup(999); ok {
		t.Fatalf("garbage number registered as object")
	}
}

func TestResolverRepairKeepsLastDefinition(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n1 0 obj\n<< /Type /Catalog /V 1 >>\nendobj\n")
	second := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /V 2 >>\nendobj\n%%EOF\n")

	table, err := xref.NewResolver(xref.ResolverConfig{Recovery: recovery.NewLenientStrategy(nil)}).
		Resolve(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if off, _, _ := table.Lookup(1); off != int64(second) {
		t.Fatalf("offset = %d, want %d", off, second)
	}
}
