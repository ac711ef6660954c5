package writer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/wudi/pagekit/filters"
	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/parser"
)

func TestMain(m *testing.M) {
	api.DisableConfigDir()
	os.Exit(m.Run())
}

func sampleDocument(pages int) *Document {
	doc := NewDocument()
	root := doc.Alloc()
	tree := doc.Alloc()
	font := raw.Dict()
	font.Set("Type", raw.NameLiteral("Font"))
	font.Set("Subtype", raw.NameLiteral("Type1"))
	font.Set("BaseFont", raw.NameLiteral("Helvetica"))
	fontRef := doc.Add(font)

	kids := raw.NewArray()
	for i := 0; i < pages; i++ {
		content := doc.Add(raw.NewStream(raw.Dict(), []byte("BT /F1 12 Tf 72 72 Td (hello) Tj ET")))
		fonts := raw.Dict()
		fonts.Set("F1", raw.Ref(fontRef.Num, 0))
		res := raw.Dict()
		res.Set("Font", fonts)
		page := raw.Dict()
		page.Set("Type", raw.NameLiteral("Page"))
		page.Set("Parent", raw.Ref(tree.Num, 0))
		page.Set("MediaBox", raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(612), raw.NumberFloat(792.5)))
		page.Set("Resources", res)
		page.Set("Contents", raw.Ref(content.Num, 0))
		ref := doc.Add(page)
		kids.Append(raw.Ref(ref.Num, 0))
	}
	pagesDict := raw.Dict()
	pagesDict.Set("Type", raw.NameLiteral("Pages"))
	pagesDict.Set("Kids", kids)
	pagesDict.Set("Count", raw.NumberInt(int64(pages)))
	doc.Set(tree, pagesDict)

	catalog := raw.Dict()
	catalog.Set("Type", raw.NameLiteral("Catalog"))
	catalog.Set("Pages", raw.Ref(tree.Num, 0))
	doc.Set(root, catalog)
	doc.Root = root
	return doc
}

func write(t *testing.T, doc *Document, cfg Config) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := New().Write(context.Background(), doc, &buf, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	return buf.Bytes()
}

func TestWriteRoundTrip(t *testing.T) {
	data := write(t, sampleDocument(3), Config{Producer: "pagekit"})

	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse written file: %v", err)
	}
	if doc.PageCount() != 3 {
		t.Fatalf("pages = %d", doc.PageCount())
	}
	if doc.Info["Producer"] != "pagekit" {
		t.Fatalf("info = %v", doc.Info)
	}
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		t.Fatalf("pdfcpu rejected output: %v", err)
	}
	if n != 3 {
		t.Fatalf("pdfcpu page count = %d", n)
	}
}

func TestWriteXRefStream(t *testing.T) {
	data := write(t, sampleDocument(2), Config{XRefStreams: true, Version: PDF14})
	if !bytes.HasPrefix(data, []byte("%PDF-1.5")) {
		t.Fatalf("xref streams need 1.5, header %q", data[:8])
	}
	if bytes.Contains(data, []byte("\nxref\n")) {
		t.Fatalf("classic table written in xref stream mode")
	}
	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.PageCount() != 2 {
		t.Fatalf("pages = %d", doc.PageCount())
	}
	if n, err := api.PageCount(bytes.NewReader(data), nil); err != nil || n != 2 {
		t.Fatalf("pdfcpu: n=%d err=%v", n, err)
	}
}

func TestWriteDeterministic(t *testing.T) {
	cfg := Config{Deterministic: true, Producer: "pagekit"}
	a := write(t, sampleDocument(2), cfg)
	b := write(t, sampleDocument(2), cfg)
	if !bytes.Equal(a, b) {
		t.Fatalf("deterministic output differs")
	}
	if bytes.Contains(a, []byte("CreationDate")) {
		t.Fatalf("deterministic output carries a date")
	}
}

func TestWriteCompress(t *testing.T) {
	data := write(t, sampleDocument(1), Config{Compress: true})
	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	contents, _ := doc.Pages[0].Dict.RefTo("Contents")
	obj, err := doc.Loader.Load(context.Background(), contents)
	if err != nil {
		t.Fatalf("load contents: %v", err)
	}
	st := obj.(*raw.StreamObj)
	if f, _ := st.Dict.Name("Filter"); f != "FlateDecode" {
		t.Fatalf("filter = %q", f)
	}
	plain, err := filters.NewDefaultPipeline(filters.Limits{}).DecodeStream(context.Background(), st)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(string(plain), "(hello) Tj") {
		t.Fatalf("content = %q", plain)
	}
}

func TestWriteDoesNotMutateInput(t *testing.T) {
	doc := sampleDocument(1)
	st := raw.NewStream(raw.Dict(), []byte("abc"))
	doc.Add(st)
	write(t, doc, Config{Compress: true})
	if _, ok := st.Dict.Get("Length"); ok {
		t.Fatalf("writer modified the caller's stream dictionary")
	}
	if string(st.Data) != "abc" {
		t.Fatalf("writer modified stream data")
	}
}

func TestWriteRequiresRoot(t *testing.T) {
	var buf bytes.Buffer
	if err := New().Write(context.Background(), NewDocument(), &buf, Config{}); err == nil {
		t.Fatalf("expected error for document without root")
	}
}

func TestWriteHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	err := New().Write(ctx, sampleDocument(1), &buf, Config{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("cancelled write produced %d bytes", buf.Len())
	}
}

type countingInterceptor struct {
	before, after int
	bytes         int64
}

func (c *countingInterceptor) BeforeWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object) error {
	c.before++
	return nil
}

func (c *countingInterceptor) AfterWrite(ctx context.Context, ref raw.ObjectRef, n int64) error {
	c.after++
	c.bytes += n
	return nil
}

func TestWriterInterceptors(t *testing.T) {
	ic := &countingInterceptor{}
	doc := sampleDocument(2)
	var buf bytes.Buffer
	if err := (&WriterBuilder{}).WithInterceptor(ic).Build().Write(context.Background(), doc, &buf, Config{Deterministic: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ic.before != doc.Len() || ic.after != doc.Len() {
		t.Fatalf("interceptor saw %d/%d objects, want %d", ic.before, ic.after, doc.Len())
	}
	if ic.bytes <= 0 || ic.bytes >= int64(buf.Len()) {
		t.Fatalf("interceptor bytes = %d of %d", ic.bytes, buf.Len())
	}
}

func TestWriteLeavesDeletedNumbersFree(t *testing.T) {
	for _, xrefStreams := range []bool{false, true} {
		doc := sampleDocument(2)
		orphan := doc.Add(raw.Dict())
		doc.Delete(orphan)
		for _, ref := range doc.Refs() {
			if ref == orphan {
				t.Fatalf("deleted object still listed")
			}
		}
		data := write(t, doc, Config{XRefStreams: xrefStreams})
		if n, err := api.PageCount(bytes.NewReader(data), nil); err != nil || n != 2 {
			t.Fatalf("xrefStreams=%v pdfcpu: n=%d err=%v", xrefStreams, n, err)
		}
	}
}
