// Package pdftest builds small PDF files for tests.
package pdftest

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"sort"
	"strings"
)

// Builder assembles a PDF from object bodies and computes the xref.
type Builder struct {
	version string
	objs    map[int][]byte
	next    int
}

func NewBuilder() *Builder {
	return &Builder{version: "1.7", objs: make(map[int][]byte), next: 1}
}

func (b *Builder) Version(v string) *Builder {
	b.version = v
	return b
}

// Reserve allocates an object number without a body.
func (b *Builder) Reserve() int {
	n := b.next
	b.next++
	return n
}

// Add stores body under the next free object number.
func (b *Builder) Add(body string) int {
	n := b.Reserve()
	b.Set(n, body)
	return n
}

func (b *Builder) Set(num int, body string) {
	b.objs[num] = []byte(body)
	if num >= b.next {
		b.next = num + 1
	}
}

// AddStream stores a stream object; dict is the dictionary content without
// the /Length entry.
func (b *Builder) AddStream(dict string, data []byte) int {
	n := b.Reserve()
	b.SetStream(n, dict, data)
	return n
}

func (b *Builder) SetStream(num int, dict string, data []byte) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<< %s /Length %d >>\nstream\n", dict, len(data))
	buf.Write(data)
	buf.WriteString("\nendstream")
	b.objs[num] = buf.Bytes()
	if num >= b.next {
		b.next = num + 1
	}
}

func (b *Builder) numbers() []int {
	nums := make([]int, 0, len(b.objs))
	for n := range b.objs {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

func (b *Builder) header(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", b.version)
}

// Bytes writes the file with a classic xref table. trailer holds extra
// trailer entries such as "/Root 1 0 R".
func (b *Builder) Bytes(trailer string) []byte {
	var buf bytes.Buffer
	b.header(&buf)
	offsets := make(map[int]int)
	for _, n := range b.numbers() {
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", n)
		buf.Write(b.objs[n])
		buf.WriteString("\nendobj\n")
	}
	xrefAt := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", b.next)
	for n := 1; n < b.next; n++ {
		if off, ok := offsets[n]; ok {
			fmt.Fprintf(&buf, "%010d 00000 n \n", off)
		} else {
			buf.WriteString("0000000000 00001 f \n")
		}
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d %s >>\nstartxref\n%d\n%%%%EOF\n", b.next, trailer, xrefAt)
	return buf.Bytes()
}

// ObjStmBytes writes the file with a compressed xref stream. Objects listed
// in packed move into a single object stream; they must not be streams.
func (b *Builder) ObjStmBytes(trailer string, packed []int) []byte {
	inStm := make(map[int]int)
	var header, body bytes.Buffer
	for i, n := range packed {
		inStm[n] = i
		fmt.Fprintf(&header, "%d %d ", n, body.Len())
		body.Write(b.objs[n])
		body.WriteString("\n")
	}
	stmNum := b.next
	xrefNum := b.next + 1
	size := b.next + 2

	var buf bytes.Buffer
	b.header(&buf)
	offsets := make(map[int]int)
	for _, n := range b.numbers() {
		if _, ok := inStm[n]; ok {
			continue
		}
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", n)
		buf.Write(b.objs[n])
		buf.WriteString("\nendobj\n")
	}
	stmData := append(header.Bytes(), body.Bytes()...)
	z := deflate(stmData)
	offsets[stmNum] = buf.Len()
	fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /ObjStm /N %d /First %d /Filter /FlateDecode /Length %d >>\nstream\n",
		stmNum, len(packed), header.Len(), len(z))
	buf.Write(z)
	buf.WriteString("\nendstream\nendobj\n")

	xrefAt := buf.Len()
	offsets[xrefNum] = xrefAt
	var rows []byte
	for n := 0; n < size; n++ {
		switch {
		case n == 0:
			rows = append(rows, 0, 0, 0, 0, 0xff)
		case offsets[n] > 0:
			off := offsets[n]
			rows = append(rows, 1, byte(off>>16), byte(off>>8), byte(off), 0)
		default:
			if idx, ok := inStm[n]; ok {
				rows = append(rows, 2, byte(stmNum>>16), byte(stmNum>>8), byte(stmNum), byte(idx))
			} else {
				rows = append(rows, 0, 0, 0, 0, 0)
			}
		}
	}
	zr := deflate(rows)
	fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 3 1] %s /Filter /FlateDecode /Length %d >>\nstream\n",
		xrefNum, size, trailer, len(zr))
	buf.Write(zr)
	fmt.Fprintf(&buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", xrefAt)
	return buf.Bytes()
}

func deflate(data []byte) []byte {
	var z bytes.Buffer
	w := zlib.NewWriter(&z)
	w.Write(data)
	w.Close()
	return z.Bytes()
}

// Size is a page size in points.
type Size struct{ W, H float64 }

var (
	Letter = Size{612, 792}
	A4     = Size{595, 842}
)

// Pages returns a document with one page per size. Page i draws the label
// "<label> p<i>" (1-based) so tests can tell pages apart after merging;
// all pages share one font object.
func Pages(label string, sizes ...Size) []byte {
	b, root := pagesBuilder(label, sizes)
	return b.Bytes(fmt.Sprintf("/Root %d 0 R /Info %d 0 R", root, b.Add("<< /Title ("+label+") /Producer (pdftest) >>")))
}

// PagesObjStm is Pages written with an xref stream and the page
// dictionaries packed into an object stream.
func PagesObjStm(label string, sizes ...Size) []byte {
	b, root := pagesBuilder(label, sizes)
	var packed []int
	for _, n := range b.numbers() {
		if !bytes.Contains(b.objs[n], []byte("stream\n")) {
			packed = append(packed, n)
		}
	}
	return b.ObjStmBytes(fmt.Sprintf("/Root %d 0 R", root), packed)
}

// Uniform returns a document with n Letter pages.
func Uniform(label string, n int) []byte {
	sizes := make([]Size, n)
	for i := range sizes {
		sizes[i] = Letter
	}
	return Pages(label, sizes...)
}

func pagesBuilder(label string, sizes []Size) (*Builder, int) {
	b := NewBuilder()
	root := b.Reserve()
	pages := b.Reserve()
	font := b.Add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	kids := make([]string, 0, len(sizes))
	for i, sz := range sizes {
		content := b.AddStream("", []byte(fmt.Sprintf("BT /F1 24 Tf 72 72 Td (%s) Tj ET", PageLabel(label, i+1))))
		page := b.Add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %s %s] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			pages, num(sz.W), num(sz.H), font, content))
		kids = append(kids, fmt.Sprintf("%d 0 R", page))
	}
	b.Set(root, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pages))
	b.Set(pages, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids)))
	return b, root
}

// PageLabel is the text drawn on page n (1-based) of a fixture.
func PageLabel(label string, n int) string { return fmt.Sprintf("%s p%d", label, n) }

func num(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// Inherited returns a two-level page tree whose three pages take
// /Resources, /MediaBox and /Rotate from their ancestors. The third page
// overrides /MediaBox and /Rotate.
func Inherited() []byte {
	b := NewBuilder()
	root := b.Reserve()
	top := b.Reserve()
	mid := b.Reserve()
	font := b.Add("<< /Type /Font /Subtype /Type1 /BaseFont /Courier >>")
	res := b.Add(fmt.Sprintf("<< /Font << /F1 %d 0 R >> >>", font))
	var kids []string
	for i := 1; i <= 2; i++ {
		c := b.AddStream("", []byte(fmt.Sprintf("BT /F1 12 Tf 10 10 Td (%s) Tj ET", PageLabel("inherited", i))))
		kids = append(kids, fmt.Sprintf("%d 0 R", b.Add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /Contents %d 0 R >>", mid, c))))
	}
	c3 := b.AddStream("", []byte(fmt.Sprintf("BT /F1 12 Tf 10 10 Td (%s) Tj ET", PageLabel("inherited", 3))))
	p3 := b.Add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /Contents %d 0 R /MediaBox [0 0 200 300] /Rotate 0 >>", top, c3))
	b.Set(mid, fmt.Sprintf("<< /Type /Pages /Parent %d 0 R /Kids [%s] /Count 2 /Rotate 90 >>", top, strings.Join(kids, " ")))
	b.Set(top, fmt.Sprintf("<< /Type /Pages /Kids [%d 0 R %d 0 R] /Count 3 /MediaBox [0 0 612 792] /Resources %d 0 R >>", mid, p3, res))
	b.Set(root, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", top))
	return b.Bytes(fmt.Sprintf("/Root %d 0 R", root))
}

// Annotated returns a one-page document carrying a text note and its
// popup. Both annotations name the page in /P and point at each other.
func Annotated(label string) []byte {
	b := NewBuilder()
	root := b.Reserve()
	pages := b.Reserve()
	page := b.Reserve()
	note := b.Reserve()
	popup := b.Reserve()
	font := b.Add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	content := b.AddStream("", []byte(fmt.Sprintf("BT /F1 24 Tf 72 72 Td (%s) Tj ET", PageLabel(label, 1))))
	b.Set(note, fmt.Sprintf("<< /Type /Annot /Subtype /Text /Rect [72 700 92 720] /Contents (%s) /P %d 0 R /Popup %d 0 R >>", label, page, popup))
	b.Set(popup, fmt.Sprintf("<< /Type /Annot /Subtype /Popup /Rect [100 600 300 700] /P %d 0 R /Parent %d 0 R >>", page, note))
	b.Set(page, fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R /Annots [%d 0 R %d 0 R] >>",
		pages, font, content, note, popup))
	b.Set(pages, fmt.Sprintf("<< /Type /Pages /Kids [%d 0 R] /Count 1 >>", page))
	b.Set(root, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pages))
	return b.Bytes(fmt.Sprintf("/Root %d 0 R", root))
}

// Encrypted returns a one-page document whose trailer names a standard
// security handler.
func Encrypted() []byte {
	b, root := pagesBuilder("secret", []Size{Letter})
	enc := b.Add("<< /Filter /Standard /V 2 /R 3 /Length 128 /O <00> /U <00> /P -4 >>")
	return b.Bytes(fmt.Sprintf("/Root %d 0 R /Encrypt %d 0 R /ID [<01> <01>]", root, enc))
}

// Corrupt is not a PDF at all.
func Corrupt() []byte { return []byte("this is not a pdf file\n") }

// Truncated returns a document cut off in the middle of its objects, with
// no xref and no trailer.
func Truncated() []byte {
	data := Uniform("truncated", 2)
	return data[:len(data)/3]
}
