// Package xref locates indirect objects: it reads classic cross-reference
// tables, cross-reference streams and incremental update chains, and can
// rebuild a table by scanning the file when those are damaged.
package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/wudi/pagekit/filters"
	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/recovery"
	"github.com/wudi/pagekit/scanner"
	"github.com/wudi/pagekit/security"
)

// ErrNoXRef is returned when no usable cross-reference data was found.
var ErrNoXRef = errors.New("cross-reference data not found")

// Table maps object numbers to their storage location.
type Table interface {
	// Lookup returns the byte offset of an object stored directly in the file.
	Lookup(objNum int) (offset int64, gen int, found bool)
	// ObjStream reports the object stream holding a compressed object.
	ObjStream(objNum int) (streamNum int, index int, found bool)
	Objects() []int
	Type() string
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, data []byte) (Table, error)
	Trailer() *raw.DictObj
	Repaired() bool
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Limits       security.Limits
}

// NewResolver returns a resolver for classic tables, xref streams and
// hybrid files.
func NewResolver(cfg ResolverConfig) Resolver {
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = cfg.Limits.MaxXRefDepth
	}
	return &resolver{cfg: cfg}
}

type entryKind int

const (
	kindFree entryKind = iota
	kindInUse
	kindCompressed
)

type entry struct {
	kind   entryKind
	offset int64 // kindInUse
	gen    int
	stream int // kindCompressed
	index  int
}

type table struct {
	entries map[int]entry
	kind    string
}

func newTable(kind string) *table { return &table{entries: make(map[int]entry), kind: kind} }

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.kind != kindInUse {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.kind != kindCompressed {
		return 0, 0, false
	}
	return e.stream, e.index, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.kind != kindFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *table) Type() string { return t.kind }

// merge adds e unless a newer section already described objNum.
func (t *table) merge(objNum int, e entry) {
	if _, seen := t.entries[objNum]; !seen {
		t.entries[objNum] = e
	}
}

type resolver struct {
	cfg      ResolverConfig
	trailer  *raw.DictObj
	repaired bool
}

func (r *resolver) Trailer() *raw.DictObj { return r.trailer }
func (r *resolver) Repaired() bool        { return r.repaired }

func (r *resolver) Resolve(ctx context.Context, data []byte) (Table, error) {
	t, err := r.resolveChain(ctx, data)
	if err == nil {
		return t, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	loc := recovery.Location{Component: "xref", ByteOffset: int64(len(data))}
	if !recovery.Allows(ctx, r.cfg.Recovery, err, loc) {
		return nil, err
	}
	repairedTable, trailer, rerr := repair(ctx, data, r.cfg.Limits)
	if rerr != nil {
		return nil, fmt.Errorf("%w (repair failed: %v)", err, rerr)
	}
	r.trailer = trailer
	r.repaired = true
	return repairedTable, nil
}

func (r *resolver) resolveChain(ctx context.Context, data []byte) (*table, error) {
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	t := newTable("table")
	visited := make(map[int64]bool)
	offset := start
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= r.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("xref chain deeper than %d sections", r.cfg.MaxXRefDepth)
		}
		if visited[offset] {
			return nil, fmt.Errorf("xref chain loops at offset %d", offset)
		}
		visited[offset] = true

		section := newTable("table")
		trailer, err := r.readSection(ctx, data, offset, section)
		if err != nil {
			return nil, err
		}
		if depth == 0 {
			t.kind = section.kind
		}
		for num, e := range section.entries {
			t.merge(num, e)
		}
		if r.trailer == nil {
			r.trailer = trailer
		} else {
			for k, v := range trailer.KV {
				if _, ok := r.trailer.Get(k); !ok && k != "Prev" && k != "XRefStm" {
					r.trailer.Set(k, v)
				}
			}
		}
		prev, ok := trailer.Int("Prev")
		if !ok {
			break
		}
		offset = prev
	}
	if _, ok := r.trailer.Get("Root"); !ok {
		return nil, errors.New("trailer has no /Root")
	}
	return t, nil
}

// readSection parses the classic table or xref stream at offset into t and
// returns its trailer dictionary.
func (r *resolver) readSection(ctx context.Context, data []byte, offset int64, t *table) (*raw.DictObj, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("xref offset %d out of range", offset)
	}
	s := scanner.New(data, r.scannerConfig())
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tok, err := s.Next()
	if err != nil {
		return nil, fmt.Errorf("read xref at %d: %w", offset, err)
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		trailer, err := readClassic(scanner.NewReader(s, nil), t)
		if err != nil {
			return nil, fmt.Errorf("xref table at %d: %w", offset, err)
		}
		// hybrid files list compressed objects in a companion stream
		if stm, ok := trailer.Int("XRefStm"); ok {
			companion := newTable("stream")
			if _, err := r.readStream(ctx, data, stm, companion); err != nil {
				return nil, fmt.Errorf("hybrid xref stream at %d: %w", stm, err)
			}
			for num, e := range companion.entries {
				if cur, seen := t.entries[num]; !seen || cur.kind == kindFree {
					t.entries[num] = e
				}
			}
			t.kind = "hybrid"
		}
		return trailer, nil
	}
	return r.readStream(ctx, data, offset, t)
}

func readClassic(rd *scanner.Reader, t *table) (*raw.DictObj, error) {
	for {
		tok, err := rd.Next()
		if err != nil {
			return nil, fmt.Errorf("unexpected end of xref section: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := rd.ReadObject()
			if err != nil {
				return nil, fmt.Errorf("trailer: %w", err)
			}
			trailer, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, errors.New("trailer is not a dictionary")
			}
			return trailer, nil
		}
		countTok, err := rd.Next()
		if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt || countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return nil, fmt.Errorf("invalid subsection header at offset %d", tok.Pos)
		}
		first, count := int(tok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err1 := rd.Next()
			genTok, err2 := rd.Next()
			kindTok, err3 := rd.Next()
			if err1 != nil || err2 != nil || err3 != nil ||
				offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || kindTok.Type != scanner.TokenKeyword {
				return nil, fmt.Errorf("invalid entry %d of subsection %d", i, first)
			}
			objNum := first + i
			switch kindTok.Str {
			case "n":
				t.merge(objNum, entry{kind: kindInUse, offset: offTok.Int, gen: int(genTok.Int)})
			case "f":
				t.merge(objNum, entry{kind: kindFree, gen: int(genTok.Int)})
			default:
				return nil, fmt.Errorf("invalid entry type %q for object %d", kindTok.Str, objNum)
			}
		}
	}
}

func (r *resolver) readStream(ctx context.Context, data []byte, offset int64, t *table) (*raw.DictObj, error) {
	s := scanner.New(data, r.scannerConfig())
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	rd := scanner.NewReader(s, directLength)
	_, obj, err := rd.ReadIndirect()
	if err != nil {
		return nil, fmt.Errorf("xref stream at %d: %w", offset, err)
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object at %d is not an xref stream", offset)
	}
	if typ, _ := st.Dict.Name("Type"); typ != "XRef" {
		return nil, fmt.Errorf("object at %d has /Type /%s, want /XRef", offset, typ)
	}
	t.kind = "stream"
	pipeline := filters.NewDefaultPipeline(filters.Limits{
		MaxDecompressedSize: r.cfg.Limits.MaxDecompressedSize,
		MaxDecodeTime:       r.cfg.Limits.MaxDecodeTime,
	})
	decoded, err := pipeline.DecodeStream(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("decode xref stream: %w", err)
	}
	if err := parseStreamEntries(st.Dict, decoded, t); err != nil {
		return nil, err
	}
	return st.Dict, nil
}

func parseStreamEntries(dict *raw.DictObj, decoded []byte, t *table) error {
	wArr, ok := dict.ArrayAt("W")
	if !ok || wArr.Len() != 3 {
		return errors.New("xref stream /W must hold three widths")
	}
	var w [3]int
	for i := range w {
		n, ok := wArr.Items[i].(raw.NumberObj)
		if !ok || n.Int() < 0 || n.Int() > 8 {
			return fmt.Errorf("invalid /W entry %d", i)
		}
		w[i] = int(n.Int())
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return errors.New("xref stream /W widths are all zero")
	}

	size, _ := dict.Int("Size")
	var index []int
	if idx, ok := dict.ArrayAt("Index"); ok {
		for _, it := range idx.Items {
			n, ok := it.(raw.NumberObj)
			if !ok {
				return errors.New("invalid /Index entry")
			}
			index = append(index, int(n.Int()))
		}
		if len(index)%2 != 0 {
			return errors.New("/Index must hold pairs")
		}
	} else {
		index = []int{0, int(size)}
	}

	pos := 0
	for i := 0; i < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(decoded) {
				return fmt.Errorf("xref stream truncated at object %d", first+j)
			}
			row := decoded[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1) // default when the type field is omitted
			if w[0] > 0 {
				typ = field(row[:w[0]])
			}
			f2 := field(row[w[0] : w[0]+w[1]])
			f3 := field(row[w[0]+w[1]:])
			objNum := first + j
			switch typ {
			case 0:
				t.merge(objNum, entry{kind: kindFree, gen: int(f3)})
			case 1:
				t.merge(objNum, entry{kind: kindInUse, offset: f2, gen: int(f3)})
			case 2:
				t.merge(objNum, entry{kind: kindCompressed, stream: int(f2), index: int(f3)})
			default:
				// unknown types are treated as null references
			}
		}
	}
	return nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// directLength reads a direct /Length; indirect lengths fall back to
// searching for endstream, which is fine for xref streams.
func directLength(d *raw.DictObj) int64 {
	if n, ok := d.Int("Length"); ok {
		return n
	}
	return -1
}

func (r *resolver) scannerConfig() scanner.Config {
	return scanner.Config{
		Recovery:        r.cfg.Recovery,
		MaxStringLength: r.cfg.Limits.MaxStringLength,
		MaxNesting:      r.cfg.Limits.MaxNesting,
		MaxStreamLength: r.cfg.Limits.MaxStreamLength,
	}
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("%w: startxref not found", ErrNoXRef)
	}
	rest := bytes.TrimLeft(data[idx+len("startxref"):], " \t\r\n\f\x00")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("%w: startxref has no offset", ErrNoXRef)
	}
	offset, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse startxref: %v", ErrNoXRef, err)
	}
	if offset <= 0 || offset >= int64(len(data)) {
		return 0, fmt.Errorf("%w: startxref offset %d out of range", ErrNoXRef, offset)
	}
	return offset, nil
}
