package xref

import (
	"bytes"
	"context"
	"errors"

	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/scanner"
	"github.com/wudi/pagekit/security"
)

// repair rebuilds a table by scanning for "N G obj" headers. The last
// definition of an object wins, as it would after incremental updates. The
// trailer comes from the last trailer keyword, or is synthesised from the
// last /Type /Catalog object when none exists.
func repair(ctx context.Context, data []byte, limits security.Limits) (*table, *raw.DictObj, error) {
	t := newTable("repaired")
	var catalog raw.ObjectRef
	maxNum := 0

	for i := 0; i < len(data); i++ {
		if i&0xffff == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		if !startsObjHeader(data, i) {
			continue
		}
		num, gen, next, ok := parseObjHeader(data, i)
		if !ok {
			continue
		}
		t.entries[num] = entry{kind: kindInUse, offset: int64(i), gen: gen}
		if num > maxNum {
			maxNum = num
		}
		if isCatalogAt(data, next) {
			catalog = raw.ObjectRef{Num: num, Gen: gen}
		}
		i = next - 1
	}
	if len(t.entries) == 0 {
		return nil, nil, errors.New("no objects found")
	}

	trailer := lastTrailer(data, limits)
	if trailer == nil {
		if catalog.IsZero() {
			return nil, nil, errors.New("no trailer and no catalog found")
		}
		trailer = raw.Dict()
		trailer.Set("Root", raw.RefObj{R: catalog})
	}
	if _, ok := trailer.Get("Root"); !ok {
		if catalog.IsZero() {
			return nil, nil, errors.New("trailer has no /Root and no catalog found")
		}
		trailer.Set("Root", raw.RefObj{R: catalog})
	}
	trailer.Set("Size", raw.NumberInt(int64(maxNum+1)))
	trailer.Delete("Prev")
	trailer.Delete("XRefStm")
	return t, trailer, nil
}

// startsObjHeader reports whether a digit run begins at i on a token boundary.
func startsObjHeader(data []byte, i int) bool {
	if !isDigit(data[i]) {
		return false
	}
	return i == 0 || isSpace(data[i-1])
}

// parseObjHeader matches "num gen obj" at i and returns the offset after it.
func parseObjHeader(data []byte, i int) (num, gen, next int, ok bool) {
	num, i, ok = readInt(data, i)
	if !ok || i >= len(data) || !isSpace(data[i]) {
		return 0, 0, 0, false
	}
	i = skipSpace(data, i)
	gen, i, ok = readInt(data, i)
	if !ok || i >= len(data) || !isSpace(data[i]) {
		return 0, 0, 0, false
	}
	i = skipSpace(data, i)
	if !bytes.HasPrefix(data[i:], []byte("obj")) {
		return 0, 0, 0, false
	}
	i += 3
	if i < len(data) && !isSpace(data[i]) && !isDelim(data[i]) {
		return 0, 0, 0, false
	}
	return num, gen, i, true
}

func isCatalogAt(data []byte, from int) bool {
	end := bytes.Index(data[from:], []byte("endobj"))
	if end < 0 {
		end = len(data) - from
	}
	body := data[from : from+end]
	idx := bytes.Index(body, []byte("/Type"))
	if idx < 0 {
		return false
	}
	rest := bytes.TrimLeft(body[idx+len("/Type"):], " \t\r\n\f")
	return bytes.HasPrefix(rest, []byte("/Catalog")) &&
		(len(rest) == len("/Catalog") || !isRegular(rest[len("/Catalog")]))
}

func lastTrailer(data []byte, limits security.Limits) *raw.DictObj {
	idx := bytes.LastIndex(data, []byte("trailer"))
	if idx < 0 {
		return nil
	}
	s := scanner.New(data, scanner.Config{
		MaxStringLength: limits.MaxStringLength,
		MaxNesting:      limits.MaxNesting,
	})
	if err := s.SeekTo(int64(idx + len("trailer"))); err != nil {
		return nil
	}
	obj, err := scanner.NewReader(s, nil).ReadObject()
	if err != nil {
		return nil
	}
	d, _ := obj.(*raw.DictObj)
	return d
}

func readInt(data []byte, i int) (int, int, bool) {
	start := i
	v := 0
	for i < len(data) && isDigit(data[i]) {
		if i-start > 9 {
			return 0, i, false
		}
		v = v*10 + int(data[i]-'0')
		i++
	}
	return v, i, i > start
}

func skipSpace(data []byte, i int) int {
	for i < len(data) && isSpace(data[i]) {
		i++
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(c byte) bool { return !isSpace(c) && !isDelim(c) }
