package writer

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/wudi/pagekit/ir/raw"
	"golang.org/x/text/encoding/unicode"
)

func pdfVersion(cfg Config) string {
	v := cfg.Version
	if v == "" {
		v = PDF17
	}
	if cfg.XRefStreams && v < PDF15 {
		v = PDF15
	}
	return string(v)
}

// prepare returns the object as it should be written: streams get a fresh
// /Length and, when configured, Flate compression. obj is not modified.
func prepare(obj raw.Object, cfg Config) (raw.Object, error) {
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return obj, nil
	}
	dict := raw.Dict()
	if st.Dict != nil {
		for k, v := range st.Dict.KV {
			dict.Set(k, v)
		}
	}
	data := st.Data
	if _, filtered := dict.Get("Filter"); cfg.Compress && !filtered && len(data) > 0 {
		z, err := flateEncode(data)
		if err != nil {
			return nil, err
		}
		data = z
		dict.Set("Filter", raw.NameLiteral("FlateDecode"))
		dict.Delete("DecodeParms")
	}
	dict.Set("Length", raw.NumberInt(int64(len(data))))
	return raw.NewStream(dict, data), nil
}

func flateEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// textString encodes s as PDFDocEncoding when it is ASCII and as UTF-16BE
// with a byte order mark otherwise.
func textString(s string) raw.StringObj {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return raw.Str([]byte(s))
	}
	enc, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		return raw.Str([]byte(s))
	}
	return raw.Str(enc)
}

func xrefStreamIndexAndEntries(offsets map[int]int64) (*raw.ArrayObj, []byte) {
	keys := make([]int, 0, len(offsets)+1)
	keys = append(keys, 0)
	for k := range offsets {
		if k != 0 {
			keys = append(keys, k)
		}
	}
	sort.Ints(keys)
	indexArr := raw.NewArray()
	var entries []byte
	segStart, prev := -1, -1
	for _, k := range keys {
		if segStart == -1 {
			segStart = k
		} else if k != prev+1 {
			appendSegment(indexArr, segStart, prev)
			segStart = k
		}
		prev = k
		if k == 0 {
			entries = appendXRefStreamEntry(entries, 0, 0, 255)
		} else {
			entries = appendXRefStreamEntry(entries, 1, offsets[k], 0)
		}
	}
	appendSegment(indexArr, segStart, prev)
	return indexArr, entries
}

func appendSegment(index *raw.ArrayObj, first, last int) {
	index.Append(raw.NumberInt(int64(first)))
	index.Append(raw.NumberInt(int64(last - first + 1)))
}

func appendXRefStreamEntry(buf []byte, typ int, field2 int64, gen int) []byte {
	buf = append(buf, byte(typ))
	offset := uint32(field2)
	buf = append(buf, byte(offset>>24), byte(offset>>16), byte(offset>>8), byte(offset))
	return append(buf, byte(gen))
}

func serializePrimitive(o raw.Object) []byte {
	var b bytes.Buffer
	writePrimitive(&b, o)
	return b.Bytes()
}

func writePrimitive(b *bytes.Buffer, o raw.Object) {
	switch v := o.(type) {
	case raw.NameObj:
		b.WriteString(pdfNameLiteral(v.Val))
	case raw.NumberObj:
		if v.IsInteger() {
			b.WriteString(strconv.FormatInt(v.Int(), 10))
		} else {
			b.WriteString(formatReal(v.Float()))
		}
	case raw.BoolObj:
		b.WriteString(strconv.FormatBool(v.V))
	case raw.NullObj:
		b.WriteString("null")
	case raw.StringObj:
		if v.Hex {
			b.WriteByte('<')
			b.WriteString(strings.ToUpper(hex.EncodeToString(v.Bytes)))
			b.WriteByte('>')
		} else {
			b.Write(escapeLiteralString(v.Bytes))
		}
	case *raw.ArrayObj:
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			writePrimitive(b, it)
		}
		b.WriteByte(']')
	case *raw.DictObj:
		writeDict(b, v)
	case *raw.StreamObj:
		writeDict(b, v.Dict)
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
	case raw.RefObj:
		fmt.Fprintf(b, "%d %d R", v.R.Num, v.R.Gen)
	default:
		b.WriteString("null")
	}
}

func writeDict(b *bytes.Buffer, d *raw.DictObj) {
	b.WriteString("<<")
	if d != nil {
		keys := make([]string, 0, len(d.KV))
		for k := range d.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(pdfNameLiteral(k))
			b.WriteByte(' ')
			writePrimitive(b, d.KV[k])
		}
	}
	b.WriteString(">>")
}

func formatReal(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if s == "-0" {
		return "0"
	}
	return s
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

// pdfNameLiteral writes a name with #xx escapes for bytes outside the
// regular character set.
func pdfNameLiteral(value string) string {
	var b strings.Builder
	b.WriteByte('/')
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch > 0x20 && ch < 0x7f && !strings.ContainsRune("()<>[]{}/%#", rune(ch)) {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}
