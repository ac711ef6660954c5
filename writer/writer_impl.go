package writer

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/wudi/pagekit/ir/raw"
	"golang.org/x/crypto/blake2b"
)

type impl struct{ interceptors []Interceptor }

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	if obj == nil {
		return nil, fmt.Errorf("object %v is nil", ref)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	buf.Write(serializePrimitive(obj))
	buf.WriteString("\nendobj\n")
	return buf.Bytes(), nil
}

// countingWriter buffers the whole file, tracking byte offsets and feeding
// the body hash used for /ID. Nothing reaches the destination until the
// file is complete.
type countingWriter struct {
	buf bytes.Buffer
	h   hash.Hash
	n   int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, _ := c.buf.Write(p)
	c.n += int64(n)
	c.h.Write(p[:n])
	return n, nil
}

func (w *impl) Write(ctx context.Context, doc *Document, out io.Writer, cfg Config) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if doc.Root.IsZero() {
		return errors.New("document has no root object")
	}
	if _, ok := doc.Get(doc.Root); !ok {
		return fmt.Errorf("root object %v missing", doc.Root)
	}
	h, _ := blake2b.New256(nil)
	cw := &countingWriter{h: h}

	fmt.Fprintf(cw, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", pdfVersion(cfg))

	offsets := make(map[int]int64, doc.Len()+2)
	nums := doc.numbers()
	for i, num := range nums {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		ref := raw.ObjectRef{Num: num}
		obj, err := prepare(doc.objects[num], cfg)
		if err != nil {
			return fmt.Errorf("object %d: %w", num, err)
		}
		if err := w.writeObject(ctx, cw, ref, obj, offsets); err != nil {
			return err
		}
	}
	size := doc.next

	var infoRef *raw.ObjectRef
	if info := infoDict(doc.Info, cfg); info != nil {
		ref := raw.ObjectRef{Num: size}
		size++
		if err := w.writeObject(ctx, cw, ref, info, offsets); err != nil {
			return err
		}
		infoRef = &ref
	}

	ids := fileID(h, cfg)
	trailer := buildTrailer(size, doc.Root, infoRef, ids)

	if cfg.XRefStreams {
		xrefRef := raw.ObjectRef{Num: size}
		size++
		trailer.Set("Size", raw.NumberInt(int64(size)))
		xrefAt := cw.n
		offsets[xrefRef.Num] = xrefAt
		index, entries := xrefStreamIndexAndEntries(offsets)
		trailer.Set("Type", raw.NameLiteral("XRef"))
		trailer.Set("W", raw.NewArray(raw.NumberInt(1), raw.NumberInt(4), raw.NumberInt(1)))
		trailer.Set("Index", index)
		st, err := prepare(raw.NewStream(trailer, entries), Config{Compress: true})
		if err != nil {
			return err
		}
		serialized, _ := w.SerializeObject(xrefRef, st)
		cw.Write(serialized)
		fmt.Fprintf(cw, "startxref\n%d\n%%%%EOF\n", xrefAt)
	} else {
		xrefAt := cw.n
		writeClassicXRef(cw, offsets, size)
		cw.Write([]byte("trailer\n"))
		cw.Write(serializePrimitive(trailer))
		fmt.Fprintf(cw, "\nstartxref\n%d\n%%%%EOF\n", xrefAt)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := out.Write(cw.buf.Bytes())
	return err
}

func (w *impl) writeObject(ctx context.Context, cw *countingWriter, ref raw.ObjectRef, obj raw.Object, offsets map[int]int64) error {
	for _, ic := range w.interceptors {
		if err := ic.BeforeWrite(ctx, ref, obj); err != nil {
			return err
		}
	}
	serialized, err := w.SerializeObject(ref, obj)
	if err != nil {
		return err
	}
	offsets[ref.Num] = cw.n
	if _, err := cw.Write(serialized); err != nil {
		return err
	}
	for _, ic := range w.interceptors {
		if err := ic.AfterWrite(ctx, ref, int64(len(serialized))); err != nil {
			return err
		}
	}
	return nil
}

func writeClassicXRef(w io.Writer, offsets map[int]int64, size int) {
	fmt.Fprintf(w, "xref\n0 %d\n0000000000 65535 f \n", size)
	for i := 1; i < size; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(w, "%010d 00000 n \n", off)
		} else {
			io.WriteString(w, "0000000000 00001 f \n")
		}
	}
}

func infoDict(info map[string]string, cfg Config) *raw.DictObj {
	if len(info) == 0 && cfg.Producer == "" {
		return nil
	}
	d := raw.Dict()
	for k, v := range info {
		d.Set(k, textString(v))
	}
	if cfg.Producer != "" {
		d.Set("Producer", textString(cfg.Producer))
	}
	if !cfg.Deterministic {
		d.Set("CreationDate", raw.Str([]byte(time.Now().UTC().Format("D:20060102150405Z"))))
	}
	return d
}

func buildTrailer(size int, root raw.ObjectRef, info *raw.ObjectRef, ids [2][]byte) *raw.DictObj {
	trailer := raw.Dict()
	trailer.Set("Size", raw.NumberInt(int64(size)))
	trailer.Set("Root", raw.Ref(root.Num, root.Gen))
	if info != nil {
		trailer.Set("Info", raw.Ref(info.Num, info.Gen))
	}
	trailer.Set("ID", raw.NewArray(raw.HexStr(ids[0]), raw.HexStr(ids[1])))
	return trailer
}

// fileID uses the body hash for both halves in deterministic mode and a
// random first half otherwise.
func fileID(h hash.Hash, cfg Config) [2][]byte {
	sum := h.Sum(nil)[:16]
	if cfg.Deterministic {
		return [2][]byte{sum, sum}
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		id = sum
	}
	return [2][]byte{id, sum}
}
