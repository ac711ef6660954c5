package assemble

import (
	"context"
	"fmt"
	"hash"
	"sort"

	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/writer"
	"golang.org/x/crypto/blake2b"
)

// dedupe folds indirect objects with identical content into the one with
// the lowest number and returns how many were dropped. It repeats until
// nothing changes, since two font dictionaries only compare equal once
// the font programs they point at have been folded. Page tree nodes and
// the catalog are never folded.
func dedupe(ctx context.Context, out *writer.Document) (int, error) {
	removed := 0
	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		seen := make(map[[32]byte]raw.ObjectRef)
		repl := make(map[raw.ObjectRef]raw.ObjectRef)
		for _, ref := range out.Refs() {
			obj, _ := out.Get(ref)
			if structural(obj) {
				continue
			}
			sum := digest(obj)
			if first, ok := seen[sum]; ok {
				repl[ref] = first
			} else {
				seen[sum] = ref
			}
		}
		if len(repl) == 0 {
			return removed, nil
		}
		for dup := range repl {
			out.Delete(dup)
		}
		for _, ref := range out.Refs() {
			obj, _ := out.Get(ref)
			out.Set(ref, redirectRefs(obj, repl))
		}
		removed += len(repl)
	}
}

func structural(obj raw.Object) bool {
	d, ok := obj.(*raw.DictObj)
	if !ok {
		return false
	}
	switch t, _ := d.Name("Type"); t {
	case "Page", "Pages", "Catalog":
		return true
	}
	return false
}

func digest(obj raw.Object) [32]byte {
	h, _ := blake2b.New256(nil)
	writeHash(h, obj)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func writeHash(h hash.Hash, obj raw.Object) {
	switch t := obj.(type) {
	case nil, raw.NullObj:
		fmt.Fprint(h, "null;")
	case raw.NameObj:
		fmt.Fprintf(h, "/%s;", t.Val)
	case raw.NumberObj:
		if t.IsInteger() {
			fmt.Fprintf(h, "i%d;", t.Int())
		} else {
			fmt.Fprintf(h, "f%g;", t.Float())
		}
	case raw.BoolObj:
		fmt.Fprintf(h, "b%t;", t.V)
	case raw.StringObj:
		fmt.Fprintf(h, "s%d:", len(t.Bytes))
		h.Write(t.Bytes)
	case raw.RefObj:
		fmt.Fprintf(h, "r%d.%d;", t.R.Num, t.R.Gen)
	case *raw.ArrayObj:
		fmt.Fprintf(h, "[%d:", len(t.Items))
		for _, v := range t.Items {
			writeHash(h, v)
		}
		fmt.Fprint(h, "]")
	case *raw.DictObj:
		keys := make([]string, 0, len(t.KV))
		for k := range t.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(h, "<<%d:", len(keys))
		for _, k := range keys {
			fmt.Fprintf(h, "/%s ", k)
			writeHash(h, t.KV[k])
		}
		fmt.Fprint(h, ">>")
	case *raw.StreamObj:
		writeHash(h, t.Dict)
		fmt.Fprintf(h, "stream%d:", len(t.Data))
		h.Write(t.Data)
	default:
		fmt.Fprintf(h, "?%T;", obj)
	}
}

// redirectRefs rewrites references in obj through repl, in place for
// containers.
func redirectRefs(obj raw.Object, repl map[raw.ObjectRef]raw.ObjectRef) raw.Object {
	switch t := obj.(type) {
	case raw.RefObj:
		if to, ok := repl[t.R]; ok {
			return raw.RefObj{R: to}
		}
	case *raw.ArrayObj:
		for i, v := range t.Items {
			t.Items[i] = redirectRefs(v, repl)
		}
	case *raw.DictObj:
		for k, v := range t.KV {
			t.KV[k] = redirectRefs(v, repl)
		}
	case *raw.StreamObj:
		redirectRefs(t.Dict, repl)
	}
	return obj
}
