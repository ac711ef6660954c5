package security

import (
	"fmt"

	"github.com/wudi/pagekit/ir/raw"
)

// EncryptionInfo summarizes the /Encrypt dictionary of a document.
type EncryptionInfo struct {
	Encrypted bool
	Filter    string // security handler, "Standard" for password security
	SubFilter string
	V         int
	R         int
	Length    int // key length in bits
}

func (e EncryptionInfo) String() string {
	if !e.Encrypted {
		return "none"
	}
	s := e.Filter
	if s == "" {
		s = "unknown handler"
	}
	s += fmt.Sprintf(" V%d", e.V)
	if e.R > 0 {
		s += fmt.Sprintf(" R%d", e.R)
	}
	if e.Length > 0 {
		s += fmt.Sprintf(" %d-bit", e.Length)
	}
	return s
}

// Inspect classifies the trailer of a document. resolve is used when
// /Encrypt is an indirect reference; it may be nil.
func Inspect(trailer *raw.DictObj, resolve func(raw.ObjectRef) (raw.Object, error)) EncryptionInfo {
	if trailer == nil {
		return EncryptionInfo{}
	}
	obj, ok := trailer.Get("Encrypt")
	if !ok {
		return EncryptionInfo{}
	}
	if _, isNull := obj.(raw.NullObj); isNull {
		return EncryptionInfo{}
	}
	info := EncryptionInfo{Encrypted: true}
	if ref, ok := obj.(raw.RefObj); ok && resolve != nil {
		if target, err := resolve(ref.R); err == nil {
			obj = target
		}
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return info
	}
	info.Filter, _ = dict.Name("Filter")
	info.SubFilter, _ = dict.Name("SubFilter")
	if v, ok := dict.Int("V"); ok {
		info.V = int(v)
	}
	if r, ok := dict.Int("R"); ok {
		info.R = int(r)
	}
	if l, ok := dict.Int("Length"); ok {
		info.Length = int(l)
	}
	return info
}
