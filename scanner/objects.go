package scanner

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pagekit/ir/raw"
)

// LengthFunc resolves a stream's /Length entry, which may be an indirect
// reference. It returns -1 when the length is unknown.
type LengthFunc func(dict *raw.DictObj) int64

// Reader assembles raw objects from scanner tokens.
type Reader struct {
	s      Scanner
	buf    []Token
	length LengthFunc
}

func NewReader(s Scanner, length LengthFunc) *Reader {
	return &Reader{s: s, length: length}
}

func (r *Reader) Next() (Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *Reader) Unread(tok Token) { r.buf = append(r.buf, tok) }

// ReadIndirect reads "num gen obj <object> endobj" at the current position.
// A dictionary followed by a stream keyword becomes a *raw.StreamObj.
func (r *Reader) ReadIndirect() (raw.ObjectRef, raw.Object, error) {
	tokNum, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	tokGen, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	tokObj, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	if tokNum.Type != TokenNumber || !tokNum.IsInt || tokGen.Type != TokenNumber || !tokGen.IsInt ||
		tokObj.Type != TokenKeyword || tokObj.Str != "obj" {
		return raw.ObjectRef{}, nil, fmt.Errorf("%w: expected object header at offset %d", ErrSyntax, tokNum.Pos)
	}
	ref := raw.ObjectRef{Num: int(tokNum.Int), Gen: int(tokGen.Int)}
	obj, err := r.ReadObject()
	if err != nil {
		return ref, nil, fmt.Errorf("object %v: %w", ref, err)
	}
	if dict, ok := obj.(*raw.DictObj); ok {
		hint := int64(-1)
		if r.length != nil {
			hint = r.length(dict)
		}
		r.s.SetNextStreamLength(hint)
		tok, err := r.Next()
		switch {
		case err == nil && tok.Type == TokenStream:
			obj = raw.NewStream(dict, tok.Bytes)
		case err == nil:
			r.Unread(tok)
		}
		r.s.SetNextStreamLength(-1)
	}
	if tok, err := r.Next(); err == nil && !(tok.Type == TokenKeyword && tok.Str == "endobj") {
		r.Unread(tok)
	}
	return ref, obj, nil
}

// ReadObject reads one direct object.
func (r *Reader) ReadObject() (raw.Object, error) {
	tok, err := r.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: unexpected end of data", ErrSyntax)
		}
		return nil, err
	}
	switch tok.Type {
	case TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenString:
		return raw.StringObj{Bytes: append([]byte(nil), tok.Bytes...), Hex: tok.Hex}, nil
	case TokenRef:
		return raw.Ref(tok.Num, tok.Gen), nil
	case TokenArray:
		return r.readArray()
	case TokenDict:
		return r.readDict()
	}
	return nil, fmt.Errorf("%w: unexpected %s token %q at offset %d", ErrSyntax, tok.Type, tok.String(), tok.Pos)
}

func (r *Reader) readArray() (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated array", ErrSyntax)
		}
		if tok.Type == TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		r.Unread(tok)
		item, err := r.ReadObject()
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (r *Reader) readDict() (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrSyntax)
		}
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != TokenName {
			return nil, fmt.Errorf("%w: expected name in dictionary, got %s at offset %d", ErrSyntax, tok.Type, tok.Pos)
		}
		val, err := r.ReadObject()
		if err != nil {
			return nil, err
		}
		// a null value is equivalent to an absent key
		if _, isNull := val.(raw.NullObj); isNull {
			continue
		}
		d.Set(tok.Str, val)
	}
}
