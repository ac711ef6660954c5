package writer

import (
	"testing"

	"github.com/wudi/pagekit/ir/raw"
)

func TestSerializePrimitive(t *testing.T) {
	dict := raw.Dict()
	dict.Set("B", raw.Bool(true))
	dict.Set("A", raw.NumberFloat(0.5))
	tests := []struct {
		name string
		obj  raw.Object
		want string
	}{
		{"name escapes", raw.NameLiteral("A B#(x)"), "/A#20B#23#28x#29"},
		{"integer", raw.NumberInt(-42), "-42"},
		{"real", raw.NumberFloat(612.25), "612.25"},
		{"negative zero", raw.NumberFloat(-0.0000), "0"},
		{"literal string", raw.Str([]byte("a(b)\\c\n")), `(a\(b\)\\c\n)`},
		{"binary string", raw.Str([]byte{0xFE, 0xFF}), `(\376\377)`},
		{"hex string", raw.HexStr([]byte{0xAB, 0x01}), "<AB01>"},
		{"array", raw.NewArray(raw.NumberInt(1), raw.NullObj{}, raw.Ref(3, 0)), "[1 null 3 0 R]"},
		{"sorted dict", dict, "<</A 0.5/B true>>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(serializePrimitive(tt.obj)); got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestTextStringUsesUTF16ForNonASCII(t *testing.T) {
	s := textString("Ünïcode")
	if len(s.Bytes) < 2 || s.Bytes[0] != 0xFE || s.Bytes[1] != 0xFF {
		t.Fatalf("missing UTF-16BE byte order mark: % x", s.Bytes)
	}
	if plain := textString("plain"); string(plain.Bytes) != "plain" {
		t.Fatalf("ascii text re-encoded: %q", plain.Bytes)
	}
}

func TestXRefStreamIndexSegments(t *testing.T) {
	index, entries := xrefStreamIndexAndEntries(map[int]int64{1: 10, 2: 20, 5: 50})
	want := []int64{0, 3, 5, 1}
	if index.Len() != len(want) {
		t.Fatalf("index = %v", index.Items)
	}
	for i, w := range want {
		if index.Items[i].(raw.NumberObj).Int() != w {
			t.Fatalf("index[%d] = %v, want %d", i, index.Items[i], w)
		}
	}
	if len(entries) != 4*6 {
		t.Fatalf("entries length = %d", len(entries))
	}
}
