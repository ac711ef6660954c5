package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	"errors"
	"testing"

	"github.com/wudi/pagekit/ir/raw"
)

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func TestFlateDecode(t *testing.T) {
	dec := NewFlateDecoder(0)
	out, err := dec.Decode(context.Background(), zlibBytes(t, []byte("hello world")), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeWithoutZlibHeader(t *testing.T) {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.BestSpeed)
	w.Write([]byte("raw deflate"))
	w.Close()

	out, err := NewFlateDecoder(0).Decode(context.Background(), buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "raw deflate" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeWithPredictor(t *testing.T) {
	// PNG predictor row: filter byte 1 (Sub), then row bytes.
	params := raw.Dict()
	params.Set("Predictor", raw.NumberInt(12))
	params.Set("Colors", raw.NumberInt(1))
	params.Set("BitsPerComponent", raw.NumberInt(8))
	params.Set("Columns", raw.NumberInt(3))

	out, err := NewFlateDecoder(0).Decode(context.Background(), zlibBytes(t, []byte{1, 10, 12, 20}), params)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	want := []byte{10, 22, 42}
	if !bytes.Equal(out, want) {
		t.Fatalf("predictor output mismatch: got %v want %v", out, want)
	}
}

func TestPNGUpPredictorAcrossRows(t *testing.T) {
	params := raw.Dict()
	params.Set("Predictor", raw.NumberInt(12))
	params.Set("Columns", raw.NumberInt(2))
	data := []byte{0, 5, 7, 2, 1, 1}

	out, err := applyPredictor(data, params)
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	if want := []byte{5, 7, 6, 8}; !bytes.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestFlateDecodeLimit(t *testing.T) {
	_, err := NewFlateDecoder(10).Decode(context.Background(), zlibBytes(t, bytes.Repeat([]byte("a"), 100)), nil)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected limit error, got %v", err)
	}
}

func TestRunLengthDecode(t *testing.T) {
	// literal run of 3 bytes (len=2), then repeat 'A' 2 times (len=255 => count=2), then EOD 128
	data := []byte{2, 'h', 'i', '!', 255, 'A', 128}
	dec := NewRunLengthDecoder()
	out, err := dec.Decode(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hi!AA" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestASCII85Decode(t *testing.T) {
	dec := NewASCII85Decoder()
	out, err := dec.Decode(context.Background(), []byte("<~87cURD_*#4DfTZ)+T~>"), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "Hello, World!" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestASCIIHexDecode(t *testing.T) {
	dec := NewASCIIHexDecoder()
	out, err := dec.Decode(context.Background(), []byte("68656c6c6f20776f726c64>"), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPipelineChainsFilters(t *testing.T) {
	st := raw.NewStream(raw.Dict(), []byte("G]IA-+EMXFARTE~>"))
	st.Dict.Set("Filter", raw.NewArray(raw.NameLiteral("ASCII85Decode")))

	out, err := NewDefaultPipeline(Limits{}).DecodeStream(context.Background(), st)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out) != "xref stream" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestPipelineUnknownFilter(t *testing.T) {
	_, err := NewDefaultPipeline(Limits{}).Decode(context.Background(), []byte("x"), []string{"JBIG2Decode"}, nil)
	if !errors.Is(err, ErrUnsupportedFilter) {
		t.Fatalf("expected unsupported filter, got %v", err)
	}
}
