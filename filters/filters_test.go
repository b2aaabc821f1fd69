package filters

import (
	"bytes"
	"compress/flate"
	"context"
	"errors"
	"testing"

	"github.com/wudi/pdfredact/ir/raw"
)

func TestFlateDecode(t *testing.T) {
	enc, err := EncodeFlate([]byte("hello world"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := NewFlateDecoder(Limits{}).Decode(context.Background(), enc, nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeRawDeflate(t *testing.T) {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.BestSpeed)
	w.Write([]byte("no zlib header"))
	w.Close()
	out, err := NewFlateDecoder(Limits{}).Decode(context.Background(), buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "no zlib header" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeWithPredictor(t *testing.T) {
	// PNG predictor row: filter byte 1 (Sub), then row bytes.
	comp, _ := EncodeFlate([]byte{1, 10, 12, 20, 2, 1, 1, 1})

	params := raw.Dict()
	params.Set("Predictor", raw.Int(12))
	params.Set("Colors", raw.Int(1))
	params.Set("BitsPerComponent", raw.Int(8))
	params.Set("Columns", raw.Int(3))

	out, err := NewFlateDecoder(Limits{}).Decode(context.Background(), comp, params)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	want := []byte{10, 22, 42, 11, 23, 43}
	if !bytes.Equal(out, want) {
		t.Fatalf("predictor output mismatch: got %v want %v", out, want)
	}
}

func TestFlateSizeLimit(t *testing.T) {
	comp, _ := EncodeFlate(bytes.Repeat([]byte("a"), 4096))
	if _, err := NewFlateDecoder(Limits{MaxDecompressedSize: 100}).Decode(context.Background(), comp, nil); !errors.Is(err, ErrSizeLimit) {
		t.Fatalf("expected size limit error, got %v", err)
	}
}

func TestASCIIDecoders(t *testing.T) {
	cases := []struct {
		dec  Decoder
		in   string
		want string
	}{
		{NewASCIIHexDecoder(), "48 65 6C 6C 6F>", "Hello"},
		{NewASCIIHexDecoder(), "414>", "A@"},
		{NewASCII85Decoder(), "<~87cURD]j7BEbo7~>", "Hello world"},
		{NewRunLengthDecoder(), "\x02abc\xfdz\x80", "abczzzz"},
	}
	for _, tc := range cases {
		out, err := tc.dec.Decode(context.Background(), []byte(tc.in), nil)
		if err != nil {
			t.Fatalf("%s: %v", tc.dec.Name(), err)
		}
		if string(out) != tc.want {
			t.Errorf("%s(%q) = %q, want %q", tc.dec.Name(), tc.in, out, tc.want)
		}
	}
}

func TestPipelineChainAndUnsupported(t *testing.T) {
	p := Standard(Limits{})
	inner, _ := EncodeFlate([]byte("chain"))
	hexed := []byte{}
	for _, b := range inner {
		hexed = append(hexed, "0123456789ABCDEF"[b>>4], "0123456789ABCDEF"[b&15])
	}
	hexed = append(hexed, '>')
	out, err := p.Decode(context.Background(), hexed, []string{"AHx", "FlateDecode"}, nil)
	if err != nil || string(out) != "chain" {
		t.Fatalf("chain decode = %q, %v", out, err)
	}

	_, err = p.Decode(context.Background(), []byte("x"), []string{"JBIG2Decode"}, nil)
	var uf *UnsupportedFilterError
	if !errors.As(err, &uf) || uf.Name != "JBIG2Decode" {
		t.Fatalf("expected UnsupportedFilterError, got %v", err)
	}
}

func TestDecodeStreamUsesDictionary(t *testing.T) {
	data, _ := EncodeFlate([]byte("BT ET"))
	d := raw.Dict()
	d.Set("Filter", raw.NewArray(raw.Name("FlateDecode")))
	out, err := Standard(Limits{}).DecodeStream(context.Background(), nil, raw.NewStream(d, data))
	if err != nil || string(out) != "BT ET" {
		t.Fatalf("DecodeStream = %q, %v", out, err)
	}
}
