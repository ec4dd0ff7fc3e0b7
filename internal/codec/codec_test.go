package codec

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"io"
	"testing"
)

func TestNewReaderStored(t *testing.T) {
	want := []byte("stored bytes, unchanged")
	r, err := NewReader(MethodStored, bytes.NewReader(want), int64(len(want)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNewReaderDeflate(t *testing.T) {
	want := []byte("a reasonably compressible payload, repeated repeated repeated repeated")

	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(want); err != nil {
		t.Fatal(err)
	}
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(MethodDeflate, &compressed, int64(len(want)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNewReaderUnsupported(t *testing.T) {
	_, err := NewReader(99, bytes.NewReader(nil), 0)
	if err == nil {
		t.Fatal("expected error for unsupported method")
	}
}

func TestNewLZMAReaderStripsMiniHeader(t *testing.T) {
	// Build a fake zip-style LZMA stream: 4-byte mini-header (version +
	// props size) + 5 properties bytes + the 5-byte range-coder
	// initialization that lzma.NewReader consumes before returning, and
	// no further compressed payload.
	var buf bytes.Buffer
	miniHeader := make([]byte, 4)
	binary.LittleEndian.PutUint16(miniHeader[2:], 5)
	buf.Write(miniHeader)
	buf.Write([]byte{0x5D, 0x00, 0x00, 0x10, 0x00}) // plausible lc/lp/pb + dict size bytes
	buf.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x00}) // range-coder init: zero byte + 32-bit code

	_, err := newLZMAReader(&buf, 0)
	// Decoding may still fail on the first Read; what this asserts is
	// that mini-header/properties parsing and reader construction do not
	// error.
	if err != nil {
		t.Fatalf("newLZMAReader: %v", err)
	}
}

func TestNewLZMAReaderShortProperties(t *testing.T) {
	miniHeader := make([]byte, 4)
	binary.LittleEndian.PutUint16(miniHeader[2:], 2) // too short, must be >= 5
	buf := bytes.NewBuffer(miniHeader)
	buf.Write([]byte{0, 0})

	_, err := newLZMAReader(buf, 0)
	if err == nil {
		t.Fatal("expected error for short lzma properties field")
	}
}
