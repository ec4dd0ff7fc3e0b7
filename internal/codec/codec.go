// Package codec implements the compression-method registry consulted by
// the extraction pipeline: one decompressing io.Reader constructor per
// ZIP compression method.
//
// STORED and DEFLATE follow the method switch in
// github.com/elliotnunn/BeHierarchic's internal/zip.New2 verbatim
// (compress/flate, raw, no zlib header). BZIP2 follows the same file's
// compress/bzip2 usage. LZMA (method 14) has no precedent in the teacher,
// which does not support it; the 13-byte classic-header reconstruction
// technique is grounded on the chd package's lzmaCodec.Decompress
// (other_examples), adapted to use the zip entry's own stored properties
// byte rather than a computed one, since unlike CHD a zip LZMA entry
// carries real properties in its own mini-header.
package codec

import (
	"compress/bzip2"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// Compression methods, per PKZIP APPNOTE section 4.4.5.
const (
	MethodStored  = 0
	MethodDeflate = 8
	MethodBzip2   = 12
	MethodLZMA    = 14
)

// ErrUnsupported means the method has no decoder; the pipeline falls
// back to emitting the raw compressed bytes and disabling CRC
// verification for that member, per the engine's Codec error kind.
var ErrUnsupported = errors.New("codec: unsupported compression method")

// unknownSize is the LZMA classic-header sentinel for "uncompressed size
// not recorded", an all-ones 8-byte field.
const unknownSize = 0xFFFFFFFFFFFFFFFF

// NewReader wraps r (the raw, already range-limited compressed stream
// for one member) in a decompressing reader for method. uncompressedSize
// is used only by the LZMA codec, which must tell the library how much
// output to expect since the classic header field (not the zip entry's
// own field) is what the library reads; pass -1 when unknown.
func NewReader(method uint16, r io.Reader, uncompressedSize int64) (io.Reader, error) {
	switch method {
	case MethodStored:
		return r, nil
	case MethodDeflate:
		return flate.NewReader(r), nil
	case MethodBzip2:
		return bzip2.NewReader(r), nil
	case MethodLZMA:
		return newLZMAReader(r, uncompressedSize)
	default:
		return nil, fmt.Errorf("%w: method %d", ErrUnsupported, method)
	}
}

// newLZMAReader strips the zip entry's own 4-byte mini-header (2-byte
// LZMA SDK version, 2-byte properties size) from the front of r, reads
// the properties bytes that follow, and synthesizes a classic 13-byte
// .lzma stream header (5 properties bytes + 8-byte little-endian
// uncompressed size) that github.com/ulikunitz/xz/lzma expects, since
// the zip format's own mini-header is not the format that library reads.
func newLZMAReader(r io.Reader, uncompressedSize int64) (io.Reader, error) {
	miniHeader := make([]byte, 4)
	if _, err := io.ReadFull(r, miniHeader); err != nil {
		return nil, fmt.Errorf("codec: reading lzma mini-header: %w", err)
	}
	propsSize := int(binary.LittleEndian.Uint16(miniHeader[2:]))
	if propsSize < 5 {
		return nil, fmt.Errorf("codec: lzma properties field too short: %d bytes", propsSize)
	}

	props := make([]byte, propsSize)
	if _, err := io.ReadFull(r, props); err != nil {
		return nil, fmt.Errorf("codec: reading lzma properties: %w", err)
	}

	header := make([]byte, 13)
	copy(header[0:5], props[0:5])
	if uncompressedSize >= 0 {
		binary.LittleEndian.PutUint64(header[5:13], uint64(uncompressedSize))
	} else {
		binary.LittleEndian.PutUint64(header[5:13], unknownSize)
	}

	stream := io.MultiReader(byteReader(header), r)
	lr, err := lzma.NewReader(stream)
	if err != nil {
		return nil, fmt.Errorf("codec: initializing lzma reader: %w", err)
	}
	return lr, nil
}

func byteReader(b []byte) io.Reader {
	return &sliceReader{b: b}
}

// sliceReader is a trivial io.Reader over an in-memory slice, used only
// to prepend the synthesized .lzma header onto the remaining stream
// without copying the stream itself into memory.
type sliceReader struct {
	b []byte
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if len(s.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.b)
	s.b = s.b[n:]
	return n, nil
}
