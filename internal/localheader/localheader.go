// Package localheader resolves one member's local file header: the only
// place a ZIP archive states the true byte offset its payload starts at,
// since the central directory's local_header_offset merely points at the
// header, not the data, and central directory sizes can be stale or
// sentineled pending a ZIP64 extra field of their own.
//
// Grounded on the offset-skipping technique of localHeaderReader in
// github.com/elliotnunn/BeHierarchic's internal/zip package, generalized
// to additionally re-derive sizes from the local header's own ZIP64 extra
// field rather than trusting the central directory unconditionally.
package localheader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	sigLocalFileHeader = 0x04034b50
	localFixedSize     = 30
	zip64ExtraID       = 0x0001
	sentinel32         = 0xFFFFFFFF
)

// ErrBadSignature means the bytes at the claimed local header offset do
// not begin with PK\x03\x04 — a Format error per the engine's taxonomy.
var ErrBadSignature = errors.New("localheader: missing local file header signature")

// Source is the random-access byte source the probe reads through.
type Source interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Result is the resolved, authoritative geometry of one member's payload.
// It deliberately excludes an uncompressed size: the local header can lie
// about it with nothing to cross-check against (unlike compressed size,
// which the engine always reconciles against the central directory), so
// callers keep using the central-directory-resolved uncompressed size.
type Result struct {
	PayloadStart   int64
	CompressedSize int64
	Method         uint16
}

// Probe reads the 30-byte fixed local file header at offset plus its
// variable filename/extra fields, and returns the payload's true start
// offset and finalized compressed size. centralCompressed seeds the
// result; the local header's own compressed-size field (and its ZIP64
// extra field, if sentineled) only ever grows it, never shrinks it, since
// a malformed local header with an implausibly small size must not
// truncate the payload the central directory already promised.
// centralUncompressed is accepted but not used: the ZIP64 extra field
// (which lists uncompressed before compressed) is read according to the
// local header's own uncompressed-size field, and no uncompressed size
// appears in the returned Result.
func Probe(src Source, offset int64, centralMethod uint16, centralCompressed, centralUncompressed int64) (Result, error) {
	fixed := make([]byte, localFixedSize)
	if _, err := readFull(src, fixed, offset); err != nil {
		return Result{}, fmt.Errorf("localheader: reading fixed header: %w", err)
	}
	if binary.LittleEndian.Uint32(fixed[0:]) != sigLocalFileHeader {
		return Result{}, ErrBadSignature
	}

	method := binary.LittleEndian.Uint16(fixed[8:])
	nameLen := int(binary.LittleEndian.Uint16(fixed[26:]))
	extraLen := int(binary.LittleEndian.Uint16(fixed[28:]))

	localCompressed := int64(binary.LittleEndian.Uint32(fixed[18:]))
	localUncompressed := int64(binary.LittleEndian.Uint32(fixed[22:]))

	var extra []byte
	if extraLen > 0 {
		extra = make([]byte, extraLen)
		if _, err := readFull(src, extra, offset+localFixedSize+int64(nameLen)); err != nil {
			return Result{}, fmt.Errorf("localheader: reading extra field: %w", err)
		}
	}

	if uint32(localCompressed) == sentinel32 || uint32(localUncompressed) == sentinel32 {
		localUncompressed, localCompressed = applyZIP64Extra(extra, localUncompressed, localCompressed)
	}

	compressed := centralCompressed
	if uint32(localCompressed) != 0 && localCompressed > compressed {
		compressed = localCompressed
	}

	payloadStart := offset + localFixedSize + int64(nameLen) + int64(extraLen)

	m := method
	if m == 0 && centralMethod != 0 {
		m = centralMethod
	}

	return Result{
		PayloadStart:   payloadStart,
		CompressedSize: compressed,
		Method:         m,
	}, nil
}

// applyZIP64Extra consumes the local header's ZIP64 extra field, which
// lists only uncompressed size then compressed size (it has no local
// header offset field, since it would be self-referential).
func applyZIP64Extra(extra []byte, uncompressedSize, compressedSize int64) (u, c int64) {
	u, c = uncompressedSize, compressedSize

	fields, ok := findExtraField(extra, zip64ExtraID)
	if !ok {
		return
	}

	if uint32(u) == sentinel32 && len(fields) >= 8 {
		u = int64(binary.LittleEndian.Uint64(fields))
		fields = fields[8:]
	}
	if uint32(c) == sentinel32 && len(fields) >= 8 {
		c = int64(binary.LittleEndian.Uint64(fields))
	}
	return
}

func findExtraField(extra []byte, headerID uint16) ([]byte, bool) {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra[0:])
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		if len(extra) < 4+size {
			return nil, false
		}
		if id == headerID {
			return extra[4 : 4+size], true
		}
		extra = extra[4+size:]
	}
	return nil, false
}

func readFull(src Source, p []byte, off int64) (int, error) {
	n, err := src.ReadAt(p, off)
	if n == len(p) {
		return n, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
