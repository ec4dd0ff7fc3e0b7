package zipcat

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"testing"
)

// memSource is an io.ReaderAt over an in-memory buffer, standing in for
// the range client in tests.
type memSource struct{ b []byte }

func (m memSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.b)) {
		return 0, nil
	}
	n := copy(p, m.b[off:])
	return n, nil
}

func buildBasicZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	f, err := w.CreateHeader(&zip.FileHeader{Name: "hello.txt", Method: zip.Deflate})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("hello, world\n")); err != nil {
		t.Fatal(err)
	}

	f2, err := w.CreateHeader(&zip.FileHeader{Name: "stored.bin", Method: zip.Store})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f2.Write([]byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatal(err)
	}

	if _, err := w.Create("adir/"); err != nil {
		t.Fatal(err)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestParseBasic(t *testing.T) {
	data := buildBasicZip(t)
	members, err := Parse(memSource{data}, int64(len(data)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(members) != 2 {
		t.Fatalf("expected 2 members (directory filtered out), got %d: %+v", len(members), members)
	}
	if members[0].Name != "hello.txt" || members[0].Method != zip.Deflate {
		t.Errorf("unexpected first member: %+v", members[0])
	}
	if members[1].Name != "stored.bin" || members[1].Method != zip.Store {
		t.Errorf("unexpected second member: %+v", members[1])
	}
	if members[1].UncompressedSize != 5 {
		t.Errorf("expected stored.bin size 5, got %d", members[1].UncompressedSize)
	}
}

func TestParseDeterministic(t *testing.T) {
	data := buildBasicZip(t)
	src := memSource{data}

	a, err := Parse(src, int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse(src, int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("non-deterministic catalog length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("non-deterministic member at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestParseNoEOCD(t *testing.T) {
	data := []byte("not a zip file at all, just plain bytes padded out long enough")
	_, err := Parse(memSource{data}, int64(len(data)))
	if err == nil {
		t.Fatal("expected error for archive with no EOCD")
	}
}

// buildZip64 hand-assembles a minimal single-entry archive using the
// ZIP64 end-of-central-directory record and locator, which
// archive/zip's writer does not exercise for small archives.
func buildZip64(t *testing.T) []byte {
	t.Helper()

	name := []byte("zip64.bin")
	content := []byte("zip64 content bytes")

	var buf bytes.Buffer

	localOffset := int64(buf.Len())
	lh := make([]byte, 30)
	binary.LittleEndian.PutUint32(lh[0:], sigLocalFileHeader)
	binary.LittleEndian.PutUint16(lh[8:], 0) // stored
	binary.LittleEndian.PutUint32(lh[18:], uint32(len(content)))
	binary.LittleEndian.PutUint32(lh[22:], uint32(len(content)))
	binary.LittleEndian.PutUint16(lh[26:], uint16(len(name)))
	buf.Write(lh)
	buf.Write(name)
	buf.Write(content)

	cdOffset := int64(buf.Len())

	extra := make([]byte, 4+24)
	binary.LittleEndian.PutUint16(extra[0:], zip64ExtraID)
	binary.LittleEndian.PutUint16(extra[2:], 24)
	binary.LittleEndian.PutUint64(extra[4:], uint64(len(content)))  // uncompressed
	binary.LittleEndian.PutUint64(extra[12:], uint64(len(content))) // compressed
	binary.LittleEndian.PutUint64(extra[20:], uint64(localOffset))  // local header offset

	ch := make([]byte, 46)
	binary.LittleEndian.PutUint32(ch[0:], sigCentralDirectory)
	binary.LittleEndian.PutUint16(ch[10:], 0) // stored
	binary.LittleEndian.PutUint32(ch[20:], sentinel32) // compressed size -> zip64
	binary.LittleEndian.PutUint32(ch[24:], sentinel32) // uncompressed size -> zip64
	binary.LittleEndian.PutUint16(ch[28:], uint16(len(name)))
	binary.LittleEndian.PutUint16(ch[30:], uint16(len(extra)))
	binary.LittleEndian.PutUint32(ch[42:], sentinel32) // local header offset -> zip64
	buf.Write(ch)
	buf.Write(name)
	buf.Write(extra)

	cdSize := int64(buf.Len()) - cdOffset
	zip64EOCDOffset := int64(buf.Len())

	zeocd := make([]byte, 56)
	binary.LittleEndian.PutUint32(zeocd[0:], sigZIP64EOCD)
	binary.LittleEndian.PutUint64(zeocd[4:], 44) // size of this record minus 12
	binary.LittleEndian.PutUint64(zeocd[32:], 1) // total entries
	binary.LittleEndian.PutUint64(zeocd[40:], uint64(cdSize))
	binary.LittleEndian.PutUint64(zeocd[48:], uint64(cdOffset))
	buf.Write(zeocd)

	locator := make([]byte, 20)
	binary.LittleEndian.PutUint32(locator[0:], sigZIP64EOCDLocator)
	binary.LittleEndian.PutUint64(locator[8:], uint64(zip64EOCDOffset))
	binary.LittleEndian.PutUint32(locator[16:], 1)
	buf.Write(locator)

	eocd := make([]byte, 22)
	binary.LittleEndian.PutUint32(eocd[0:], sigEOCD)
	binary.LittleEndian.PutUint16(eocd[10:], sentinel16)
	binary.LittleEndian.PutUint32(eocd[12:], sentinel32)
	binary.LittleEndian.PutUint32(eocd[16:], sentinel32)
	buf.Write(eocd)

	return buf.Bytes()
}

func TestParseZIP64(t *testing.T) {
	data := buildZip64(t)
	members, err := Parse(memSource{data}, int64(len(data)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}
	m := members[0]
	if m.Name != "zip64.bin" {
		t.Errorf("unexpected name: %q", m.Name)
	}
	if m.UncompressedSize != 19 || m.CompressedSize != 19 {
		t.Errorf("expected sizes 19/19 resolved from zip64 extra, got %d/%d", m.UncompressedSize, m.CompressedSize)
	}
	if m.LocalHeaderOffset != 0 {
		t.Errorf("expected local header offset 0, got %d", m.LocalHeaderOffset)
	}
}

func TestUnnamedFileFallback(t *testing.T) {
	// A name that decodes to empty after replacement handling falls back
	// to unnamed_file_<encounter index>, 1-based over all entries.
	name := decodeUTF8Replace([]byte(""))
	if name != "" {
		t.Fatalf("expected empty decode for empty input, got %q", name)
	}

	// A central-directory record with a zero-length filename is cataloged
	// under the fallback name.
	rec := make([]byte, centralHeaderFixed)
	binary.LittleEndian.PutUint32(rec[0:], sigCentralDirectory)
	binary.LittleEndian.PutUint32(rec[20:], 1) // compressed size
	binary.LittleEndian.PutUint32(rec[24:], 1) // uncompressed size
	members, err := walkCentralDirectory(rec)
	if err != nil {
		t.Fatalf("walkCentralDirectory: %v", err)
	}
	if len(members) != 1 || members[0].Name != "unnamed_file_1" {
		t.Fatalf("expected one member named unnamed_file_1, got %+v", members)
	}
}
