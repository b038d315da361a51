package symbolmap

import "testing"

func TestParseOsoPath_ArchiveMemberSuffix(t *testing.T) {
	file, member := ParseOsoPath("/tmp/foo.a(bar.o)")
	if file != "/tmp/foo.a" || member != "bar.o" {
		t.Fatalf("got file=%q member=%q", file, member)
	}
}

func TestParseOsoPath_PlainObject(t *testing.T) {
	file, member := ParseOsoPath("/tmp/bar.o")
	if file != "/tmp/bar.o" || member != "" {
		t.Fatalf("got file=%q member=%q", file, member)
	}
}

// Spec scenario 3: an object-map entry pointing at /tmp/foo.a(bar.o) for a
// given symbol becomes a MachoOsoArchive reference, never a MachoOsoObject.
func TestNewExternalFileAddressRef_ArchiveVsObject(t *testing.T) {
	ref := NewExternalFileAddressRef("/tmp/foo.a(bar.o)", "_foo", 0)
	if ref.Archive == nil || ref.Object != nil {
		t.Fatalf("expected an Archive ref, got %+v", ref)
	}
	if ref.Archive.ArchiveMember != "bar.o" || ref.Archive.SymbolName != "_foo" {
		t.Fatalf("unexpected archive ref: %+v", ref.Archive)
	}
	if ref.FileName != "/tmp/foo.a" {
		t.Fatalf("unexpected file name: %q", ref.FileName)
	}

	plain := NewExternalFileAddressRef("/tmp/bar.o", "_foo", 8)
	if plain.Object == nil || plain.Archive != nil {
		t.Fatalf("expected an Object ref, got %+v", plain)
	}
}

// buildArArchive assembles a minimal ar(1) archive with two plain-named
// members (no GNU extended name table, names short enough to fit the
// 16-byte header field).
func buildArArchive(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	buf := []byte("!<arch>\n")
	for name, body := range members {
		hdr := make([]byte, 60)
		copy(hdr, padRight(name+"/", 16))
		copy(hdr[16:], padRight("0", 12))           // mtime
		copy(hdr[28:], padRight("0", 6))             // uid
		copy(hdr[34:], padRight("0", 6))             // gid
		copy(hdr[40:], padRight("100644", 8))        // mode
		copy(hdr[48:], padRight(itoa(len(body)), 10)) // size
		hdr[58] = '`'
		hdr[59] = '\n'
		buf = append(buf, hdr...)
		buf = append(buf, body...)
		if len(body)%2 == 1 {
			buf = append(buf, '\n')
		}
	}
	return buf
}

func padRight(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestParseArchive_FindsMembersByName(t *testing.T) {
	archive := buildArArchive(t, map[string][]byte{
		"bar.o": []byte("bar-object-bytes"),
		"baz.o": []byte("baz-object-bytes-longer"),
	})

	members, err := parseArchive(archive)
	if err != nil {
		t.Fatalf("parseArchive: %v", err)
	}

	barRng, ok := members["bar.o"]
	if !ok {
		t.Fatalf("expected bar.o in %v", members)
	}
	if got := string(archive[barRng.Offset : barRng.Offset+barRng.Size]); got != "bar-object-bytes" {
		t.Fatalf("bar.o range mismatch: %q", got)
	}

	bazRng, ok := members["baz.o"]
	if !ok {
		t.Fatalf("expected baz.o in %v", members)
	}
	if got := string(archive[bazRng.Offset : bazRng.Offset+bazRng.Size]); got != "baz-object-bytes-longer" {
		t.Fatalf("baz.o range mismatch: %q", got)
	}
}

func TestParseArchive_RejectsNonArchive(t *testing.T) {
	if _, err := parseArchive([]byte("not an archive at all")); err == nil {
		t.Fatal("expected an error for non-archive data")
	}
}
