package merge

import (
	"bytes"
	"testing"

	"github.com/exherbo-go/cave/internal/difftest"
)

// TestContentsRoundTrip checks that parsing a CONTENTS stream and
// re-serialising it reproduces the input byte for byte,
// even across paths with internal (including consecutive) spaces and
// symlinks whose targets themselves contain " -> ".
func TestContentsRoundTrip(t *testing.T) {
	input := "dir /usr/bin\n" +
		"obj /usr/bin/foo bar 1a79a4d60de6718e8e5b326e338ae533 1700000000\n" +
		"obj /usr/share/a  file with  spaces.txt 9e107d9d372bb6826bd81d3542a419d6 1700000001\n" +
		"sym /usr/lib/libfoo.so -> libfoo.so -> really 1700000002\n" +
		"fif /run/daemon.fifo\n" +
		"dev /dev/custom0\n" +
		"misc /etc/.keep\n"

	entries, err := ParseContents(bytes.NewBufferString(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 7 {
		t.Fatalf("expected 7 entries, got %d", len(entries))
	}

	if entries[1].Path != "/usr/bin/foo bar" || entries[1].MD5 != "1a79a4d60de6718e8e5b326e338ae533" || entries[1].Mtime != 1700000000 {
		t.Errorf("entry 1 parsed wrong: %#v", entries[1])
	}
	if entries[2].Path != "/usr/share/a  file with  spaces.txt" {
		t.Errorf("entry 2 path parsed wrong: %q", entries[2].Path)
	}
	if entries[3].Target != "libfoo.so -> really" {
		t.Errorf("entry 3 (sym) target parsed wrong: %q", entries[3].Target)
	}

	var out bytes.Buffer
	if err := WriteContents(&out, entries); err != nil {
		t.Fatal(err)
	}
	if d, equal := difftest.Diff(input, out.String()); !equal {
		t.Fatalf("round trip mismatch:\n%s", d)
	}
}

func TestContentsMalformedLinePreservedVerbatim(t *testing.T) {
	input := "dir /usr/bin\n" +
		"garbage-with-no-space-at-all\n" +
		"obj /usr/bin/foo bar md5sum 1700000000\n"
	entries, err := ParseContents(bytes.NewBufferString(input))
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := WriteContents(&out, entries); err != nil {
		t.Fatal(err)
	}
	if d, equal := difftest.Diff(input, out.String()); !equal {
		t.Fatalf("malformed-line round trip mismatch:\n%s", d)
	}
}
