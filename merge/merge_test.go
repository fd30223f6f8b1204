package merge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/exherbo-go/cave"
)

// fakeVDB is an in-memory VDB sufficient to exercise Merger.Merge and
// Merger.Unmerge without a real package database.
type fakeVDB struct {
	contents map[string][]Entry
	owners   map[string]*cave.PackageId // relative live path -> owning id
}

func newFakeVDB() *fakeVDB {
	return &fakeVDB{contents: map[string][]Entry{}, owners: map[string]*cave.PackageId{}}
}

func (v *fakeVDB) ReadContents(id *cave.PackageId) ([]Entry, error) {
	return v.contents[id.Canonical()], nil
}

func (v *fakeVDB) WriteContents(id *cave.PackageId, entries []Entry) error {
	v.contents[id.Canonical()] = entries
	for _, e := range entries {
		v.owners[e.Path] = id
	}
	return nil
}

func (v *fakeVDB) RemoveContents(id *cave.PackageId) error {
	for _, e := range v.contents[id.Canonical()] {
		if owner, ok := v.owners[e.Path]; ok && owner.Canonical() == id.Canonical() {
			delete(v.owners, e.Path)
		}
	}
	delete(v.contents, id.Canonical())
	return nil
}

func (v *fakeVDB) OwnerOf(relPath string) (*cave.PackageId, bool) {
	owner, ok := v.owners["/"+filepath.ToSlash(relPath)]
	if !ok {
		return nil, false
	}
	return owner, true
}

func mustPkgID(t *testing.T, catPkg, ver string) *cave.PackageId {
	t.Helper()
	slash := strings.IndexByte(catPkg, '/')
	if slash < 0 {
		t.Fatalf("catPkg %q must be cat/pkg", catPkg)
	}
	qn := cave.QualifiedPackageName{Category: catPkg[:slash], Package: catPkg[slash+1:]}
	v, err := cave.ParseVersion(ver)
	if err != nil {
		t.Fatal(err)
	}
	return &cave.PackageId{Name: qn, Ver: v, Repository: "repo"}
}

// TestMergerRoundTrip merges a tree containing a directory, a regular
// file, and a symlink, checks the file and symlink are in place, then
// unmerges and checks the file and the package's CONTENTS record are gone.
func TestMergerRoundTrip(t *testing.T) {
	image := t.TempDir()
	root := t.TempDir()

	if err := os.MkdirAll(filepath.Join(image, "usr", "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(image, "usr", "bin", "hello"), []byte("echo hi\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("hello", filepath.Join(image, "usr", "bin", "hello-link")); err != nil {
		t.Fatal(err)
	}

	vdb := newFakeVDB()
	m := New(vdb, Options{})
	id := mustPkgID(t, "cat/pkg", "1")

	if err := m.Merge(image, root, id, nil); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "usr", "bin", "hello")); err != nil {
		t.Fatalf("expected hello to exist after merge: %v", err)
	}
	link, err := os.Readlink(filepath.Join(root, "usr", "bin", "hello-link"))
	if err != nil || link != "hello" {
		t.Fatalf("expected hello-link -> hello, got %q, err=%v", link, err)
	}
	if len(vdb.contents[id.Canonical()]) == 0 {
		t.Fatalf("expected CONTENTS to be recorded for %s", id)
	}

	if err := m.Unmerge(root, id); err != nil {
		t.Fatalf("Unmerge: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "usr", "bin", "hello")); !os.IsNotExist(err) {
		t.Fatalf("expected hello to be removed after unmerge, stat err=%v", err)
	}
	if _, ok := vdb.contents[id.Canonical()]; ok {
		t.Fatalf("expected CONTENTS record to be gone after unmerge")
	}
}

// TestMergerUsesSuppliedHasher checks that a configured Options.MD5
// supplies the journal digests instead of direct hashing.
func TestMergerUsesSuppliedHasher(t *testing.T) {
	image := t.TempDir()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(image, "data.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	var hashed []string
	vdb := newFakeVDB()
	m := New(vdb, Options{MD5: func(path string) (string, error) {
		hashed = append(hashed, path)
		return "cafebabecafebabecafebabecafebabe", nil
	}})
	id := mustPkgID(t, "cat/pkg", "1")

	if err := m.Merge(image, root, id, nil); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(hashed) != 1 || hashed[0] != filepath.Join(image, "data.txt") {
		t.Fatalf("expected the supplied hasher to see data.txt once, got %v", hashed)
	}
	entries := vdb.contents[id.Canonical()]
	if len(entries) != 1 || entries[0].MD5 != "cafebabecafebabecafebabecafebabe" {
		t.Fatalf("expected the supplied digest in CONTENTS, got %#v", entries)
	}
}

// TestMergerReplaceRemovesStalePaths checks that a path
// present only in the replaced package's old CONTENTS, not re-created by
// the new merge, is removed from the live root.
func TestMergerReplaceRemovesStalePaths(t *testing.T) {
	root := t.TempDir()
	vdb := newFakeVDB()
	m := New(vdb, Options{})

	oldID := mustPkgID(t, "cat/pkg", "1")
	newID := mustPkgID(t, "cat/pkg", "2")

	staleFile := filepath.Join(root, "usr", "share", "old-doc.txt")
	if err := os.MkdirAll(filepath.Dir(staleFile), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(staleFile, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	vdb.contents[oldID.Canonical()] = []Entry{
		{Kind: EntryDir, Path: "/usr/share"},
		{Kind: EntryObj, Path: "/usr/share/old-doc.txt", MD5: "deadbeef", Mtime: 1},
	}
	vdb.owners["/usr/share/old-doc.txt"] = oldID

	image := t.TempDir()
	if err := os.MkdirAll(filepath.Join(image, "usr", "share"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(image, "usr", "share", "new-doc.txt"), []byte("fresh"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.Merge(image, root, newID, []*cave.PackageId{oldID}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if _, err := os.Stat(staleFile); !os.IsNotExist(err) {
		t.Fatalf("expected stale path to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "usr", "share", "new-doc.txt")); err != nil {
		t.Fatalf("expected new-doc.txt to exist: %v", err)
	}
	if _, ok := vdb.contents[oldID.Canonical()]; ok {
		t.Fatalf("expected old CONTENTS record to be removed after replace")
	}
}
