package session_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/exherbo-go/cave"
	"github.com/exherbo-go/cave/internal/testuniverse"
	"github.com/exherbo-go/cave/session"
)

type noopBackend struct{}

func (noopBackend) RunPhase(id *cave.PackageId, phases string, env cave.PhaseEnv) (int, error) {
	return 0, nil
}

type noopMerger struct{ merged, unmerged []string }

func (m *noopMerger) Merge(imageDir, rootDir string, id *cave.PackageId, replacing []*cave.PackageId) error {
	m.merged = append(m.merged, id.String())
	return nil
}

func (m *noopMerger) Unmerge(rootDir string, id *cave.PackageId) error {
	m.unmerged = append(m.unmerged, id.String())
	return nil
}

func TestSessionResolveAndExecute(t *testing.T) {
	u := testuniverse.New()
	u.Add(testuniverse.ID("cat", "two", "1", "", "repo", false, nil))
	u.Add(testuniverse.ID("cat", "one", "1", "", "repo", false, map[string]string{"DEPEND": "cat/two"}))

	spec, err := cave.ParseSpec("cat/one")
	if err != nil {
		t.Fatal(err)
	}

	s, err := session.New(session.Options{
		Universe: u,
		Targets:  []cave.Target{{Spec: spec}},
		VDBRoot:  t.TempDir(),
		MemoDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if len(s.Lists.Taken) == 0 {
		t.Fatal("expected a non-empty plan")
	}

	// The memo cache is open from New onward, so a merger built now can
	// hash through it.
	if s.Hashes() == nil {
		t.Fatal("expected an open memo cache when MemoDir is set")
	}
	f := filepath.Join(t.TempDir(), "probe.txt")
	if err := os.WriteFile(f, []byte("probe"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Hashes().MD5(f); err != nil {
		t.Fatalf("session memo cache MD5: %v", err)
	}

	merger := &noopMerger{}
	if err := s.Execute(noopBackend{}, merger, cave.PhaseEnv{Root: t.TempDir(), TmpDir: t.TempDir()}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(merger.merged) != 2 {
		t.Fatalf("expected 2 merges (cat/one and cat/two), got %v", merger.merged)
	}

	var buf bytes.Buffer
	if err := s.WritePlan(&buf); err != nil {
		t.Fatalf("WritePlan: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty serialised plan")
	}
}

func TestVDBLockReleasedBetweenSessions(t *testing.T) {
	u := testuniverse.New()
	u.Add(testuniverse.ID("cat", "one", "1", "", "repo", false, nil))
	spec, err := cave.ParseSpec("cat/one")
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()

	s1, err := session.New(session.Options{Universe: u, Targets: []cave.Target{{Spec: spec}}, VDBRoot: root})
	if err != nil {
		t.Fatal(err)
	}
	defer s1.Close()
	s2, err := session.New(session.Options{Universe: u, Targets: []cave.Target{{Spec: spec}}, VDBRoot: root})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	done := make(chan error, 1)
	go func() {
		done <- s1.Execute(noopBackend{}, &noopMerger{}, cave.PhaseEnv{Root: t.TempDir(), TmpDir: t.TempDir()})
	}()
	if err := <-done; err != nil {
		t.Fatalf("first session should acquire the lock cleanly: %v", err)
	}

	// Once s1.Execute has returned, the lock is released, so a second,
	// later Execute over the same root must succeed too.
	if err := s2.Execute(noopBackend{}, &noopMerger{}, cave.PhaseEnv{Root: t.TempDir(), TmpDir: t.TempDir()}); err != nil {
		t.Fatalf("second session should acquire the released lock: %v", err)
	}
}
