package merge

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	shutil "github.com/termie/go-shutil"
	"github.com/pkg/errors"

	"github.com/exherbo-go/cave"
)

// VDB is the destination interface the merger calls back into: reading
// and writing a package's own CONTENTS record, and removing paths left
// over from a replaced package that the new merge did not re-create.
type VDB interface {
	ReadContents(id *cave.PackageId) ([]Entry, error)
	WriteContents(id *cave.PackageId, entries []Entry) error
	RemoveContents(id *cave.PackageId) error
	OwnerOf(relPath string) (id *cave.PackageId, owned bool)
}

// Options configures one Merger.
type Options struct {
	ConfigProtectGlobs []string
	FixMtimes          bool
	BuildStartTime     time.Time
	Force              bool // override foreign-file collisions instead of failing

	// MD5, if set, supplies file-content digests for the CONTENTS journal
	// (typically a session memo-cache's MD5 method); nil hashes directly.
	MD5 func(path string) (string, error)
}

// Merger runs the full staged-image install: check, journal, apply,
// mtime fixup, and replacing-uninstall. It satisfies the root package's Merger
// interface so the executor can call it without importing this package's
// filesystem dependencies into the resolver core.
type Merger struct {
	vdb  VDB
	opts Options
}

func New(vdb VDB, opts Options) *Merger {
	return &Merger{vdb: vdb, opts: opts}
}

// Merge runs the full apply pipeline for one package.
func (m *Merger) Merge(imageDir, rootDir string, id *cave.PackageId, replacing []*cave.PackageId) error {
	plan, err := Check(imageDir, rootDir, func(rel string) (string, bool) {
		owner, owned := m.vdb.OwnerOf(rel)
		if !owned || owner == nil {
			return "", false
		}
		for _, r := range replacing {
			if owner.Canonical() == r.Canonical() {
				return "", false // being replaced by this merge, not foreign
			}
		}
		return owner.Canonical(), true
	})
	if err != nil {
		return err
	}
	if len(plan.Collisions) > 0 && !m.opts.Force {
		names := make([]string, len(plan.Collisions))
		for i, c := range plan.Collisions {
			names[i] = c.Path + " (owned by " + c.OwnedBy + ")"
		}
		return errors.Errorf("collisions merging %s: %s", id, strings.Join(names, ", "))
	}

	entries, err := journalWith(imageDir, plan.Paths, m.opts.MD5)
	if err != nil {
		return err
	}

	if err := m.apply(imageDir, rootDir, plan.Paths); err != nil {
		return err
	}

	if m.opts.FixMtimes {
		if err := m.fixMtimes(rootDir, entries); err != nil {
			return err
		}
	}

	if err := m.vdb.WriteContents(id, entries); err != nil {
		return errors.Wrap(err, "writing CONTENTS")
	}

	for _, rem := range replacing {
		if err := m.finishReplace(rootDir, rem, entries); err != nil {
			return err
		}
	}
	return nil
}

// apply mutates the live root in the order Check already produced
// (walkImage sorts the paths lexically, so every directory precedes its
// own contents).
func (m *Merger) apply(imageDir, rootDir string, rel []string) error {
	for _, r := range rel {
		src := filepath.Join(imageDir, r)
		dst := filepath.Join(rootDir, r)
		info, err := os.Lstat(src)
		if err != nil {
			return errors.Wrapf(err, "stat %s", src)
		}

		switch {
		case info.IsDir():
			if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
				return errors.Wrapf(err, "creating directory %s", dst)
			}

		case info.Mode()&os.ModeSymlink != 0:
			if err := m.applySymlink(src, dst, rootDir); err != nil {
				return err
			}

		case info.Mode().IsRegular():
			if err := m.applyRegularFile(src, dst, "/"+filepath.ToSlash(r)); err != nil {
				return err
			}

		default:
			if err := mknodLike(src, dst, info); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyRegularFile implements the config-protect branch of step 3: a
// protected path whose existing content differs from the staged image is
// written alongside as a sibling "._cfg0000_name" rather than overwritten,
// otherwise it is renamed atomically over the destination. Placement over
// the live path is always a same-filesystem os.Rename so that the live
// path is never observed half written; the "._cfg0000_" sibling is copied
// into place directly.
func (m *Merger) applyRegularFile(src, dst, livePath string) error {
	if configProtected(livePath, m.opts.ConfigProtectGlobs) {
		if existing, err := os.Stat(dst); err == nil && !existing.IsDir() {
			differs, err := filesDiffer(src, dst)
			if err != nil {
				return err
			}
			if differs {
				protected := filepath.Join(filepath.Dir(dst), "._cfg0000_"+filepath.Base(dst))
				return copyInto(src, protected)
			}
		}
	}

	tmp := dst + ".cave-merge-tmp"
	if err := copyInto(src, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return errors.Wrapf(err, "renaming %s into place", dst)
	}
	return nil
}

func copyInto(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "creating parent of %s", dst)
	}
	if err := shutil.CopyFile(src, dst, false); err != nil {
		return errors.Wrapf(err, "copying %s to %s", src, dst)
	}
	return nil
}

func filesDiffer(a, b string) (bool, error) {
	ab, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	bb, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return string(ab) != string(bb), nil
}

// applySymlink rewrites absolute targets that cross rootDir's prefix
// before creating or replacing the live symlink.
func (m *Merger) applySymlink(src, dst, rootDir string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return errors.Wrapf(err, "reading symlink %s", src)
	}
	if filepath.IsAbs(target) && !strings.HasPrefix(target, rootDir) {
		target = filepath.Join(rootDir, target)
	}
	_ = os.Remove(dst)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "creating parent of %s", dst)
	}
	if err := os.Symlink(target, dst); err != nil {
		return errors.Wrapf(err, "creating symlink %s", dst)
	}
	return nil
}

// fixMtimes stamps every merged file with the build start time so later
// incremental tools see one consistent installation timestamp.
func (m *Merger) fixMtimes(rootDir string, entries []Entry) error {
	for _, e := range entries {
		if e.Kind != EntryObj {
			continue
		}
		path := filepath.Join(rootDir, strings.TrimPrefix(e.Path, "/"))
		if err := os.Chtimes(path, m.opts.BuildStartTime, m.opts.BuildStartTime); err != nil {
			return errors.Wrapf(err, "fixing mtime on %s", path)
		}
	}
	return nil
}

// finishReplace removes, from the replaced id's own CONTENTS, any path
// this merge did not re-create.
func (m *Merger) finishReplace(rootDir string, replaced *cave.PackageId, merged []Entry) error {
	prev, err := m.vdb.ReadContents(replaced)
	if err != nil {
		return errors.Wrapf(err, "reading previous CONTENTS for %s", replaced)
	}
	stale := diffUnmerged(prev, merged)
	for i := len(stale) - 1; i >= 0; i-- {
		e := stale[i]
		full := filepath.Join(rootDir, strings.TrimPrefix(e.Path, "/"))
		if e.Kind == EntryDir {
			_ = os.Remove(full) // best-effort; non-empty dirs are left for a later pass
			continue
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "removing stale path %s", full)
		}
	}
	return m.vdb.RemoveContents(replaced)
}

// Unmerge removes a package's entire CONTENTS and the VDB record itself
// (called directly, outside of a replacing-merge, by the executor's
// Uninstall job).
func (m *Merger) Unmerge(rootDir string, id *cave.PackageId) error {
	entries, err := m.vdb.ReadContents(id)
	if err != nil {
		return errors.Wrapf(err, "reading CONTENTS for %s", id)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		full := filepath.Join(rootDir, strings.TrimPrefix(e.Path, "/"))
		if e.Kind == EntryDir {
			_ = os.Remove(full)
			continue
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "removing %s", full)
		}
	}
	return m.vdb.RemoveContents(id)
}
