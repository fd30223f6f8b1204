package merge

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
)

// Collision is one check-phase conflict: an image path that already
// exists in the live root and is owned ("foreign") by a package other
// than the one currently merging.
type Collision struct {
	Path      string
	OwnedBy   string // empty if the file exists but is untracked by any package
	Directory bool
}

// Plan is the check phase's output: every image-relative path in
// lexical order, classified, plus any unresolved collisions.
type Plan struct {
	Paths      []string // relative to imageDir, lexically sorted, directories before their contents
	Collisions []Collision
}

// walkImage lists every entry under imageDir, sorted lexically by
// relative path (so a directory precedes its contents, though entries are
// not strictly depth-first when names hold bytes below '/'), using
// godirwalk for its lower-allocation directory
// reads relative to filepath.Walk. The walk runs once, before any
// apply-phase mutation.
func walkImage(imageDir string) ([]string, error) {
	var rel []string
	err := godirwalk.Walk(imageDir, &godirwalk.Options{
		Unsorted: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == imageDir {
				return nil
			}
			r, err := filepath.Rel(imageDir, path)
			if err != nil {
				return err
			}
			rel = append(rel, r)
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "walking image directory")
	}
	sort.Strings(rel)
	return rel, nil
}

// Check walks the image and classifies every
// entry as new, overwrite, or a collision with a foreign file, given the
// set of paths owned by packages other than the one being merged.
func Check(imageDir, rootDir string, ownedByOther func(relPath string) (owner string, owned bool)) (*Plan, error) {
	rel, err := walkImage(imageDir)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Paths: rel}
	for _, r := range rel {
		livePath := filepath.Join(rootDir, r)
		info, statErr := os.Lstat(livePath)
		if statErr != nil {
			continue // new entry, nothing to collide with
		}
		owner, owned := ownedByOther(r)
		if owned {
			plan.Collisions = append(plan.Collisions, Collision{
				Path:      r,
				OwnedBy:   owner,
				Directory: info.IsDir(),
			})
		}
	}
	return plan, nil
}

// Journal builds the CONTENTS entries for a completed image: one record
// per path, with an md5 digest for regular files.
func Journal(imageDir string, rel []string) ([]Entry, error) {
	return journalWith(imageDir, rel, nil)
}

// journalWith is Journal with a caller-supplied digest function; a nil
// md5fn hashes each file directly. The Merger threads its session
// memo-cache hasher through here so repeated merges of unchanged files
// skip re-reading them.
func journalWith(imageDir string, rel []string, md5fn func(path string) (string, error)) ([]Entry, error) {
	if md5fn == nil {
		md5fn = md5File
	}
	var out []Entry
	for _, r := range rel {
		full := filepath.Join(imageDir, r)
		info, err := os.Lstat(full)
		if err != nil {
			return nil, errors.Wrapf(err, "stat %s", full)
		}
		livePath := "/" + filepath.ToSlash(r)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return nil, errors.Wrapf(err, "readlink %s", full)
			}
			out = append(out, Entry{Kind: EntrySym, Path: livePath, Target: target, Mtime: info.ModTime().Unix()})

		case info.IsDir():
			out = append(out, Entry{Kind: EntryDir, Path: livePath})

		case info.Mode()&os.ModeNamedPipe != 0:
			out = append(out, Entry{Kind: EntryFifo, Path: livePath})

		case info.Mode()&os.ModeDevice != 0:
			out = append(out, Entry{Kind: EntryDev, Path: livePath})

		case info.Mode().IsRegular():
			sum, err := md5fn(full)
			if err != nil {
				return nil, err
			}
			out = append(out, Entry{Kind: EntryObj, Path: livePath, MD5: sum, Mtime: info.ModTime().Unix()})

		default:
			out = append(out, Entry{Kind: EntryMisc, Path: livePath})
		}
	}
	return out, nil
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s for hashing", path)
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "hashing %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// diffUnmerged returns every path recorded in previous that does not
// appear (by exact path) in merged, the set replacing-uninstall must
// remove.
func diffUnmerged(previous, merged []Entry) []Entry {
	keep := make(map[string]bool, len(merged))
	for _, e := range merged {
		keep[e.Path] = true
	}
	var out []Entry
	for _, e := range previous {
		if !keep[e.Path] {
			out = append(out, e)
		}
	}
	return out
}

// configProtected reports whether path matches one of the shell-glob
// config-protect masks.
func configProtected(path string, masks []string) bool {
	for _, m := range masks {
		if strings.HasPrefix(path, strings.TrimSuffix(m, "/")+"/") || path == m {
			return true
		}
		if ok, _ := filepath.Match(m, path); ok {
			return true
		}
	}
	return false
}
