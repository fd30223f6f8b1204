// Package merge implements the staged-image to live-filesystem
// installer: the check phase, CONTENTS journal, apply phase, mtime
// fixup, and replacing-uninstall.
package merge

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// EntryKind tags one CONTENTS line's type.
type EntryKind int

const (
	EntryDir EntryKind = iota
	EntryObj
	EntrySym
	EntryFifo
	EntryDev
	EntryMisc
)

func (k EntryKind) tag() string {
	switch k {
	case EntryDir:
		return "dir"
	case EntryObj:
		return "obj"
	case EntrySym:
		return "sym"
	case EntryFifo:
		return "fif"
	case EntryDev:
		return "dev"
	default:
		return "misc"
	}
}

// Entry is one parsed CONTENTS record. Only the fields relevant to Kind
// are populated; Raw preserves the exact source line so an unrecognised
// or malformed line can still round-trip untouched.
type Entry struct {
	Kind   EntryKind
	Path   string
	MD5    string
	Mtime  int64
	Target string
	Raw    string
}

// ParseContents reads a CONTENTS stream: one entry per line,
// tolerant of paths containing internal and trailing spaces and of
// symlink targets that themselves contain "-> ". Parsing never fails on
// a malformed line; it is kept verbatim as an EntryMisc-shaped Raw entry
// so that round-trip is always possible even for corrupt input.
func ParseContents(r io.Reader) ([]Entry, error) {
	var out []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		e, ok := parseLine(line)
		if !ok {
			out = append(out, Entry{Kind: EntryMisc, Raw: line})
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading CONTENTS")
	}
	return out, nil
}

func parseLine(line string) (Entry, bool) {
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return Entry{}, false
	}
	tag, rest := line[:sp], line[sp+1:]

	switch tag {
	case "dir":
		return Entry{Kind: EntryDir, Path: rest, Raw: line}, true

	case "obj":
		// "<path> <md5> <mtime>": md5 and mtime are the last two
		// whitespace-delimited fields; everything before them, however
		// many internal spaces it has, is the path.
		path, md5, mtime, ok := splitTrailingPair(rest)
		if !ok {
			return Entry{}, false
		}
		mt, err := strconv.ParseInt(mtime, 10, 64)
		if err != nil {
			return Entry{}, false
		}
		return Entry{Kind: EntryObj, Path: path, MD5: md5, Mtime: mt, Raw: line}, true

	case "sym":
		// "<path> -> <target> <mtime>": match the first " -> " greedily
		// from the left, then split the trailing mtime off
		// the target (the target may itself contain further "-> ").
		i := strings.Index(rest, " -> ")
		if i < 0 {
			return Entry{}, false
		}
		path := rest[:i]
		tail := rest[i+4:]
		j := strings.LastIndex(tail, " ")
		if j < 0 {
			return Entry{}, false
		}
		target, mtime := tail[:j], tail[j+1:]
		mt, err := strconv.ParseInt(mtime, 10, 64)
		if err != nil {
			return Entry{}, false
		}
		return Entry{Kind: EntrySym, Path: path, Target: target, Mtime: mt, Raw: line}, true

	case "fif":
		return Entry{Kind: EntryFifo, Path: rest, Raw: line}, true

	case "dev":
		return Entry{Kind: EntryDev, Path: rest, Raw: line}, true

	case "misc":
		return Entry{Kind: EntryMisc, Path: rest, Raw: line}, true

	default:
		return Entry{}, false
	}
}

// splitTrailingPair splits "path md5 mtime" on the last two spaces,
// tolerating arbitrary internal spaces in path.
func splitTrailingPair(s string) (path, a, b string, ok bool) {
	j := strings.LastIndex(s, " ")
	if j < 0 {
		return "", "", "", false
	}
	b = s[j+1:]
	rest := s[:j]
	i := strings.LastIndex(rest, " ")
	if i < 0 {
		return "", "", "", false
	}
	a = rest[i+1:]
	path = rest[:i]
	return path, a, b, true
}

// WriteContents serialises entries back out, byte-identical to the
// parsed input for every entry whose Raw field was preserved unmodified;
// entries built programmatically (fresh Journal output) are rendered from
// their structured fields.
func WriteContents(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		line := formatLine(e)
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatLine(e Entry) string {
	if e.Raw != "" {
		return e.Raw
	}
	switch e.Kind {
	case EntryDir:
		return "dir " + e.Path
	case EntryObj:
		return fmt.Sprintf("obj %s %s %d", e.Path, e.MD5, e.Mtime)
	case EntrySym:
		return fmt.Sprintf("sym %s -> %s %d", e.Path, e.Target, e.Mtime)
	case EntryFifo:
		return "fif " + e.Path
	case EntryDev:
		return "dev " + e.Path
	default:
		return "misc " + e.Path
	}
}
