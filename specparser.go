package cave

import (
	"regexp"
	"strings"
)

// UseFlagBracket is one bracketed use-condition on a package-dep-spec atom:
// "[flag]", "[-flag]", or "[flag=]" (conditional-on-chooser's-own-value).
type UseFlagBracket struct {
	Flag    string
	Negated bool
	Equals  bool // "[flag=]" form
}

// PackageSpec is a parsed package-dep-spec atom: an optional block
// prefix, optional version operator + version, category/name, optional
// slot, optional repository, and bracketed use conditions.
type PackageSpec struct {
	Block       bool // "!"
	StrongBlock bool // "!!"
	Op          versionOp
	HasVersion  bool
	Version     Version
	Wildcard    bool // "=cat/pkg-1.2*"
	Name        QualifiedPackageName
	Slot        Slot
	AnySlot     bool // ":*"
	RebuildSlot bool // ":=" form, rebuild-on-slot-change
	Repository  string
	Uses        []UseFlagBracket
}

// MatchesVersion reports whether v satisfies the spec's version
// constraint (if any — a bare "cat/pkg" atom matches every version).
func (p PackageSpec) MatchesVersion(v Version) bool {
	if !p.HasVersion {
		return true
	}
	return VersionSpec{Op: p.Op, Ver: p.Version, wildcard: p.Wildcard}.Matches(v)
}

func (p PackageSpec) String() string {
	var b strings.Builder
	if p.StrongBlock {
		b.WriteString("!!")
	} else if p.Block {
		b.WriteString("!")
	}
	if p.HasVersion {
		b.WriteString(p.Op.String())
	}
	b.WriteString(p.Name.Category)
	b.WriteString("/")
	b.WriteString(p.Name.Package)
	if p.HasVersion {
		b.WriteString("-")
		b.WriteString(p.Version.original)
		if p.Wildcard {
			b.WriteString("*")
		}
	}
	if p.AnySlot {
		b.WriteString(":*")
	} else if p.Slot != "" {
		b.WriteString(":")
		b.WriteString(string(p.Slot))
		if p.RebuildSlot {
			b.WriteString("=")
		}
	}
	if p.Repository != "" {
		b.WriteString("::")
		b.WriteString(p.Repository)
	}
	for _, u := range p.Uses {
		b.WriteString("[")
		if u.Negated {
			b.WriteString("-")
		}
		b.WriteString(u.Flag)
		if u.Equals {
			b.WriteString("=")
		}
		b.WriteString("]")
	}
	return b.String()
}

var (
	catPkgRe = regexp.MustCompile(`^([A-Za-z0-9+_][A-Za-z0-9+_.-]*)/([A-Za-z0-9+_][A-Za-z0-9+_-]*?)$`)
	useRe    = regexp.MustCompile(`^\[([^\]]*)\]$`)
)

// ParseSpec parses one package-dep-spec atom. It fails with BadSpec on
// unknown operator, empty name, multiple slots, or conflicting brackets.
//
// Whether a "||" group may legally appear inside a "!"-block is a matter
// for the dep-spec TREE parser, not this atom parser; see ParseDepTree.
func ParseSpec(text string) (PackageSpec, error) {
	rest := text
	var spec PackageSpec

	if strings.HasPrefix(rest, "!!") {
		spec.StrongBlock = true
		rest = rest[2:]
	} else if strings.HasPrefix(rest, "!") {
		spec.Block = true
		rest = rest[1:]
	}

	// Peel off bracketed use conditions from the tail first; there may be
	// several, e.g. "cat/pkg[foo][-bar][baz=]".
	for {
		i := strings.LastIndex(rest, "[")
		if i < 0 || !strings.HasSuffix(rest, "]") {
			break
		}
		bracket := rest[i:]
		rest = rest[:i]
		m := useRe.FindStringSubmatch(bracket)
		if m == nil {
			return PackageSpec{}, BadSpec(text, "malformed use bracket "+bracket)
		}
		body := m[1]
		var ub UseFlagBracket
		if strings.HasPrefix(body, "-") {
			ub.Negated = true
			body = body[1:]
		}
		if strings.HasSuffix(body, "=") {
			if ub.Negated {
				return PackageSpec{}, BadSpec(text, "conflicting use bracket "+bracket)
			}
			ub.Equals = true
			body = strings.TrimSuffix(body, "=")
		}
		if body == "" {
			return PackageSpec{}, BadSpec(text, "empty use flag in "+bracket)
		}
		ub.Flag = body
		spec.Uses = append([]UseFlagBracket{ub}, spec.Uses...)
	}

	if i := strings.Index(rest, "::"); i >= 0 {
		spec.Repository = rest[i+2:]
		rest = rest[:i]
		if spec.Repository == "" {
			return PackageSpec{}, BadSpec(text, "empty repository after ::")
		}
	}

	if i := strings.Index(rest, ":"); i >= 0 {
		slotPart := rest[i+1:]
		rest = rest[:i]
		if strings.Contains(slotPart, ":") {
			return PackageSpec{}, BadSpec(text, "multiple slots specified")
		}
		if slotPart == "*" {
			spec.AnySlot = true
		} else if strings.HasSuffix(slotPart, "=") {
			spec.Slot = Slot(strings.TrimSuffix(slotPart, "="))
			spec.RebuildSlot = true
			if spec.Slot == "" {
				return PackageSpec{}, BadSpec(text, "empty slot before =")
			}
		} else {
			spec.Slot = Slot(slotPart)
			if spec.Slot == "" {
				return PackageSpec{}, BadSpec(text, "empty slot after :")
			}
		}
	}

	op, opLen, hasOp := parseOp(rest)
	if hasOp {
		rest = rest[opLen:]
	}

	catpkg := rest
	version := ""
	wildcard := false
	if hasOp || strings.Contains(rest, "-") {
		// Version, if present, follows the last "-" that begins a digit.
		if idx := findVersionDash(rest); idx >= 0 {
			catpkg = rest[:idx]
			version = rest[idx+1:]
		}
	}
	if hasOp && version == "" {
		return PackageSpec{}, BadSpec(text, "version operator given but no version present")
	}

	if version != "" {
		if strings.HasSuffix(version, "*") {
			if op != opEqual {
				return PackageSpec{}, BadSpec(text, "wildcard version requires = operator")
			}
			wildcard = true
			version = strings.TrimSuffix(version, "*")
		}
		v, err := ParseVersion(version)
		if err != nil {
			return PackageSpec{}, err
		}
		spec.HasVersion = true
		spec.Version = v
		spec.Wildcard = wildcard
		spec.Op = op
	}

	m := catPkgRe.FindStringSubmatch(catpkg)
	if m == nil {
		return PackageSpec{}, BadSpec(text, "expected category/package, got "+catpkg)
	}
	spec.Name = QualifiedPackageName{Category: m[1], Package: m[2]}

	return spec, nil
}

func parseOp(s string) (versionOp, int, bool) {
	switch {
	case strings.HasPrefix(s, "<="):
		return opLessEqual, 2, true
	case strings.HasPrefix(s, ">="):
		return opGreaterEqual, 2, true
	case strings.HasPrefix(s, "<"):
		return opLess, 1, true
	case strings.HasPrefix(s, ">"):
		return opGreater, 1, true
	case strings.HasPrefix(s, "="):
		return opEqual, 1, true
	case strings.HasPrefix(s, "~"):
		return opApprox, 1, true
	default:
		return 0, 0, false
	}
}

// findVersionDash locates the "-" that introduces the version suffix: the
// last "-" in the string that is immediately followed by a digit.
func findVersionDash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '-' && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9' {
			return i
		}
	}
	return -1
}
