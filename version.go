package cave

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// qualifier is one of the PMS §3.3 suffix tags, ordered by their
// precedence relative to "no qualifier" (which sorts between _pre/_rc and
// _p, per the canonical order _alpha < _beta < _pre < _rc < (none) < _p).
type qualifier int

const (
	qAlpha qualifier = iota
	qBeta
	qPre
	qRC
	qNone
	qP
)

var qualifierRank = map[string]qualifier{
	"_alpha": qAlpha,
	"_beta":  qBeta,
	"_pre":   qPre,
	"_rc":    qRC,
	"_p":     qP,
}

// versionRegex anchors and fully captures the PMS version grammar:
// N(.N)*[letter][(_alpha|_beta|_pre|_rc|_p)[N]]*[-rN]
var versionRegex = regexp.MustCompile(
	`^([0-9]+(?:\.[0-9]+)*)` + // numeric parts
		`([a-z]?)` + // optional single trailing letter
		`((?:_(?:alpha|beta|pre|rc|p)[0-9]*)*)` + // qualifiers
		`(?:-r([0-9]+))?$`, // revision
)

var qualifierSplit = regexp.MustCompile(`_(alpha|beta|pre|rc|p)([0-9]*)`)

// suffix is one parsed _alpha/_beta/_pre/_rc/_p qualifier with its
// optional numeric tiebreak.
type suffix struct {
	q qualifier
	n int64
}

// Version is a parsed Gentoo/PMS package version: a sequence of numeric
// parts, an optional trailing letter, zero or more qualifier suffixes, and
// an optional revision. Both the structured form and the canonical display
// string are retained: "00" and "0" compare equal but must stay
// distinguishable against string-form cache entries.
type Version struct {
	parts    []int64
	letter   string
	suffixes []suffix
	revision int64
	scm      bool
	original string
}

// ParseVersion parses a version string per the PMS §3.3 grammar. SCM
// ("live") versions are flagged only when the last numeric part is a string
// of repeated 9s (the "9999" convention); no other live-version marker is
// recognised.
func ParseVersion(raw string) (Version, error) {
	m := versionRegex.FindStringSubmatch(raw)
	if m == nil {
		return Version{}, &ParseError{Kind: "version", Text: raw, Reason: "does not match N(.N)*[letter][_qual[N]]*[-rN]"}
	}

	var parts []int64
	for _, p := range strings.Split(m[1], ".") {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return Version{}, &ParseError{Kind: "version", Text: raw, Reason: "bad numeric component " + p}
		}
		parts = append(parts, n)
	}

	var suffixes []suffix
	for _, sm := range qualifierSplit.FindAllStringSubmatch(m[3], -1) {
		q := qualifierRank["_"+sm[1]]
		var n int64
		if sm[2] != "" {
			n, _ = strconv.ParseInt(sm[2], 10, 64)
		}
		suffixes = append(suffixes, suffix{q: q, n: n})
	}

	var rev int64
	if m[4] != "" {
		rev, _ = strconv.ParseInt(m[4], 10, 64)
	}

	scm := isAllNines(m[1][strings.LastIndexByte(m[1], '.')+1:])

	return Version{
		parts:    parts,
		letter:   m[2],
		suffixes: suffixes,
		revision: rev,
		scm:      scm,
		original: raw,
	}, nil
}

// String returns the canonical display form, exactly as parsed.
func (v Version) String() string {
	return v.original
}

// IsSCM reports whether this version is an "unstable head" marker.
func (v Version) IsSCM() bool { return v.scm }

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than
// o, following PMS §3.3: numeric parts left-to-right, then letter (absence
// < presence), then qualifier pairs in canonical order with numeric
// tiebreak, then revision (absence == -r0).
func (v Version) Compare(o Version) int {
	if c := compareParts(v.parts, o.parts); c != 0 {
		return c
	}
	if c := compareLetter(v.letter, o.letter); c != 0 {
		return c
	}
	if c := compareSuffixes(v.suffixes, o.suffixes); c != 0 {
		return c
	}
	return compareInt64(v.revision, o.revision)
}

func compareParts(a, b []int64) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var av, bv int64
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if c := compareInt64(av, bv); c != 0 {
			return c
		}
	}
	return 0
}

func compareLetter(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	if a < b {
		return -1
	}
	return 1
}

func compareSuffixes(a, b []suffix) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		av, bv := suffix{q: qNone}, suffix{q: qNone}
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av.q != bv.q {
			if av.q < bv.q {
				return -1
			}
			return 1
		}
		if c := compareInt64(av.n, bv.n); c != 0 {
			return c
		}
	}
	return 0
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// isAllNines reports whether the last numeric component is the "9999"
// SCM convention: four or more repeated 9s.
func isAllNines(part string) bool {
	if len(part) < 4 {
		return false
	}
	for i := 0; i < len(part); i++ {
		if part[i] != '9' {
			return false
		}
	}
	return true
}

// Equal reports version equality under Compare.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// versionOp is one of the comparison operators accepted in a package-dep
// spec atom.
type versionOp int

const (
	opEqual versionOp = iota
	opApprox
	opLess
	opLessEqual
	opGreater
	opGreaterEqual
)

func (op versionOp) String() string {
	switch op {
	case opEqual:
		return "="
	case opApprox:
		return "~"
	case opLess:
		return "<"
	case opLessEqual:
		return "<="
	case opGreater:
		return ">"
	case opGreaterEqual:
		return ">="
	default:
		return "?"
	}
}

// VersionSpec is a version constraint atom: an operator paired with a
// version, including the "=1.2*" prefix-wildcard and "~" approx-base forms.
// A spec with no version constraint has no VersionSpec at all.
type VersionSpec struct {
	Op  versionOp
	Ver Version
	// wildcard is set for a trailing "*" on an "=" operator (=1.2*).
	wildcard bool
}

// Matches reports whether v satisfies the spec.
func (s VersionSpec) Matches(v Version) bool {
	switch s.Op {
	case opEqual:
		if s.wildcard {
			return strings.HasPrefix(v.original, strings.TrimSuffix(s.Ver.original, "*"))
		}
		return v.Equal(s.Ver)
	case opApprox:
		return approxBaseEqual(v, s.Ver)
	case opLess:
		return v.Less(s.Ver)
	case opLessEqual:
		return v.Less(s.Ver) || v.Equal(s.Ver)
	case opGreater:
		return s.Ver.Less(v)
	case opGreaterEqual:
		return s.Ver.Less(v) || v.Equal(s.Ver)
	default:
		return false
	}
}

// approxBaseEqual implements "~" (PMS approximate-match): equal numeric
// parts, letter, and qualifiers, ignoring revision.
func approxBaseEqual(v, base Version) bool {
	if compareParts(v.parts, base.parts) != 0 {
		return false
	}
	if compareLetter(v.letter, base.letter) != 0 {
		return false
	}
	return compareSuffixes(v.suffixes, base.suffixes) == 0
}

func (s VersionSpec) String() string {
	if s.wildcard {
		return s.Op.String() + s.Ver.original + "*"
	}
	return s.Op.String() + s.Ver.original
}

// QualifiedPackageName is a (category, package) pair, the unit that
// manifests are keyed on.
type QualifiedPackageName struct {
	Category string
	Package  string
}

func (q QualifiedPackageName) String() string {
	return fmt.Sprintf("%s/%s", q.Category, q.Package)
}

func (q QualifiedPackageName) Less(o QualifiedPackageName) bool {
	if q.Category != o.Category {
		return q.Category < o.Category
	}
	return q.Package < o.Package
}

// Slot is an opaque, parallel-installable partition of a package's version
// space. The zero value means no slot was named; in a spec or a Resolvent
// it is AnySlot.
type Slot string

// AnySlot matches any slot during resolvent formation.
const AnySlot Slot = ""

// Keyword is an opaque architecture/stability tag used for masking.
type Keyword string
