package cave

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
)

// ParseError reports a malformed spec, version, or CONTENTS line. It is
// fatal at the point of entry and carries the offending source text.
type ParseError struct {
	Kind   string // "spec", "version", or "contents"
	Text   string
	Reason string
	Pos    int
}

func (e *ParseError) Error() string {
	if e.Pos > 0 {
		return fmt.Sprintf("bad %s %q at position %d: %s", e.Kind, e.Text, e.Pos, e.Reason)
	}
	return fmt.Sprintf("bad %s %q: %s", e.Kind, e.Text, e.Reason)
}

// BadSpec is returned by the dep-spec parser on unknown operator,
// empty name, multiple slots, or conflicting brackets.
func BadSpec(text, reason string) error {
	return errors.WithStack(&ParseError{Kind: "spec", Text: text, Reason: reason})
}

// ConfigError indicates no suitable destination repository, a missing
// required profile, or conflicting command-line options. Fatal.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Reason }

// restartNeeded is internal to the resolver driver: it is never returned to
// callers of Resolve. It carries the resolvent whose newly-learned
// constraint invalidated an earlier tentative decision, plus the preset
// constraint to merge before the next attempt.
type restartNeeded struct {
	resolvent Resolvent
	preset    Constraint
}

func (r *restartNeeded) Error() string {
	return fmt.Sprintf("restart needed for %s", r.resolvent)
}

// UnmetConstraintDetail is one line of the per-failed-decision report:
// the unmet constraint set, the masks on every candidate, and every unmet
// bracketed use requirement with a human-readable reason.
type UnmetConstraintDetail struct {
	Constraint Constraint
	Reason     string
}

// ResolutionError wraps an UnableToMake decision so it can be surfaced as a
// Go error from the display layer without changing the fact that, inside
// the resolver, it is data rather than a thrown failure.
type ResolutionError struct {
	Resolvent  Resolvent
	Candidates []UnsuitableCandidate
	Unmet      []UnmetConstraintDetail
}

func (e *ResolutionError) Error() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "unable to make a decision for %s:\n", e.Resolvent)
	for _, u := range e.Unmet {
		fmt.Fprintf(&buf, "  constraint %s unmet: %s\n", u.Constraint, u.Reason)
	}
	for _, c := range e.Candidates {
		fmt.Fprintf(&buf, "  candidate %s rejected: %s\n", c.ID, c.Reason)
	}
	return buf.String()
}

// FetchFailed, PhaseFailed, and MergeFailed are executor-level failures;
// none of them are retried silently by the resolver or merger.
type FetchFailed struct {
	Distfile string
	Cause    error
}

func (e *FetchFailed) Error() string { return fmt.Sprintf("fetch %s: %v", e.Distfile, e.Cause) }
func (e *FetchFailed) Unwrap() error { return e.Cause }

type PhaseFailed struct {
	Phase    string
	ID       *PackageId
	ExitCode int
	Cause    error
}

func (e *PhaseFailed) Error() string {
	return fmt.Sprintf("phase %q failed for %s (exit %d): %v", e.Phase, e.ID, e.ExitCode, e.Cause)
}
func (e *PhaseFailed) Unwrap() error { return e.Cause }

type MergeFailed struct {
	Path  string
	Cause error
}

func (e *MergeFailed) Error() string { return fmt.Sprintf("merge failed at %s: %v", e.Path, e.Cause) }
func (e *MergeFailed) Unwrap() error { return e.Cause }

// invariant panics with a canary message. An invariant violation is a
// programming error, not recoverable resolver state, so it aborts rather
// than propagating as a normal error.
func invariant(cond bool, msg string, args ...interface{}) {
	if !cond {
		panic("canary - " + fmt.Sprintf(msg, args...))
	}
}
