// Package difftest provides string-diff assertions for tests: when two
// strings differ, render a human-readable diff instead of dumping both
// strings whole.
package difftest

import "github.com/sergi/go-diff/diffmatchpatch"

// Diff compares two strings and reports whether they are equal plus a
// pretty diff of their differences (empty when equal).
func Diff(a, b string) (diff string, equal bool) {
	if a == b {
		return "", true
	}
	dmp := diffmatchpatch.New()
	d := dmp.DiffMain(a, b, false)
	return dmp.DiffPrettyText(d), false
}
