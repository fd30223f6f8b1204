package cave

import "testing"

// TestVersionTotalOrder checks the PMS ordering examples plus the
// "exactly one of <, =, >" totality property.
func TestVersionTotalOrder(t *testing.T) {
	order := []string{"1_alpha", "1_beta", "1_pre", "1_rc", "1", "1_p1", "1-r0", "1-r1"}
	// "1-r0" is equal to "1" (absence of revision == -r0), so insert it as a
	// distinct equality class rather than a strictly-later entry.
	versions := make([]Version, len(order))
	for i, s := range order {
		v, err := ParseVersion(s)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", s, err)
		}
		versions[i] = v
	}

	for i := 0; i < len(versions); i++ {
		for j := 0; j < len(versions); j++ {
			lt := versions[i].Less(versions[j])
			gt := versions[j].Less(versions[i])
			eq := versions[i].Equal(versions[j])
			count := 0
			if lt {
				count++
			}
			if gt {
				count++
			}
			if eq {
				count++
			}
			if count != 1 {
				t.Fatalf("totality violated for %s vs %s: lt=%v gt=%v eq=%v", order[i], order[j], lt, gt, eq)
			}
		}
	}

	// "1-r0" and "1" must compare equal; "1-r1" must be strictly greater.
	r0, _ := ParseVersion("1-r0")
	bare, _ := ParseVersion("1")
	r1, _ := ParseVersion("1-r1")
	if !r0.Equal(bare) {
		t.Errorf("1-r0 should equal 1 (absent revision == -r0)")
	}
	if !bare.Less(r1) {
		t.Errorf("1 should sort before 1-r1")
	}

	// PMS examples: 1 == 1.0, but 1.0a > 1.0.
	one, _ := ParseVersion("1")
	oneDotZero, _ := ParseVersion("1.0")
	if !one.Equal(oneDotZero) {
		t.Errorf("1 should equal 1.0")
	}
	oneDotZeroA, _ := ParseVersion("1.0a")
	if !oneDotZero.Less(oneDotZeroA) {
		t.Errorf("1.0 should sort before 1.0a")
	}
}

func TestVersionSCMMarker(t *testing.T) {
	v, err := ParseVersion("9999")
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsSCM() {
		t.Errorf("9999 should be flagged SCM")
	}
	stable, _ := ParseVersion("1.2.3")
	if stable.IsSCM() {
		t.Errorf("1.2.3 should not be flagged SCM")
	}
}

func TestVersionLeadingZeroStringDistinction(t *testing.T) {
	zero, err := ParseVersion("0")
	if err != nil {
		t.Fatal(err)
	}
	doubleZero, err := ParseVersion("00")
	if err != nil {
		t.Fatal(err)
	}
	if zero.String() == doubleZero.String() {
		t.Errorf("\"0\" and \"00\" must remain string-distinguishable")
	}
	if !zero.Equal(doubleZero) {
		t.Errorf("\"0\" and \"00\" must compare numerically equal")
	}
}

func TestVersionSpecMatches(t *testing.T) {
	base, _ := ParseVersion("1.2")
	v12, _ := ParseVersion("1.2")
	v13, _ := ParseVersion("1.3")
	v12r1, _ := ParseVersion("1.2-r1")

	ge := VersionSpec{Op: opGreaterEqual, Ver: base}
	if !ge.Matches(v12) || !ge.Matches(v13) {
		t.Errorf(">=1.2 should match 1.2 and 1.3")
	}
	if ge.Matches(Version{}) {
		t.Errorf(">=1.2 should not match the zero version")
	}

	approx := VersionSpec{Op: opApprox, Ver: base}
	if !approx.Matches(v12r1) {
		t.Errorf("~1.2 should match 1.2-r1 (revision ignored)")
	}
	if approx.Matches(v13) {
		t.Errorf("~1.2 should not match 1.3")
	}
}
