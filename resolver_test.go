package cave_test

import (
	"testing"

	"github.com/exherbo-go/cave"
	"github.com/exherbo-go/cave/internal/testuniverse"
)

func mustTarget(t *testing.T, spec string) cave.Target {
	t.Helper()
	s, err := cave.ParseSpec(spec)
	if err != nil {
		t.Fatalf("ParseSpec(%q): %v", spec, err)
	}
	return cave.Target{Spec: s}
}

func takenKinds(t *testing.T, lists *cave.ResolverLists) []string {
	t.Helper()
	var out []string
	for _, id := range lists.Taken {
		job := lists.Jobs[id]
		out = append(out, job.String())
	}
	return out
}

// Scenario 1: target cat/one, repo has cat/one-1.
func TestScenario1Empty(t *testing.T) {
	u := testuniverse.New()
	u.Add(testuniverse.ID("cat", "one", "1", "", "repo", false, nil))

	lists, err := cave.Resolve(u, []cave.Target{mustTarget(t, "cat/one")}, cave.ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	kinds := takenKinds(t, lists)
	found := false
	for _, k := range kinds {
		if k == "install cat/one-1::repo" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected install cat/one-1::repo among taken jobs, got %v", kinds)
	}
}

// Scenario 2: linear build chain cat/one -> cat/two -> cat/three,
// all via DEPEND (build-time). Plan order: three, two, one.
func TestScenario2LinearBuildChain(t *testing.T) {
	u := testuniverse.New()
	u.Add(testuniverse.ID("cat", "three", "1", "", "repo", false, nil))
	u.Add(testuniverse.ID("cat", "two", "1", "", "repo", false, map[string]string{"DEPEND": "cat/three"}))
	u.Add(testuniverse.ID("cat", "one", "1", "", "repo", false, map[string]string{"DEPEND": "cat/two"}))

	lists, err := cave.Resolve(u, []cave.Target{mustTarget(t, "cat/one")}, cave.ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}

	pos := make(map[string]int)
	for i, id := range lists.Taken {
		job := lists.Jobs[id]
		if chosen := job.Resolution.Decision.ChosenID(); chosen != nil && job.Kind == cave.JobSimpleInstall {
			if _, ok := pos[chosen.Name.String()]; !ok {
				pos[chosen.Name.String()] = i
			}
		}
	}
	if !(pos["cat/three"] < pos["cat/two"] && pos["cat/two"] < pos["cat/one"]) {
		t.Fatalf("expected three < two < one in install order, got positions %v", pos)
	}
}

// Scenario 3: any-of with an installed alternative.
func TestScenario3AnyOfInstalledAlternative(t *testing.T) {
	u := testuniverse.New()
	u.Add(testuniverse.ID("cat", "two", "1", "", "repo", false, nil))
	u.Add(testuniverse.ID("cat", "three", "1", "", "repo", true, nil))
	u.Add(testuniverse.ID("cat", "one", "1", "", "repo", false, map[string]string{"DEPEND": "|| ( cat/two cat/three )"}))

	lists, err := cave.Resolve(u, []cave.Target{mustTarget(t, "cat/one")}, cave.ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var sawThreeChange, sawOneInstall bool
	for _, res := range lists.All {
		if res.Resolvent.Name.String() == "cat/three" && res.Decision.Kind == cave.DecisionExistingNoChange {
			sawThreeChange = true
		}
		if res.Resolvent.Name.String() == "cat/one" && res.Decision.Kind == cave.DecisionChangesToMake {
			sawOneInstall = true
		}
	}
	if !sawThreeChange {
		t.Errorf("expected cat/three to resolve as ExistingNoChange (kept)")
	}
	if !sawOneInstall {
		t.Errorf("expected cat/one to resolve as ChangesToMake (installed)")
	}
	for _, res := range lists.All {
		if res.Resolvent.Name.String() == "cat/two" && res.Decision.Kind == cave.DecisionChangesToMake {
			t.Errorf("cat/two should not have been selected; the any-of should have preferred installed cat/three")
		}
	}
}

// Scenario 4: slotted upgrade.
func TestScenario4SlottedUpgrade(t *testing.T) {
	u := testuniverse.New()
	u.Add(testuniverse.ID("cat", "two", "1.1", "slot1", "repo", false, nil))
	u.Add(testuniverse.ID("cat", "two", "1.2", "slot2", "repo", false, nil))
	u.Add(testuniverse.ID("cat", "two", "1.3", "slot3", "repo", false, nil))
	u.Add(testuniverse.ID("cat", "one", "1", "", "repo", false, map[string]string{"DEPEND": "cat/two:slot2"}))

	lists, err := cave.Resolve(u, []cave.Target{mustTarget(t, "cat/one")}, cave.ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var chosenTwo *cave.PackageId
	for _, res := range lists.All {
		if res.Resolvent.Name.String() == "cat/two" {
			chosenTwo = res.Decision.ChosenID()
		}
	}
	if chosenTwo == nil {
		t.Fatal("expected a decision for cat/two")
	}
	if chosenTwo.SlotName != "slot2" || chosenTwo.Ver.String() != "1.2" {
		t.Fatalf("expected cat/two-1.2:slot2, got %s", chosenTwo)
	}
}

// Scenario 5: an RDEPEND cycle where neither side is installed.
// Both are installed by the plan; the cycle-break must not remove a build
// edge: the only build edges here are each install job's arrow from its own
// fetch job, and every one must survive and be honoured by the taken order.
func TestScenario5RuntimeCycle(t *testing.T) {
	u := testuniverse.New()
	u.Add(testuniverse.ID("cat", "a", "1", "", "repo", false, map[string]string{"RDEPEND": "cat/b"}))
	u.Add(testuniverse.ID("cat", "b", "1", "", "repo", false, map[string]string{"RDEPEND": "cat/a"}))

	lists, err := cave.Resolve(u, []cave.Target{mustTarget(t, "cat/a")}, cave.ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}

	pos := make(map[cave.JobId]int)
	for i, id := range lists.Taken {
		pos[id] = i
	}
	installed := make(map[string]bool)
	for _, id := range lists.Taken {
		job := lists.Jobs[id]
		if job.Kind == cave.JobSimpleInstall {
			if chosen := job.Resolution.Decision.ChosenID(); chosen != nil {
				installed[chosen.Name.String()] = true
			}
		}
		hasBuild := false
		for _, a := range job.Arrows {
			if a.Kind == cave.ArrowBuild || a.Kind == cave.ArrowBuildAgainst {
				hasBuild = true
				if pos[a.From] >= pos[id] {
					t.Errorf("build edge broken: job %s must come after job %s", job, lists.Jobs[a.From])
				}
			}
		}
		if job.Kind == cave.JobSimpleInstall && !hasBuild {
			t.Errorf("install job %s lost the build edge from its fetch job", job)
		}
	}
	if !installed["cat/a"] || !installed["cat/b"] {
		t.Fatalf("expected both cat/a and cat/b installed, got %v", installed)
	}
}

// Scenario 6: block + replace.
func TestScenario6BlockAndReplace(t *testing.T) {
	u := testuniverse.New()
	u.Add(testuniverse.ID("cat", "old", "1", "", "repo", true, nil))

	blockTarget := mustTarget(t, "!cat/old")

	_, err := cave.Resolve(u, []cave.Target{blockTarget}, cave.ResolveOptions{PermitUninstall: false})
	if err == nil {
		t.Fatalf("expected resolve to fail with UnableToMake when --permit-uninstall is not set")
	}

	lists, err := cave.Resolve(u, []cave.Target{blockTarget}, cave.ResolveOptions{PermitUninstall: true})
	if err != nil {
		t.Fatalf("expected resolve to succeed with --permit-uninstall: %v", err)
	}
	var removed bool
	for _, id := range lists.Taken {
		job := lists.Jobs[id]
		if job.Kind == cave.JobUninstall {
			for _, r := range job.Resolution.Decision.ToRemove {
				if r.Name.String() == "cat/old" {
					removed = true
				}
			}
		}
	}
	if !removed {
		t.Fatalf("expected cat/old to be removed with --permit-uninstall set")
	}
}

// Suggestions are not taken automatically: they surface as display-only
// untaken jobs unless FollowSuggestions is set.
func TestSuggestionsBecomeUntaken(t *testing.T) {
	build := func() *testuniverse.Fixture {
		u := testuniverse.New()
		u.Add(testuniverse.ID("cat", "extra", "1", "", "repo", false, nil))
		u.Add(testuniverse.ID("cat", "one", "1", "", "repo", false, map[string]string{"DEPEND": "suggestion: cat/extra"}))
		return u
	}

	lists, err := cave.Resolve(build(), []cave.Target{mustTarget(t, "cat/one")}, cave.ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range lists.Taken {
		if chosen := lists.Jobs[id].Resolution.Decision.ChosenID(); chosen != nil && chosen.Name.String() == "cat/extra" {
			t.Errorf("suggested cat/extra should not be on the taken list")
		}
	}
	var untakenExtra bool
	for _, id := range lists.Untaken {
		job := lists.Jobs[id]
		if job.Kind != cave.JobUntakenInstall {
			t.Errorf("untaken job %s should be an untaken-install, got %s", job, job.Kind)
		}
		if chosen := job.Resolution.Decision.ChosenID(); chosen != nil && chosen.Name.String() == "cat/extra" {
			untakenExtra = true
		}
	}
	if !untakenExtra {
		t.Fatalf("expected an untaken display job for suggested cat/extra, got %v", lists.Untaken)
	}

	followed, err := cave.Resolve(build(), []cave.Target{mustTarget(t, "cat/one")}, cave.ResolveOptions{FollowSuggestions: true})
	if err != nil {
		t.Fatal(err)
	}
	var takenExtra bool
	for _, id := range followed.Taken {
		job := followed.Jobs[id]
		if job.Kind == cave.JobSimpleInstall {
			if chosen := job.Resolution.Decision.ChosenID(); chosen != nil && chosen.Name.String() == "cat/extra" {
				takenExtra = true
			}
		}
	}
	if !takenExtra {
		t.Fatalf("with FollowSuggestions, cat/extra should be installed")
	}
}
