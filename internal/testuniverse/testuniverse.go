// Package testuniverse is an in-memory cave.PackageUniverse fixture used
// by the resolver, job-graph, serial and session test suites to build
// scenario tables, the
// same way a fixture SourceManager stands in for a real one rather than
// mocking one call at a time.
package testuniverse

import (
	"sort"

	"github.com/exherbo-go/cave"
)

// Fixture is a hand-buildable PackageUniverse: every package/repository/
// mask/choice fact is asserted directly rather than read from disk.
type Fixture struct {
	ids          map[cave.QualifiedPackageName][]*cave.PackageId
	masked       map[string]string
	choices      map[string]cave.ChoiceSet
	repoPriority map[string]int
}

// New returns an empty Fixture.
func New() *Fixture {
	return &Fixture{
		ids:          make(map[cave.QualifiedPackageName][]*cave.PackageId),
		masked:       make(map[string]string),
		choices:      make(map[string]cave.ChoiceSet),
		repoPriority: make(map[string]int),
	}
}

// Add registers id as an existing candidate (installed or installable).
func (f *Fixture) Add(id *cave.PackageId) *Fixture {
	f.ids[id.Name] = append(f.ids[id.Name], id)
	return f
}

// Mask marks id unselectable with the given human-readable reason.
func (f *Fixture) Mask(id *cave.PackageId, reason string) *Fixture {
	f.masked[id.Canonical()] = reason
	return f
}

// SetChoices assigns the use-flag valuation the sanitiser will see for id.
func (f *Fixture) SetChoices(id *cave.PackageId, cs cave.ChoiceSet) *Fixture {
	f.choices[id.Canonical()] = cs
	return f
}

// SetRepoPriority orders repo for the repository-order tie-break used
// when choosing between otherwise-equal candidates; lower sorts first.
// Repositories not given a priority default to 0.
func (f *Fixture) SetRepoPriority(repo string, p int) *Fixture {
	f.repoPriority[repo] = p
	return f
}

func (f *Fixture) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for n := range f.ids {
		if !seen[n.Category] {
			seen[n.Category] = true
			out = append(out, n.Category)
		}
	}
	sort.Strings(out)
	return out
}

func (f *Fixture) Packages(category string) []string {
	seen := make(map[string]bool)
	var out []string
	for n := range f.ids {
		if n.Category == category && !seen[n.Package] {
			seen[n.Package] = true
			out = append(out, n.Package)
		}
	}
	sort.Strings(out)
	return out
}

func (f *Fixture) IdsForPackage(name cave.QualifiedPackageName) ([]*cave.PackageId, error) {
	out := make([]*cave.PackageId, len(f.ids[name]))
	copy(out, f.ids[name])
	return out, nil
}

func (f *Fixture) Installed() ([]*cave.PackageId, error) {
	var out []*cave.PackageId
	for _, ids := range f.ids {
		for _, id := range ids {
			if id.IsInstalled {
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Canonical() < out[j].Canonical() })
	return out, nil
}

func (f *Fixture) Masked(id *cave.PackageId) (bool, string) {
	reason, ok := f.masked[id.Canonical()]
	return ok, reason
}

func (f *Fixture) Choices(id *cave.PackageId) cave.ChoiceSet {
	return f.choices[id.Canonical()]
}

func (f *Fixture) RepositoryPriority(repository string) int {
	return f.repoPriority[repository]
}

// MustVersion parses a version string, panicking on failure; tests use it
// to keep fixture construction a single expression.
func MustVersion(s string) cave.Version {
	v, err := cave.ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ID builds one fixture PackageId. deps is a map from metadata-key name
// ("DEPEND", "RDEPEND", "PDEPEND") to the raw dependency string to parse
// with cave.ParseDepTree; omitted keys are left nil.
func ID(cat, pkg, ver, slot, repo string, installed bool, deps map[string]string) *cave.PackageId {
	id := &cave.PackageId{
		Name:        cave.QualifiedPackageName{Category: cat, Package: pkg},
		Ver:         MustVersion(ver),
		SlotName:    cave.Slot(slot),
		Repository:  repo,
		EAPI:        "0",
		IsInstalled: installed,
	}
	if installed {
		id.InstalledTime = 1
	}
	if raw, ok := deps["DEPEND"]; ok {
		id.Build = mustTree(raw)
	}
	if raw, ok := deps["RDEPEND"]; ok {
		id.Run = mustTree(raw)
	}
	if raw, ok := deps["PDEPEND"]; ok {
		id.Post = mustTree(raw)
	}
	return id
}

func mustTree(raw string) cave.DepNode {
	tree, _, err := cave.ParseDepTree(raw)
	if err != nil {
		panic(err)
	}
	return tree
}
