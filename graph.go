package cave

import (
	"sort"
	"strconv"

	"github.com/philopon/go-toposort"
)

// jobBuilder accumulates the Job graph for one finished resolve, then
// orders it.
type jobBuilder struct {
	r     *Resolver
	jobs  map[JobId]*Job
	jobOf map[Resolvent]JobId // the job that "provides" a resolvent, if any
	next  JobId
}

func newJobBuilder(r *Resolver) *jobBuilder {
	return &jobBuilder{
		r:     r,
		jobs:  make(map[JobId]*Job),
		jobOf: make(map[Resolvent]JobId),
	}
}

func (b *jobBuilder) add(kind JobKind, res Resolution) JobId {
	id := b.next
	b.next++
	b.jobs[id] = &Job{ID: id, Kind: kind, Resolution: res}
	return id
}

// order builds every Job from the Resolver's finished selection, links
// them with typed Arrows per each package's sanitised dependencies, breaks
// cycles made up only of post edges, then cycles made up only of runtime
// edges (installed state is not considered), and returns the final
// topologically-sorted ResolverLists.
func (r *Resolver) order() (*ResolverLists, error) {
	b := newJobBuilder(r)

	var failures []Resolution
	for _, resv := range r.sortedResolvents() {
		res, _ := r.sel.get(resv)
		switch res.Decision.Kind {
		case DecisionUnableToMake:
			failures = append(failures, *res)
		case DecisionChangesToMake:
			if allUntaken(res.Seen) {
				b.jobOf[resv] = b.add(JobUntakenInstall, *res)
				continue
			}
			fetch := b.add(JobFetch, *res)
			kind := JobSimpleInstall
			if resv.Destination == DestCreateBinary {
				kind = JobUsable
			}
			install := b.add(kind, *res)
			b.jobs[install].Arrows = append(b.jobs[install].Arrows, Arrow{From: fetch, Kind: ArrowBuild})
			b.jobOf[resv] = install
			if kind == JobSimpleInstall {
				// Marker that fires once the install finishes and the id may
				// satisfy runtime dependencies.
				usable := b.add(JobUsable, *res)
				b.jobs[usable].Arrows = append(b.jobs[usable].Arrows, Arrow{From: install, Kind: ArrowRuntime})
			}
			for _, rem := range res.Decision.Dest.Replacing {
				un := b.add(JobUninstall, Resolution{Resolvent: resv, Decision: Decision{Kind: DecisionRemove, ToRemove: []*PackageId{rem}}})
				b.jobs[un].Arrows = append(b.jobs[un].Arrows, Arrow{From: install, Kind: ArrowRuntime})
			}
		case DecisionRemove:
			un := b.add(JobUninstall, *res)
			b.jobOf[resv] = un
		case DecisionExistingNoChange, DecisionNothingNoChange:
			// No job: nothing changes for this resolvent.
		}
	}

	b.linkDependencyArrows()
	taken, untaken := b.breakCyclesAndSort()

	// An unable decision does not discard the rest of the plan: it becomes
	// a display-only job on the taken-errors list, and the first one is
	// also surfaced as a ResolutionError so callers can exit non-zero.
	var takenErrors []JobId
	for _, f := range failures {
		takenErrors = append(takenErrors, b.add(JobUntakenInstall, f))
	}

	var all []Resolution
	for _, resv := range r.sortedResolvents() {
		res, _ := r.sel.get(resv)
		all = append(all, *res)
	}

	lists := &ResolverLists{
		Taken:       taken,
		Untaken:     untaken,
		TakenErrors: takenErrors,
		All:         all,
		Jobs:        b.jobs,
	}
	if len(failures) > 0 {
		f := failures[0]
		return lists, &ResolutionError{
			Resolvent:  f.Resolvent,
			Candidates: f.Decision.Unsuitable,
			Unmet:      f.Decision.AllUnmet,
		}
	}
	return lists, nil
}

// linkDependencyArrows walks every built job's SanitisedIfTaken list
// (uninstall jobs excepted) and
// adds an Arrow from the dependency's own job (if one exists) using the
// label-implied ArrowKind. A dependency job that does not exist (its
// resolvent resolved to ExistingNoChange/NothingNoChange) contributes no
// edge, since nothing needs to happen first.
func (b *jobBuilder) linkDependencyArrows() {
	for _, job := range b.jobs {
		if job.Kind == JobUninstall {
			continue
		}
		for _, dep := range job.Resolution.SanitisedIfTaken {
			for _, childResv := range b.r.resolventsFor(dep) {
				depJobID, ok := b.jobOf[childResv]
				if !ok || depJobID == job.ID {
					continue
				}
				job.Arrows = append(job.Arrows, Arrow{From: depJobID, Kind: arrowKindFor(dep.Labels)})
			}
		}
	}
}

func arrowKindFor(labels activeLabelSet) ArrowKind {
	switch {
	case labels.has(LabelPost):
		return ArrowPost
	case labels.has(LabelCompileAgainst):
		return ArrowBuildAgainst
	case labels.has(LabelRun):
		return ArrowRuntime
	default:
		return ArrowBuild
	}
}

// breakCyclesAndSort removes one post edge from each cycle made up only
// of post edges, then one runtime edge from each cycle made up only of
// runtime edges, directly on the Arrow adjacency; which edge goes does not
// depend on whether a package is already installed, and cycles that mix
// arrow kinds are not broken here. The remaining edge set goes to
// go-toposort for the final deterministic order.
// Jobs spawned only by a discarded suggestion land on the untaken list.
func (b *jobBuilder) breakCyclesAndSort() (taken, untaken []JobId) {
	ids := make([]JobId, 0, len(b.jobs))
	for id := range b.jobs {
		if b.onlyUntakenReasons(id) {
			untaken = append(untaken, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	sort.Slice(untaken, func(i, j int) bool { return untaken[i] < untaken[j] })

	for _, kind := range []ArrowKind{ArrowPost, ArrowRuntime} {
		for {
			cyc := b.findCycleEdge(kind)
			if cyc == nil {
				break
			}
			b.removeArrow(cyc.jobID, cyc.arrowIdx)
		}
	}

	g := toposort.NewGraph(len(ids))
	names := make(map[JobId]string, len(ids))
	for _, id := range ids {
		name := idName(id)
		names[id] = name
		g.AddNode(name)
	}
	for _, id := range ids {
		for _, a := range b.jobs[id].Arrows {
			if _, kept := names[a.From]; !kept {
				continue
			}
			g.AddEdge(names[a.From], names[id])
		}
	}
	sortedNames, ok := g.Toposort()
	if !ok {
		// A residual cycle slipped past the preference-order breaking
		// above; fall back to id order rather than fail outright, since
		// ordering is advisory for jobs within a now-inconsistent graph.
		return ids, untaken
	}
	byName := make(map[string]JobId, len(ids))
	for _, id := range ids {
		byName[names[id]] = id
	}
	for _, n := range sortedNames {
		taken = append(taken, byName[n])
	}
	return taken, untaken
}

// onlyUntakenReasons reports whether every constraint recorded on a job's
// resolution is marked untaken (a suggestion the session chose not to
// follow): such a job is kept for display but never scheduled.
func (b *jobBuilder) onlyUntakenReasons(id JobId) bool {
	seen := b.jobs[id].Resolution.Seen
	if len(seen) == 0 {
		return false
	}
	for _, c := range seen {
		if !c.Untaken {
			return false
		}
	}
	return true
}

func idName(id JobId) string {
	return "job" + strconv.Itoa(int(id))
}

type cycleEdge struct {
	jobID    JobId
	arrowIdx int
}

// findCycleEdge runs a DFS looking for a back-edge among arrows of the
// given kind only, returning the first such edge found (the edge nearest
// the bottom of the DFS stack, i.e. the one that actually closes the
// cycle).
func (b *jobBuilder) findCycleEdge(kind ArrowKind) *cycleEdge {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[JobId]int, len(b.jobs))

	var found *cycleEdge

	var visit func(id JobId)
	visit = func(id JobId) {
		if found != nil || color[id] == black {
			return
		}
		color[id] = grey
		for idx, a := range b.jobs[id].Arrows {
			if found != nil {
				return
			}
			if a.Kind != kind {
				continue
			}
			if color[a.From] == grey {
				found = &cycleEdge{jobID: id, arrowIdx: idx}
				return
			}
			if color[a.From] == white {
				visit(a.From)
			}
		}
		color[id] = black
	}

	ids := make([]JobId, 0, len(b.jobs))
	for id := range b.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
		if found != nil {
			break
		}
	}
	return found
}

func (b *jobBuilder) removeArrow(id JobId, idx int) {
	j := b.jobs[id]
	j.Arrows = append(j.Arrows[:idx], j.Arrows[idx+1:]...)
}
