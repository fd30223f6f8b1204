package cave

import (
	"sort"

	radix "github.com/armon/go-radix"
	"github.com/pkg/errors"
)

// ResolveOptions configures one Resolve call.
type ResolveOptions struct {
	// PermitUninstall allows a block constraint against an installed
	// package to produce a RemoveDecision instead of UnableToMake.
	PermitUninstall bool

	// FollowSuggestions, if false (the default), means LabelSuggest
	// dependencies are never taken automatically; they surface as
	// display-only untaken jobs instead.
	FollowSuggestions bool

	// IgnoreRecommendations, if true, means LabelRecommend dependencies
	// are treated the same as suggestions.
	IgnoreRecommendations bool

	// Pretend is not read by the resolver and is not carried on
	// ResolverLists; whether the executor skips SimpleInstall/Uninstall
	// phases is set separately by ExecutorOptions.Pretend.
	Pretend bool
}

// Target is one requested thing to resolve: a package spec, a blocker, or
// a named set.
type Target struct {
	Spec    PackageSpec
	SetName string
}

// Resolver is the resolver core. One Resolver value serves exactly one
// resolve-to-fixed-point attempt; SuggestRestart causes the outer Resolve
// entry point to construct a fresh Resolver with accumulated presets.
type Resolver struct {
	universe PackageUniverse
	opts     ResolveOptions
	sel      *selection
	presets  map[Resolvent]Constraints
	names    *radix.Tree // package-name index of decided resolvents, for the sanitiser's already-decided lookups
}

func newResolver(universe PackageUniverse, opts ResolveOptions, presets map[Resolvent]Constraints) *Resolver {
	r := &Resolver{
		universe: universe,
		opts:     opts,
		presets:  presets,
		names:    radix.New(),
	}
	r.sel = newSelection(r.unselectedPriority)
	return r
}

// unselectedPriority implements "projects least likely to induce errors at
// the front" with a simple, stable heuristic: resolvents with
// fewer currently-known constraints are less constrained and thus safer
// to explore first.
func (r *Resolver) unselectedPriority(a, b worklistEntry) bool {
	ra, _ := r.sel.get(a.resolvent)
	rb, _ := r.sel.get(b.resolvent)
	la, lb := 0, 0
	if ra != nil {
		la = len(ra.Seen)
	}
	if rb != nil {
		lb = len(rb.Seen)
	}
	if la != lb {
		return la < lb
	}
	return a.priority < b.priority
}

// Resolve is the public, restart-handling entry point. It constructs a
// fresh Resolver on every restart, merging accumulated presets, until a
// fixed point is reached with no further restarts requested. Termination
// is guaranteed because the preset set is monotonically growing and
// bounded by |Resolvents|x|Candidates|.
func Resolve(universe PackageUniverse, targets []Target, opts ResolveOptions) (*ResolverLists, error) {
	presets := make(map[Resolvent]Constraints)
	for attempt := 0; ; attempt++ {
		r := newResolver(universe, opts, presets)
		lists, restart, err := r.run(targets)
		if err != nil {
			return lists, err
		}
		if restart == nil {
			return lists, nil
		}
		for _, existing := range presets[restart.resolvent] {
			if constraintEqual(existing, restart.preset) {
				// A restart that re-presets an identical constraint makes no
				// progress and would loop forever; that is a programming
				// error, not resolver state.
				invariant(false, "restart requested twice for %s without new preset progress", restart.resolvent)
			}
		}
		presets[restart.resolvent] = append(presets[restart.resolvent], restart.preset)
	}
}

// run performs one full resolve attempt to a fixed point, seeded with the
// given targets and the Resolver's accumulated presets. It returns a
// non-nil *restartNeeded (never an error) when a restart condition is
// raised partway through.
func (r *Resolver) run(targets []Target) (*ResolverLists, *restartNeeded, error) {
	for _, t := range targets {
		if err := r.seedTarget(t); err != nil {
			return nil, nil, err
		}
	}
	for root, cs := range r.presets {
		res := r.sel.touch(root)
		res.Seen = append(res.Seen, cs...)
		r.sel.work.push(root, 0)
	}

	for {
		resv, has := r.sel.work.pop()
		if !has {
			break
		}
		if restart, err := r.step(resv); err != nil {
			return nil, nil, err
		} else if restart != nil {
			return nil, restart, nil
		}
	}

	lists, err := r.order()
	return lists, nil, err
}

// constraintEqual compares two Constraints by the fields that matter for
// "is this the same restriction" (PackageSpec embeds a slice, so it is not
// itself comparable with ==).
func constraintEqual(a, b Constraint) bool {
	return a.Spec.String() == b.Spec.String() &&
		a.Destination == b.Destination &&
		a.UseExisting == b.UseExisting &&
		a.Untaken == b.Untaken &&
		a.Reason.Kind == b.Reason.Kind
}

func (r *Resolver) seedTarget(t Target) error {
	if t.SetName != "" {
		// Named sets are expanded by external tooling; callers that need
		// richer set semantics pre-expand them into per-package Targets
		// before calling Resolve.
		return nil
	}
	resv := Resolvent{Name: t.Spec.Name, Slot: t.Spec.Slot, Destination: DestInstallToSlash}
	if t.Spec.AnySlot {
		resv.Slot = AnySlot
	}
	res := r.sel.touch(resv)
	res.Seen = append(res.Seen, Constraint{
		Spec:        t.Spec,
		Destination: resv.Destination,
		UseExisting: UseExistingIfPossible,
		Reason:      Reason{Kind: ReasonTarget, TargetSpec: t.Spec.String()},
	})
	r.sel.work.push(resv, 0)
	r.names.Insert(t.Spec.Name.String(), resv)
	return nil
}

// step processes one popped Resolvent: gathers its constraints, decides
// it, and propagates its dependencies. It returns a non-nil
// *restartNeeded if propagation discovers a constraint violating an
// already-decided child.
func (r *Resolver) step(resv Resolvent) (*restartNeeded, error) {
	res := r.sel.touch(resv)

	for _, preset := range r.presets[resv] {
		already := false
		for _, c := range res.Seen {
			if constraintEqual(c, preset) {
				already = true
				break
			}
		}
		if !already {
			res.Seen = append(res.Seen, preset)
		}
	}

	decision, err := r.decide(resv, res.Seen)
	if err != nil {
		return nil, err
	}
	res.Decision = decision

	id := decision.ChosenID()
	if id == nil {
		return nil, nil
	}
	r.names.Insert(resv.Name.String(), resv)

	return r.propagateDependencies(resv, res, id)
}

// decide runs candidate enumeration, masking, best-candidate selection,
// and the ExistingNoChange vs. ChangesToMake choice for one resolvent.
func (r *Resolver) decide(resv Resolvent, constraints Constraints) (Decision, error) {
	if blockOnly(constraints) {
		return r.decideBlock(resv, constraints)
	}

	candidates, err := r.universe.IdsForPackage(resv.Name)
	if err != nil {
		return Decision{}, errors.Wrap(err, "listing candidates for "+resv.Name.String())
	}

	var unsuitable []UnsuitableCandidate
	var unmet []UnmetConstraintDetail
	var best *PackageId

	for _, cand := range candidates {
		if err := cand.validate(); err != nil {
			unsuitable = append(unsuitable, UnsuitableCandidate{ID: cand, Reason: err.Error()})
			continue
		}
		if resv.Slot != AnySlot && cand.SlotName != resv.Slot {
			continue
		}
		if masked, reason := r.universe.Masked(cand); masked {
			unsuitable = append(unsuitable, UnsuitableCandidate{ID: cand, Reason: "masked: " + reason})
			continue
		}
		rejected := false
		for _, c := range constraints {
			if !c.Matches(cand) {
				rejected = true
				unmet = append(unmet, UnmetConstraintDetail{Constraint: c, Reason: "does not match " + cand.String()})
				break
			}
		}
		if rejected {
			unsuitable = append(unsuitable, UnsuitableCandidate{ID: cand, Reason: "unmet constraint"})
			continue
		}
		if best == nil || bestBeats(cand, best, r.universe) {
			best = cand
		}
	}

	if best == nil {
		if constraints.anyNothingIsFineToo() {
			return Decision{Kind: DecisionNothingNoChange}, nil
		}
		return Decision{Kind: DecisionUnableToMake, Unsuitable: unsuitable, AllUnmet: unmet}, nil
	}

	if best.IsInstalled {
		allPermit := true
		for _, c := range constraints {
			if !c.permitsExisting(best, false, true, true) {
				allPermit = false
				break
			}
		}
		if allPermit {
			return Decision{Kind: DecisionExistingNoChange, ExistingID: best, IsBest: true}, nil
		}
	}

	var replacing []*PackageId
	installed, _ := r.universe.Installed()
	for _, inst := range installed {
		if inst.Name == resv.Name && (resv.Slot == AnySlot || inst.SlotName == resv.Slot) {
			replacing = append(replacing, inst)
		}
	}

	return Decision{
		Kind:     DecisionChangesToMake,
		OriginID: best,
		Dest: Destination{
			Repository: findRepositoryFor(best, r.universe),
			Replacing:  replacing,
		},
	}, nil
}

// bestBeats reports whether cand beats cur: the higher version wins; at
// equal versions an installed candidate beats an uninstalled one (the
// constraints' use-existing policies are not consulted here), then the
// repository with the lower RepositoryPriority wins.
func bestBeats(cand, cur *PackageId, universe PackageUniverse) bool {
	if cand.Ver.Equal(cur.Ver) {
		if cand.IsInstalled != cur.IsInstalled {
			return cand.IsInstalled
		}
		return universe.RepositoryPriority(cand.Repository) < universe.RepositoryPriority(cur.Repository)
	}
	return cur.Ver.Less(cand.Ver)
}

func findRepositoryFor(id *PackageId, universe PackageUniverse) string {
	return id.Repository
}

// blockOnly reports whether every constraint on this resolvent is a
// blocker (i.e. the resolvent exists only to be forbidden, never chosen).
func blockOnly(constraints Constraints) bool {
	if len(constraints) == 0 {
		return false
	}
	for _, c := range constraints {
		if !c.Spec.Block && !c.Spec.StrongBlock {
			return false
		}
	}
	return true
}

// decideBlock handles a block constraint against an installed package:
// it produces a RemoveDecision when PermitUninstall is set, else
// UnableToMake citing the block.
func (r *Resolver) decideBlock(resv Resolvent, constraints Constraints) (Decision, error) {
	installed, err := r.universe.Installed()
	if err != nil {
		return Decision{}, errors.Wrap(err, "listing installed packages")
	}
	var hit []*PackageId
	for _, id := range installed {
		if id.Name != resv.Name {
			continue
		}
		for _, c := range constraints {
			if c.Matches(id) {
				hit = append(hit, id)
				break
			}
		}
	}
	if len(hit) == 0 {
		return Decision{Kind: DecisionNothingNoChange}, nil
	}
	if !r.opts.PermitUninstall {
		var unmet []UnmetConstraintDetail
		for _, c := range constraints {
			unmet = append(unmet, UnmetConstraintDetail{Constraint: c, Reason: "blocks installed " + hit[0].String()})
		}
		return Decision{Kind: DecisionUnableToMake, AllUnmet: unmet}, nil
	}
	return Decision{Kind: DecisionRemove, ToRemove: hit}, nil
}

// propagateDependencies sanitises the chosen id's dependency keys,
// derives child resolvents and constraints for every dep the session
// cares about, and detects restart conditions.
func (r *Resolver) propagateDependencies(resv Resolvent, res *Resolution, id *PackageId) (*restartNeeded, error) {
	choices := r.universe.Choices(id)
	sctx := sanitiseContext{
		choices: choices,
		installed: func(n QualifiedPackageName) (*PackageId, bool) {
			inst, _ := r.universe.Installed()
			for _, i := range inst {
				if i.Name == n {
					return i, true
				}
			}
			return nil, false
		},
		alreadyDecided: func(n QualifiedPackageName) (*PackageId, bool) {
			v, ok := r.names.Get(n.String())
			if !ok {
				return nil, false
			}
			decided, ok := r.sel.get(v.(Resolvent))
			if !ok {
				return nil, false
			}
			if chosen := decided.Decision.ChosenID(); chosen != nil {
				return chosen, true
			}
			return nil, false
		},
		unmasked: func(spec PackageSpec) (*PackageId, bool) {
			ids, err := r.universe.IdsForPackage(spec.Name)
			if err != nil {
				return nil, false
			}
			for _, cand := range ids {
				if masked, _ := r.universe.Masked(cand); masked {
					continue
				}
				if spec.MatchesVersion(cand.Ver) {
					return cand, true
				}
			}
			return nil, false
		},
	}

	var all []SanitisedDependency
	all = append(all, Sanitise(id.Build, CtxDepend, "DEPEND", sctx)...)
	all = append(all, Sanitise(id.Run, CtxRdepend, "RDEPEND", sctx)...)
	all = append(all, Sanitise(id.Post, CtxPdepend, "PDEPEND", sctx)...)
	all = append(all, Sanitise(id.CompileAgainst, CtxDepend, "DEPEND", sctx)...)
	all = append(all, Sanitise(id.Suggest, CtxDepend, "DEPEND", sctx)...)
	all = append(all, Sanitise(id.Recommend, CtxDepend, "DEPEND", sctx)...)
	res.SanitisedIfTaken = all

	parentUntaken := allUntaken(res.Seen)
	for _, dep := range all {
		untakenDep := parentUntaken || r.depUntaken(dep)
		for _, childResv := range r.resolventsFor(dep) {
			c := Constraint{
				Spec:        dep.Spec,
				Destination: childResv.Destination,
				UseExisting: defaultUseExisting(dep.Labels),
				Untaken:     untakenDep,
				Reason:      Reason{Kind: ReasonDependency, SourceID: id, Dependency: dep},
			}

			childRes := r.sel.touch(childResv)
			if !untakenDep && childRes.Decision.Kind != DecisionNothingNoChange && childRes.Decision.ChosenID() != nil {
				if !c.Matches(childRes.Decision.ChosenID()) {
					return &restartNeeded{resolvent: childResv, preset: c}, nil
				}
			}

			// Skip re-adding a constraint the child has already seen: without
			// this, a dependency cycle (A->B->A) re-derives the same edge
			// forever, since re-examining A always re-derives its constraint
			// on B and vice versa. Only genuinely new information re-queues
			// the child for re-examination.
			alreadySeen := false
			for _, sc := range childRes.Seen {
				if constraintEqual(sc, c) {
					alreadySeen = true
					break
				}
			}
			if alreadySeen {
				continue
			}
			childRes.Seen = append(childRes.Seen, c)
			r.sel.work.push(childResv, len(childRes.Seen))
		}
	}
	return nil, nil
}

// depUntaken reports whether a dependency is carried for display only:
// a suggestion the session is not following, or a recommendation it was
// told to ignore.
func (r *Resolver) depUntaken(dep SanitisedDependency) bool {
	if dep.Labels.has(LabelSuggest) && !r.opts.FollowSuggestions {
		return true
	}
	if dep.Labels.has(LabelRecommend) && r.opts.IgnoreRecommendations {
		return true
	}
	return false
}

// allUntaken reports whether cs is non-empty and entirely untaken.
func allUntaken(cs Constraints) bool {
	if len(cs) == 0 {
		return false
	}
	for _, c := range cs {
		if !c.Untaken {
			return false
		}
	}
	return true
}

// resolventsFor derives the child resolvents for a dependency. Slot
// policy currently maps each dependency to one resolvent; a spec with no
// explicit slot resolves against the any-slot resolvent.
func (r *Resolver) resolventsFor(dep SanitisedDependency) []Resolvent {
	slot := dep.Spec.Slot
	if dep.Spec.AnySlot {
		slot = AnySlot
	}
	return []Resolvent{{Name: dep.Spec.Name, Slot: slot, Destination: DestInstallToSlash}}
}

// sortedResolvents returns every resolvent touched during this resolve,
// sorted by string form. Map iteration order is not stable, and display
// output must be identical for identical inputs.
func (r *Resolver) sortedResolvents() []Resolvent {
	out := make([]Resolvent, 0, len(r.sel.res))
	for rv := range r.sel.res {
		out = append(out, rv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
