package cave

import "strings"

// SanitisedDependency is one flattened, concrete constraint extracted from
// a dep-spec tree by the Sanitiser.
type SanitisedDependency struct {
	Spec               PackageSpec
	OriginalSpecString string
	Labels             activeLabelSet
	MetadataKey        string
	ActiveConditions   string // outermost-first "foo? !bar?" text of the conditionals this dep survived
}

// sanitiseContext threads the per-walk state the Sanitiser needs: the
// choosing id's use-flag valuation and a resolver-supplied hook for
// AnyOf's "already present as a decision" rule. A nil
// alreadyDecided is legal — it simply means that rule never fires, which
// is correct when sanitising outside of an active resolve (e.g. display).
type sanitiseContext struct {
	choices        ChoiceSet
	installed      func(QualifiedPackageName) (*PackageId, bool)
	alreadyDecided func(QualifiedPackageName) (*PackageId, bool)
	unmasked       func(PackageSpec) (*PackageId, bool)
}

// Sanitise flattens tree against ctx into an ordered, deterministic list of
// SanitisedDependency. metadataKey is the human-readable
// origin name (e.g. "DEPEND") recorded on every emitted dependency and
// used to seed the initial label stack per labelsForMetadataKey.
func Sanitise(tree DepNode, dctx DepContext, metadataKey string, ctx sanitiseContext) []SanitisedDependency {
	var out []SanitisedDependency
	if tree == nil {
		return out
	}
	walkSanitise(tree, labelsForMetadataKey(dctx), metadataKey, "", ctx, &out)
	return out
}

// conditionText extends the active-conditions string with one more
// conditional wrapper, outermost first: "foo?", then "foo? !bar?", and so
// on down the tree.
func conditionText(active string, c Conditional) string {
	frag := c.Choice + "?"
	if c.Negated {
		frag = "!" + frag
	}
	if active == "" {
		return frag
	}
	return active + " " + frag
}

// walkSanitise is the depth-first flattening walk: a plain recursive
// switch-dispatch over DepNode's concrete types. No separate Visitor
// interface is introduced; Go's type switch already is that dispatch.
func walkSanitise(n DepNode, labels activeLabelSet, metadataKey, activeConds string, ctx sanitiseContext, out *[]SanitisedDependency) (viable bool) {
	switch t := n.(type) {
	case AllOf:
		ok := true
		cur := labels
		for _, c := range t.Children {
			if lbl, isLabel := c.(Label); isLabel {
				cur = newActiveLabelSet(lbl.Kinds...)
				continue
			}
			if !walkSanitise(c, cur, metadataKey, activeConds, ctx, out) {
				ok = false
			}
		}
		return ok

	case AnyOf:
		return sanitiseAnyOf(t, labels, metadataKey, activeConds, ctx, out)

	case Conditional:
		met := ctx.choices.Enabled(t.Choice)
		if t.Negated {
			met = !met
		}
		if !met {
			return true // unmet conditions are dropped, not failures
		}
		return walkSanitise(t.Body, labels, metadataKey, conditionText(activeConds, t), ctx, out)

	case Label:
		// A bare Label outside of an AllOf (uncommon, but not excluded by
		// the grammar) has nothing to retag; treat as a no-op leaf.
		return true

	case Package:
		*out = append(*out, SanitisedDependency{
			Spec:               t.Spec,
			OriginalSpecString: t.Spec.String(),
			Labels:             labels,
			MetadataKey:        metadataKey,
			ActiveConditions:   activeConds,
		})
		return true

	case Block:
		*out = append(*out, SanitisedDependency{
			Spec:               t.Spec,
			OriginalSpecString: blockText(t),
			Labels:             labels,
			MetadataKey:        metadataKey,
			ActiveConditions:   activeConds,
		})
		return true

	case License:
		return true

	case FetchableUri:
		return true

	case SimpleText:
		return true

	default:
		invariant(false, "unhandled DepNode type %T in sanitiser", n)
		return false
	}
}

func blockText(b Block) string {
	prefix := "!"
	if b.Strong {
		prefix = "!!"
	}
	return prefix + b.Spec.String()
}

// sanitiseAnyOf picks exactly one AnyOf child, in order: already
// installed and satisfying the parent constraints, then already a
// resolver decision, then the first concrete unmasked candidate, else the
// whole group contributes nothing (and does not itself fail the parent
// unless the parent directly requires it — the "directly targetted" case
// is handled by the caller continuing to process AllOf siblings normally,
// since an empty AnyOf emits no SanitisedDependency but still returns true
// so sibling processing proceeds). Whatever is emitted carries, as its
// original-spec string for display, the group's text rebuilt from its
// Package children; non-package children are left out of that text.
func sanitiseAnyOf(group AnyOf, labels activeLabelSet, metadataKey, activeConds string, ctx sanitiseContext, out *[]SanitisedDependency) bool {
	emitChosen := func(chosen DepNode) bool {
		before := len(*out)
		ok := walkSanitise(chosen, labels, metadataKey, activeConds, ctx, out)
		for i := before; i < len(*out); i++ {
			(*out)[i].OriginalSpecString = anyOfText(group)
		}
		return ok
	}

	var pkgChildren []Package
	for _, c := range group.Children {
		if p, ok := c.(Package); ok {
			pkgChildren = append(pkgChildren, p)
		}
	}
	if len(pkgChildren) == 0 {
		// Non-package AnyOf (e.g. nested AllOf alternatives): fall back to
		// emitting the first child verbatim, since there is no
		// installed/masked policy to apply to it.
		if len(group.Children) > 0 {
			return emitChosen(group.Children[0])
		}
		return true
	}

	if ctx.installed != nil {
		for _, p := range pkgChildren {
			if id, ok := ctx.installed(p.Spec.Name); ok && p.Spec.MatchesVersion(id.Ver) {
				return emitChosen(p)
			}
		}
	}
	if ctx.alreadyDecided != nil {
		for _, p := range pkgChildren {
			if _, ok := ctx.alreadyDecided(p.Spec.Name); ok {
				return emitChosen(p)
			}
		}
	}
	if ctx.unmasked != nil {
		for _, p := range pkgChildren {
			if _, ok := ctx.unmasked(p.Spec); ok {
				return emitChosen(p)
			}
		}
	}
	// No viable child: contributes nothing, but does not fail the parent.
	return true
}

func anyOfText(group AnyOf) string {
	var parts []string
	for _, c := range group.Children {
		if p, ok := c.(Package); ok {
			parts = append(parts, p.Spec.String())
		}
	}
	return "|| ( " + strings.Join(parts, " ") + " )"
}
