package cave

// DestinationType distinguishes where a resolvent's chosen package should
// end up.
type DestinationType int

const (
	DestInstallToSlash DestinationType = iota
	DestCreateBinary
)

func (d DestinationType) String() string {
	if d == DestCreateBinary {
		return "create-binary"
	}
	return "install-to-slash"
}

// UseExistingPolicy governs whether an already-installed candidate may
// satisfy a constraint without being rebuilt.
type UseExistingPolicy int

const (
	UseExistingNever UseExistingPolicy = iota
	UseExistingIfTransient
	UseExistingIfSame
	UseExistingIfSameVersion
	UseExistingIfPossible
)

// Resolvent is the resolver's unit of work: (package, slot-or-any,
// destination). Equality is structural.
type Resolvent struct {
	Name        QualifiedPackageName
	Slot        Slot // AnySlot means "any slot is acceptable"
	Destination DestinationType
}

func (r Resolvent) String() string {
	slot := string(r.Slot)
	if r.Slot == AnySlot {
		slot = "*"
	}
	return r.Name.String() + ":" + slot + "@" + r.Destination.String()
}

// ReasonKind tags which variant a Reason carries.
type ReasonKind int

const (
	ReasonTarget ReasonKind = iota
	ReasonSet
	ReasonDependency
	ReasonPreset
	ReasonViaBinary
)

// Reason explains why a Constraint exists. Exactly the fields relevant
// to Kind are populated; a single struct tagged by Kind, rather than one
// interface type per reason kind, since Reason carries no behavior of
// its own beyond data and a String().
type Reason struct {
	Kind ReasonKind

	// ReasonTarget: TargetSpec holds the originally-requested spec text.
	TargetSpec string

	// ReasonSet: SetName holds the named package set.
	SetName string

	// ReasonDependency: SourceID is the depending package; Dependency is
	// the sanitised dependency that produced this constraint.
	SourceID   *PackageId
	Dependency SanitisedDependency

	// ReasonPreset: carries no extra data beyond Kind; presets come from
	// restart accumulation.

	// ReasonViaBinary: BinaryOf names the source package a binary
	// (create-binary) resolvent was derived from.
	BinaryOf QualifiedPackageName
}

func (r Reason) String() string {
	switch r.Kind {
	case ReasonTarget:
		return "target " + r.TargetSpec
	case ReasonSet:
		return "set " + r.SetName
	case ReasonDependency:
		return r.SourceID.String() + " -> " + r.Dependency.OriginalSpecString
	case ReasonPreset:
		return "preset from restart"
	case ReasonViaBinary:
		return "via binary of " + r.BinaryOf.String()
	default:
		return "unknown reason"
	}
}

// Constraint is one restriction placed on a Resolvent.
type Constraint struct {
	Spec             PackageSpec
	Destination      DestinationType
	UseExisting      UseExistingPolicy
	NothingIsFineToo bool
	Untaken          bool
	Reason           Reason
}

func (c Constraint) String() string { return c.Spec.String() }

// Matches reports whether id satisfies c's spec, independent of
// use-existing policy (which is a separate, resolver-driven decision).
func (c Constraint) Matches(id *PackageId) bool {
	if c.Spec.Name != id.Name {
		return false
	}
	if !c.Spec.MatchesVersion(id.Ver) {
		return false
	}
	if !c.Spec.AnySlot && c.Spec.Slot != "" && c.Spec.Slot != id.SlotName {
		return false
	}
	if c.Spec.Repository != "" && c.Spec.Repository != id.Repository {
		return false
	}
	return true
}

// permitsExisting reports whether an already-installed id may satisfy c
// under c's UseExisting policy, given whether id is the best available
// version and whether it is "transient" (installed by a previous,
// discarded tentative decision within the same resolve).
func (c Constraint) permitsExisting(id *PackageId, isTransient, isBest bool, sameVersionAsBest bool) bool {
	switch c.UseExisting {
	case UseExistingNever:
		return false
	case UseExistingIfTransient:
		return isTransient
	case UseExistingIfSame:
		return isBest
	case UseExistingIfSameVersion:
		return sameVersionAsBest
	case UseExistingIfPossible:
		return true
	default:
		return false
	}
}

// defaultUseExisting picks the use-existing policy implied by a
// dependency's label set: build-only dependencies from installed
// packages default to if-same, runtime dependencies default to
// if-possible, and anything else conservatively defaults to never.
func defaultUseExisting(labels activeLabelSet) UseExistingPolicy {
	switch {
	case labels.has(LabelRun) || labels.has(LabelPost):
		return UseExistingIfPossible
	case labels.has(LabelBuild) || labels.has(LabelCompileAgainst):
		return UseExistingIfSame
	default:
		return UseExistingNever
	}
}

// Constraints is the accumulated constraint set for one Resolvent.
type Constraints []Constraint

// anyNothingIsFineToo reports whether any constraint in the set permits
// "nothing" as a satisfying outcome.
func (cs Constraints) anyNothingIsFineToo() bool {
	for _, c := range cs {
		if c.NothingIsFineToo {
			return true
		}
	}
	return false
}
