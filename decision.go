package cave

// DecisionKind tags which Decision variant is populated.
type DecisionKind int

const (
	DecisionNothingNoChange DecisionKind = iota
	DecisionExistingNoChange
	DecisionChangesToMake
	DecisionRemove
	DecisionUnableToMake
)

// UnsuitableCandidate records why one candidate PackageId was rejected,
// for the user-visible failure report.
type UnsuitableCandidate struct {
	ID     *PackageId
	Reason string
}

// Destination names the repository a ChangesToMake decision will install
// into, plus the set of installed ids (same slot) it replaces.
type Destination struct {
	Repository string
	Replacing  []*PackageId
}

// Decision is the resolver's per-Resolvent output. Exactly the
// fields relevant to Kind are populated.
type Decision struct {
	Kind DecisionKind

	// DecisionExistingNoChange
	ExistingID  *PackageId
	IsTransient bool
	IsBest      bool

	// DecisionChangesToMake
	OriginID *PackageId
	Dest     Destination

	// DecisionRemove
	ToRemove []*PackageId

	// DecisionUnableToMake
	Unsuitable []UnsuitableCandidate
	AllUnmet   []UnmetConstraintDetail
}

func (d Decision) String() string {
	switch d.Kind {
	case DecisionNothingNoChange:
		return "nothing to do"
	case DecisionExistingNoChange:
		return "keep " + d.ExistingID.String()
	case DecisionChangesToMake:
		return "install " + d.OriginID.String() + " to " + d.Dest.Repository
	case DecisionRemove:
		s := "remove"
		for _, r := range d.ToRemove {
			s += " " + r.String()
		}
		return s
	case DecisionUnableToMake:
		return "unable to make a decision"
	default:
		return "unknown decision"
	}
}

// ChosenID returns the PackageId a taken decision installs or keeps, or
// nil for decisions with no associated id (NothingNoChange, Remove,
// UnableToMake).
func (d Decision) ChosenID() *PackageId {
	switch d.Kind {
	case DecisionExistingNoChange:
		return d.ExistingID
	case DecisionChangesToMake:
		return d.OriginID
	default:
		return nil
	}
}

// Resolution is one Resolvent's accumulated state: its Decision plus every
// constraint seen so far and, if taken, the dependencies its chosen
// package will contribute.
type Resolution struct {
	Resolvent   Resolvent
	Decision    Decision
	Seen        Constraints
	SanitisedIfTaken []SanitisedDependency
}

// ResolverLists is the resolver's final output: ordered taken
// job IDs, untaken (suggestion-only, discarded) job IDs, taken errors, all
// resolutions, and a job store indexed by JobId.
type ResolverLists struct {
	Taken       []JobId
	Untaken     []JobId
	TakenErrors []JobId
	All         []Resolution
	Jobs        map[JobId]*Job
}
