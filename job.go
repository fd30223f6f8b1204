package cave

// JobId identifies one Job within a resolve's ResolverLists. It is stable
// within a single resolve/execute run and is the key used by the wire
// serialisation to refer to jobs without re-embedding them.
type JobId int

// JobKind tags a Job's variant.
type JobKind int

const (
	JobFetch JobKind = iota
	JobPretend
	JobSimpleInstall
	JobUsable
	JobSyncPoint
	JobUntakenInstall
	JobUninstall
)

func (k JobKind) String() string {
	switch k {
	case JobFetch:
		return "fetch"
	case JobPretend:
		return "pretend"
	case JobSimpleInstall:
		return "install"
	case JobUsable:
		return "usable"
	case JobSyncPoint:
		return "sync-point"
	case JobUntakenInstall:
		return "untaken-install"
	case JobUninstall:
		return "uninstall"
	default:
		return "unknown"
	}
}

// ArrowKind tags one typed predecessor edge between jobs.
type ArrowKind int

const (
	ArrowBuild ArrowKind = iota
	ArrowBuildAgainst
	ArrowRuntime
	ArrowPost
)

func (k ArrowKind) String() string {
	switch k {
	case ArrowBuild:
		return "build"
	case ArrowBuildAgainst:
		return "build-against"
	case ArrowRuntime:
		return "runtime"
	case ArrowPost:
		return "post"
	default:
		return "unknown"
	}
}

// Arrow is one typed predecessor edge: From must be satisfied according to
// Kind's rule before To may proceed.
type Arrow struct {
	From JobId
	Kind ArrowKind
}

// Job is one node in the job graph. Every job carries the Resolution that spawned it and
// its inbound Arrows; the set of Arrows across all jobs completely
// determines execution order.
type Job struct {
	ID         JobId
	Kind       JobKind
	Resolution Resolution
	Name       string // named barrier text, only meaningful for JobSyncPoint
	Arrows     []Arrow
}

func (j *Job) String() string {
	if j.Kind == JobSyncPoint {
		return "sync-point " + j.Name
	}
	if id := j.Resolution.Decision.ChosenID(); id != nil {
		return j.Kind.String() + " " + id.String()
	}
	return j.Kind.String() + " " + j.Resolution.Resolvent.String()
}
