package cave

import (
	"log"

	"github.com/pkg/errors"
)

// ContinuationPolicy governs what the executor does when a job fails.
type ContinuationPolicy int

const (
	ContinueIfFetching ContinuationPolicy = iota
	ContinueNever
	ContinueIfSatisfied
	ContinueIfIndependent
	ContinueAlways
)

// Merger is the collaborator the executor calls for every
// SimpleInstall/Uninstall job; it is implemented by the merge package so
// that this package carries no filesystem dependency of its own.
type Merger interface {
	Merge(imageDir, rootDir string, id *PackageId, replacing []*PackageId) error
	Unmerge(rootDir string, id *PackageId) error
}

// ExecutorOptions configures one Execute call.
type ExecutorOptions struct {
	Continuation ContinuationPolicy
	Pretend      bool
	Logger       *log.Logger
}

// Executor runs an ordered ResolverLists against a BuildBackend and
// Merger, tracing progress through a plain *log.Logger rather than a
// structured-logging framework.
type Executor struct {
	backend BuildBackend
	merger  Merger
	opts    ExecutorOptions
	env     PhaseEnv
	log     *log.Logger
}

func NewExecutor(backend BuildBackend, merger Merger, env PhaseEnv, opts ExecutorOptions) *Executor {
	l := opts.Logger
	if l == nil {
		l = log.New(log.Writer(), "cave/executor: ", log.LstdFlags)
	}
	return &Executor{backend: backend, merger: merger, opts: opts, env: env, log: l}
}

// Execute runs every taken job in lists.Taken order, stopping or skipping
// downstream work per the configured ContinuationPolicy on failure.
func (e *Executor) Execute(lists *ResolverLists) error {
	failed := make(map[JobId]bool)

	for _, id := range lists.Taken {
		job, ok := lists.Jobs[id]
		if !ok {
			continue
		}

		if e.anyUpstreamFailed(job, failed) {
			if !e.continuePast(job, failed) {
				return errors.Errorf("aborting: upstream failure blocks job %s", job)
			}
			failed[id] = true
			continue
		}

		if err := e.runJob(job); err != nil {
			e.log.Printf("job %s failed: %v", job, err)
			failed[id] = true
			if e.opts.Continuation == ContinueNever {
				return err
			}
			continue
		}
	}
	return nil
}

func (e *Executor) anyUpstreamFailed(job *Job, failed map[JobId]bool) bool {
	for _, a := range job.Arrows {
		if failed[a.From] {
			return true
		}
	}
	return false
}

// continuePast decides, per the configured ContinuationPolicy, whether a
// job whose upstream failed may still be skipped rather than aborting the
// whole run.
func (e *Executor) continuePast(job *Job, failed map[JobId]bool) bool {
	switch e.opts.Continuation {
	case ContinueAlways:
		return true
	case ContinueIfIndependent:
		for _, a := range job.Arrows {
			if a.Kind == ArrowBuild && failed[a.From] {
				return false
			}
		}
		return true
	case ContinueIfSatisfied:
		return job.Kind == JobUsable || job.Kind == JobSyncPoint
	case ContinueIfFetching:
		return job.Kind == JobFetch
	default:
		return false
	}
}

func (e *Executor) runJob(job *Job) error {
	id := job.Resolution.Decision.ChosenID()

	switch job.Kind {
	case JobFetch:
		if id == nil {
			return nil
		}
		code, err := e.backend.RunPhase(id, "fetch", e.env)
		if err != nil {
			return &FetchFailed{Distfile: id.String(), Cause: err}
		}
		if code != 0 {
			return &FetchFailed{Distfile: id.String(), Cause: errors.Errorf("exit %d", code)}
		}
		return nil

	case JobPretend:
		if id == nil {
			return nil
		}
		code, err := e.backend.RunPhase(id, "pretend", e.env)
		if err != nil || code != 0 {
			return &PhaseFailed{Phase: "pretend", ID: id, ExitCode: code, Cause: err}
		}
		return nil

	case JobSimpleInstall:
		if id == nil {
			return nil
		}
		if e.opts.Pretend {
			return nil
		}
		for _, phase := range []string{"src_unpack", "src_compile", "src_test", "src_install"} {
			code, err := e.backend.RunPhase(id, phase, e.env)
			if err != nil || code != 0 {
				return &PhaseFailed{Phase: phase, ID: id, ExitCode: code, Cause: err}
			}
		}
		if err := e.merger.Merge(e.env.TmpDir+"/image", e.env.Root, id, job.Resolution.Decision.Dest.Replacing); err != nil {
			return &MergeFailed{Path: e.env.Root, Cause: err}
		}
		code, err := e.backend.RunPhase(id, "post_install", e.env)
		if err != nil || code != 0 {
			return &PhaseFailed{Phase: "post_install", ID: id, ExitCode: code, Cause: err}
		}
		return nil

	case JobUninstall:
		if e.opts.Pretend {
			return nil
		}
		for _, rem := range job.Resolution.Decision.ToRemove {
			code, err := e.backend.RunPhase(rem, "pre_rm", e.env)
			if err != nil || code != 0 {
				return &PhaseFailed{Phase: "pre_rm", ID: rem, ExitCode: code, Cause: err}
			}
			if err := e.merger.Unmerge(e.env.Root, rem); err != nil {
				return &MergeFailed{Path: e.env.Root, Cause: err}
			}
			code, err = e.backend.RunPhase(rem, "post_rm", e.env)
			if err != nil || code != 0 {
				return &PhaseFailed{Phase: "post_rm", ID: rem, ExitCode: code, Cause: err}
			}
		}
		return nil

	case JobUsable, JobSyncPoint, JobUntakenInstall:
		return nil

	default:
		invariant(false, "unhandled job kind %v in executor", job.Kind)
		return nil
	}
}
