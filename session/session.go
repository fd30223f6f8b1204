// Package session ties the resolver, display, and executor halves into
// the end-to-end flows: resolve, display, execute. Its collaborators
// (VDB lock, memo cache) are instantiated once at session start and
// threaded through explicitly rather than held as package-level
// globals.
package session

import (
	"io"
	"log"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/exherbo-go/cave"
	"github.com/exherbo-go/cave/internal/memo"
	"github.com/exherbo-go/cave/serial"
)

// Options configures one end-to-end session.
type Options struct {
	Universe cave.PackageUniverse
	Targets  []cave.Target
	Resolve  cave.ResolveOptions
	Executor cave.ExecutorOptions

	// VDBRoot is locked for the executor phase's duration: obtained
	// before the first mutation and released on exit.
	VDBRoot string

	// MemoDir, if non-empty, backs a session-scoped memoised file-hash
	// cache, opened by New and closed by Close; Hashes exposes it so a
	// merge.Merger can be built with Options.MD5 pointing at it.
	MemoDir string

	Logger *log.Logger
}

// Session is one instantiated run: the resolved plan plus the
// collaborators (lock, memo cache) whose lifetime is scoped to it.
type Session struct {
	opts   Options
	log    *log.Logger
	lock   *vdbLock
	hashes *memo.Hashes
	Lists  *cave.ResolverLists
}

// New resolves opts.Targets against opts.Universe, producing a Session
// whose Lists is ready for display or execution. The memo cache (if
// configured) is opened here so the caller can hand its MD5 method to the
// merger it builds for Execute; the VDB lock is still acquired lazily by
// Execute, immediately before the first mutation. Callers must Close the
// session when done with it.
func New(opts Options) (*Session, error) {
	l := opts.Logger
	if l == nil {
		l = log.New(log.Writer(), "cave/session: ", log.LstdFlags)
	}
	var hashes *memo.Hashes
	if opts.MemoDir != "" {
		var err error
		hashes, err = memo.Open(opts.MemoDir)
		if err != nil {
			return nil, err
		}
	}
	lists, err := cave.Resolve(opts.Universe, opts.Targets, opts.Resolve)
	if err != nil {
		if hashes != nil {
			if cerr := hashes.Close(); cerr != nil {
				l.Printf("closing memo cache: %v", cerr)
			}
		}
		return nil, err
	}
	return &Session{opts: opts, log: l, hashes: hashes, Lists: lists}, nil
}

// Close releases the session-scoped collaborators New opened. It is safe
// to call once, after the last Execute.
func (s *Session) Close() error {
	if s.hashes == nil {
		return nil
	}
	err := s.hashes.Close()
	s.hashes = nil
	return err
}

// WritePlan serialises s.Lists to w in the record wire format, for the
// plan-half process to hand off to a separate execute-half process via
// PALUDIS_SERIALISED_RESOLUTION_FD.
func (s *Session) WritePlan(w io.Writer) error {
	return serial.Serialise(w, s.Lists)
}

// ReadPlan reads a serialised plan for universe from the file descriptor
// named by serial.EnvFD, as an execute-only process does when it did not
// run the resolve step itself.
func ReadPlan(universe cave.PackageUniverse) (*cave.ResolverLists, error) {
	fdStr := os.Getenv(serial.EnvFD)
	if fdStr == "" {
		return nil, errors.Errorf("%s not set", serial.EnvFD)
	}
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s=%q", serial.EnvFD, fdStr)
	}
	f := os.NewFile(uintptr(fd), "cave-serialised-resolution")
	if f == nil {
		return nil, errors.Errorf("%s=%d is not a valid open file descriptor", serial.EnvFD, fd)
	}
	defer f.Close()
	return serial.Deserialise(f, universe)
}

// Execute runs the resolved plan's executor phase: acquires the VDB lock
// (if VDBRoot is set), runs the jobs, and releases the lock on the way
// out. The merger the caller passes in is typically a merge.Merger built
// with Options.MD5 = s.Hashes().MD5 so journal hashing goes through the
// session cache.
func (s *Session) Execute(backend cave.BuildBackend, merger cave.Merger, env cave.PhaseEnv) error {
	if s.opts.VDBRoot != "" {
		lock, err := acquireVDBLock(s.opts.VDBRoot)
		if err != nil {
			return err
		}
		s.lock = lock
		defer func() {
			if err := s.lock.release(); err != nil {
				s.log.Printf("releasing VDB lock: %v", err)
			}
		}()
	}

	exec := cave.NewExecutor(backend, merger, env, s.opts.Executor)
	return exec.Execute(s.Lists)
}

// Hashes exposes the memo-cache handle New opened, for wiring into the
// merger's (or a BuildBackend's) file hashing for this session. Nil if
// MemoDir was unset or the session has been closed.
func (s *Session) Hashes() *memo.Hashes { return s.hashes }
