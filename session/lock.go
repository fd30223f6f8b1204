package session

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/theckman/go-flock"
)

// vdbLock is the process-exclusive lock over one VDB root, obtained
// before the first mutation and released on exit: a non-blocking
// attempt, failing loudly rather than waiting forever on a concurrent
// cave run.
type vdbLock struct {
	fl *flock.Flock
}

func acquireVDBLock(root string) (*vdbLock, error) {
	path := filepath.Join(root, ".cave.lock")
	fl := flock.NewFlock(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "locking VDB root %s", root)
	}
	if !locked {
		return nil, errors.Errorf("VDB root %s is locked by another cave run", root)
	}
	return &vdbLock{fl: fl}, nil
}

func (l *vdbLock) release() error {
	return errors.Wrap(l.fl.Unlock(), "releasing VDB lock")
}
