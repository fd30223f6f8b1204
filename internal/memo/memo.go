// Package memo is an explicit, session-scoped file-hash cache: one
// bolt.DB opened once at the session root and closed when the session
// ends, rather than a singleton held in a package-level global, giving
// it a lifetime tied to the session that uses it.
package memo

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var hashesBucket = []byte("hashes")

// Hashes is a bolt-backed cache of file-content MD5 digests keyed on
// path, guarded by the file's recorded size and mtime so a changed file
// is always re-hashed rather than served stale.
type Hashes struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bolt.DB file under dir.
func Open(dir string) (*Hashes, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating memo cache directory %s", dir)
	}
	path := filepath.Join(dir, "hashes.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening memo cache %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(hashesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialising memo cache bucket")
	}
	return &Hashes{db: db}, nil
}

// Close releases the underlying bolt.DB (called once, at session end).
func (h *Hashes) Close() error {
	return errors.Wrap(h.db.Close(), "closing memo cache")
}

// MD5 returns path's content MD5, using a cached value if path's size and
// mtime still match what was recorded, and hashing (then recording)
// otherwise.
func (h *Hashes) MD5(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "stat %s", path)
	}
	key := []byte(path)
	want := encodeStamp(info.Size(), info.ModTime().UnixNano())

	var cached string
	err = h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(hashesBucket)
		v := b.Get(key)
		if len(v) < 8 {
			return nil
		}
		if string(v[:8]) != string(want) {
			return nil
		}
		cached = string(v[8:])
		return nil
	})
	if err != nil {
		return "", err
	}
	if cached != "" {
		return cached, nil
	}

	sum, err := hashFile(path)
	if err != nil {
		return "", err
	}
	err = h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(hashesBucket)
		return b.Put(key, append(want, []byte(sum)...))
	})
	if err != nil {
		return "", errors.Wrap(err, "recording memo cache entry")
	}
	return sum, nil
}

func encodeStamp(size, mtime int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(size)^uint64(mtime))
	return buf
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s for hashing", path)
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "hashing %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
