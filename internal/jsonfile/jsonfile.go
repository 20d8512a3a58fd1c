// Package jsonfile implements locked read-modify-write access to the small
// JSON state files ashleyd keeps on disk (the conversation ring and the
// bookmark table, per spec.md §6.7), grounded on the teacher's
// AcquireFlock/ReleaseFlock pair (internal/health/flock.go) but built on
// gofrs/flock so the lock can be held across a read-decode-mutate-encode
// cycle instead of just guarding process startup.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryInterval = 25 * time.Millisecond

// Store guards one JSON file with a sibling .lock file.
type Store struct {
	path string
	lock *flock.Flock
}

// Open returns a Store bound to path. Nothing is created here: the lock
// file is created on the first lock, the file itself on the first write.
func Open(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Update locks the store, decodes the current contents of v's underlying
// file into v (leaving v untouched if the file does not yet exist), runs
// mutate, then writes v back out atomically. v must be a pointer.
func (s *Store) Update(v any, mutate func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	locked, err := s.lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil || !locked {
		return fmt.Errorf("jsonfile: lock %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	if err := s.decode(v); err != nil {
		return err
	}
	if err := mutate(); err != nil {
		return err
	}
	return s.atomicWrite(v)
}

// Read locks the store for the duration of the decode and populates v.
// Returns no error if the underlying file does not yet exist; v is left
// at its zero value in that case.
func (s *Store) Read(v any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	locked, err := s.lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil || !locked {
		return fmt.Errorf("jsonfile: lock %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	return s.decode(v)
}

func (s *Store) decode(v any) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("jsonfile: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("jsonfile: decode %s: %w", s.path, err)
	}
	return nil
}

// atomicWrite writes v to a temp file in the same directory and renames it
// over path, so a crash mid-write never leaves a truncated JSON file.
func (s *Store) atomicWrite(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode %s: %w", s.path, err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("jsonfile: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".jsonfile-*.tmp")
	if err != nil {
		return fmt.Errorf("jsonfile: tempfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: close %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: rename into %s: %w", s.path, err)
	}
	return nil
}
