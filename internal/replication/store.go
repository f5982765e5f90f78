// Package replication implements the content-addressed replication layer
// (C7): a local CAS keyed by sha256(bytes), a logical path index over it, a
// single-writer guard, commit-record persistence, and gap-sync request/
// response over a pluggable network (spec.md §4.7).
package replication

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ContentHash is a lowercase hex sha256 digest.
type ContentHash string

// HashBytes computes the content hash of b.
func HashBytes(b []byte) ContentHash {
	sum := sha256.Sum256(b)
	return ContentHash(hex.EncodeToString(sum[:]))
}

// Store is the on-disk CAS: immutable content-addressed blobs plus a logical
// path→content_hash index, serialized by a single-writer guard file.
type Store struct {
	dir   string
	guard *Guard

	mu    sync.Mutex
	index map[string]ContentHash
}

// Open acquires the single-writer guard for dir and loads any existing path
// index. Callers must call Close to release the guard.
func Open(dir string) (*Store, error) {
	guard, err := AcquireGuard(dir)
	if err != nil {
		return nil, err
	}
	s := &Store{dir: dir, guard: guard, index: make(map[string]ContentHash)}
	if err := s.loadIndex(); err != nil {
		guard.Release()
		return nil, err
	}
	return s, nil
}

// Close releases the single-writer guard.
func (s *Store) Close() error {
	return s.guard.Release()
}

func (s *Store) blobsDir() string  { return filepath.Join(s.dir, "blobs") }
func (s *Store) indexPath() string { return filepath.Join(s.dir, "index.json") }

// PutBlob writes bytes content-addressed under blobs/<hash> and returns its hash.
// Writing the same content twice is idempotent.
func (s *Store) PutBlob(content []byte) (ContentHash, error) {
	hash := HashBytes(content)
	path := filepath.Join(s.blobsDir(), string(hash))
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := atomicWrite(path, content); err != nil {
		return "", fmt.Errorf("replication: put blob: %w", err)
	}
	return hash, nil
}

// GetBlob returns the blob for hash, or found=false if absent.
func (s *Store) GetBlob(hash ContentHash) (blob []byte, found bool, err error) {
	path := filepath.Join(s.blobsDir(), string(hash))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("replication: get blob: %w", err)
	}
	return data, true, nil
}

// PutPath associates a logical path with a content hash already stored via
// PutBlob, persisting the updated index.
func (s *Store) PutPath(path string, hash ContentHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[path] = hash
	return s.saveIndex()
}

// ResolvePath returns the content hash registered for path, if any.
func (s *Store) ResolvePath(path string) (ContentHash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.index[path]
	return hash, ok
}

// Paths returns a snapshot of every logical path currently indexed, used by
// replica maintenance to sample content for provider announcements.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.index))
	for p := range s.index {
		out = append(out, p)
	}
	return out
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("replication: load index: %w", err)
	}
	return json.Unmarshal(data, &s.index)
}

func (s *Store) saveIndex() error {
	data, err := json.Marshal(s.index)
	if err != nil {
		return fmt.Errorf("replication: marshal index: %w", err)
	}
	return atomicWrite(s.indexPath(), data)
}

// atomicWrite writes to a temp path in the same directory then renames over
// dst, so a crash mid-write never leaves a partially-written file at dst.
func atomicWrite(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("replication: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("replication: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("replication: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replication: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replication: rename: %w", err)
	}
	return nil
}
