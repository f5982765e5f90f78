package replication

import (
	"fmt"
	"os"
	"path/filepath"
)

// Guard is the single-writer lock over a CAS directory, backed by
// replication_guard.json (spec.md §6 "On-disk layout").
type Guard struct {
	path string
}

// AcquireGuard creates dir's guard file exclusively, failing if another
// writer already holds it.
func AcquireGuard(dir string) (*Guard, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("replication: mkdir guard dir: %w", err)
	}
	path := filepath.Join(dir, "replication_guard.json")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("replication: guard already held at %s", path)
		}
		return nil, fmt.Errorf("replication: acquire guard: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, `{"pid":%d}`, os.Getpid()); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("replication: write guard: %w", err)
	}
	return &Guard{path: path}, nil
}

// Release removes the guard file, allowing another writer to acquire it.
func (g *Guard) Release() error {
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replication: release guard: %w", err)
	}
	return nil
}
