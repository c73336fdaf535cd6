// Package reload detects edits to the files a configuration was loaded from.
package reload

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/timzifer/cronrule/config"
)

// ChangeKind classifies a detected change.
type ChangeKind string

const (
	Modified ChangeKind = "modified"
	Removed  ChangeKind = "removed"
)

// Change is one file that differs from the last snapshot.
type Change struct {
	Path string
	Kind ChangeKind
}

type fingerprint struct {
	size int64
	sum  [sha256.Size]byte
}

// Watcher remembers the content of the rule and config files and reports
// which of them changed. Touching a file without changing it is not a change.
type Watcher struct {
	mu    sync.Mutex
	files map[string]fingerprint
}

// NewWatcher snapshots the files of cfg plus root.
func NewWatcher(root string, cfg *config.Config) (*Watcher, error) {
	w := &Watcher{}
	if err := w.Update(root, cfg); err != nil {
		return nil, err
	}
	return w, nil
}

// Update replaces the snapshot. Missing files and directories are skipped.
func (w *Watcher) Update(root string, cfg *config.Config) error {
	if w == nil {
		return nil
	}
	paths := config.SourceFiles(cfg)
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			paths = append(paths, abs)
		}
	}
	files := make(map[string]fingerprint, len(paths))
	for _, path := range uniquePaths(paths) {
		fp, ok, err := fingerprintOf(path)
		if err != nil {
			return err
		}
		if ok {
			files[path] = fp
		}
	}
	w.mu.Lock()
	w.files = files
	w.mu.Unlock()
	return nil
}

// Check compares the files against the snapshot, sorted by path. The
// snapshot itself is left untouched; call Update after a successful reload.
func (w *Watcher) Check() ([]Change, error) {
	if w == nil {
		return nil, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var changes []Change
	for path, old := range w.files {
		fp, ok, err := fingerprintOf(path)
		switch {
		case err != nil || !ok:
			changes = append(changes, Change{Path: path, Kind: Removed})
		case fp != old:
			changes = append(changes, Change{Path: path, Kind: Modified})
		}
	}
	slices.SortFunc(changes, func(a, b Change) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return changes, nil
}

// Paths returns the paths of changes.
func Paths(changes []Change) []string {
	paths := make([]string, 0, len(changes))
	for _, c := range changes {
		paths = append(paths, c.Path)
	}
	return paths
}

func fingerprintOf(path string) (fingerprint, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fingerprint{}, false, nil
		}
		return fingerprint{}, false, err
	}
	if info.IsDir() {
		return fingerprint{}, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fingerprint{}, false, err
	}
	return fingerprint{size: info.Size(), sum: sha256.Sum256(data)}, true, nil
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, path)
	}
	return result
}
