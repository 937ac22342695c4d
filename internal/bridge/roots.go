package bridge

import (
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// WorkspaceRoots is the ordered set of workspace directories the application
// has open.
type WorkspaceRoots struct {
	mu    sync.RWMutex
	roots []string
}

// NewWorkspaceRoots creates a root set from roots, dropping duplicates.
func NewWorkspaceRoots(roots []string) *WorkspaceRoots {
	return &WorkspaceRoots{roots: normalizeRoots(roots)}
}

// Snapshot returns a copy of the current roots in insertion order.
func (w *WorkspaceRoots) Snapshot() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.roots)
}

// Replace swaps the root set and reports whether it changed.
func (w *WorkspaceRoots) Replace(roots []string) bool {
	next := normalizeRoots(roots)

	w.mu.Lock()
	defer w.mu.Unlock()
	if slices.Equal(w.roots, next) {
		return false
	}
	w.roots = next
	return true
}

// Merge appends roots not already present and reports whether any were added.
func (w *WorkspaceRoots) Merge(roots []string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, root := range normalizeRoots(roots) {
		if !slices.Contains(w.roots, root) {
			w.roots = append(w.roots, root)
			changed = true
		}
	}
	return changed
}

// Longest returns the longest root that is a path prefix of path.
func (w *WorkspaceRoots) Longest(path string) (string, bool) {
	path = cleanPath(path)
	if path == "" {
		return "", false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	best := ""
	for _, root := range w.roots {
		if len(root) > len(best) && hasPathPrefix(path, root) {
			best = root
		}
	}
	return best, best != ""
}

func normalizeRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		root = cleanPath(root)
		if root == "" || slices.Contains(out, root) {
			continue
		}
		out = append(out, root)
	}
	return out
}

func cleanPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}

// hasPathPrefix reports whether root is path itself or one of its ancestors.
// "/repo/a" is a prefix of "/repo/a/x" but not of "/repo/ab".
func hasPathPrefix(path, root string) bool {
	if root == "" || !strings.HasPrefix(path, root) {
		return false
	}
	if len(path) == len(root) {
		return true
	}
	if strings.HasSuffix(root, string(filepath.Separator)) {
		return true
	}
	return path[len(root)] == filepath.Separator
}
