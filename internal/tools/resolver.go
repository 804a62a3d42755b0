package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver resolves and validates workspace-relative paths. Containment is
// checked after symlink resolution so a link inside the workspace cannot
// reach outside it.
type Resolver struct {
	Root string
}

// Resolve returns an absolute, symlink-resolved path within the workspace
// root, or an error when the path escapes it.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	rootAbs, err := filepath.Abs(r.Root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootReal, clean)
	}

	resolved, err := resolveExisting(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootReal, resolved)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace root")
	}
	return resolved, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of
// target, then re-joins the non-existing remainder. This keeps writes to
// new files inside the containment check.
func resolveExisting(target string) (string, error) {
	remainder := []string{}
	current := target
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			if len(remainder) == 0 {
				return resolved, nil
			}
			parts := append([]string{resolved}, remainder...)
			return filepath.Clean(filepath.Join(parts...)), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", target)
		}
		remainder = append([]string{filepath.Base(current)}, remainder...)
		current = parent
	}
}
