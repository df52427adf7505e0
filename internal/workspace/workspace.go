// Package workspace manages run-scoped staging directories for sourcemaps
// copied out of the build tree before upload.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns staging directories under a common root.
type Manager struct {
	root    string
	created bool
}

// New returns a Manager for root. The root is created lazily by Prepare; if
// it did not exist beforehand, Close removes it again.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &Manager{root: abs, created: true}, nil
	case err != nil:
		return nil, fmt.Errorf("inspect workspace root: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute staging root.
func (m *Manager) Root() string {
	return m.root
}

// Prepare creates an empty directory for the provided run identifier.
func (m *Manager) Prepare(identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("workspace identifier cannot be empty")
	}
	dir := filepath.Join(m.root, identifier)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Stage copies src into dir under rel and returns the staged path.
func (m *Manager) Stage(dir, src, rel string) (string, error) {
	if err := m.within(dir); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.FromSlash(rel))
	if !strings.HasPrefix(dst, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("refusing to stage %q outside workspace", rel)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close staged file: %w", err)
	}
	return dst, nil
}

// Cleanup removes a directory previously returned by Prepare.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	if err := m.within(path); err != nil {
		return err
	}
	return os.RemoveAll(path)
}

// Close removes the staging root if it did not exist when New was called and
// it is now empty.
func (m *Manager) Close() error {
	if !m.created {
		return nil
	}
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read workspace root: %w", err)
	}
	if len(entries) > 0 {
		return nil
	}
	return os.Remove(m.root)
}

func (m *Manager) within(path string) error {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to touch path outside workspace root")
	}
	return nil
}
