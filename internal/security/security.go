package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	// ErrNotAllowed indicates a path outside every allow-list root.
	ErrNotAllowed = errors.New("security: path not allowed")
	// ErrUnsupportedExtension indicates a file type the server does not read or write.
	ErrUnsupportedExtension = errors.New("security: unsupported file extension")
	// ErrNotFound indicates a missing or inaccessible file.
	ErrNotFound = errors.New("security: file not found")
)

// DefaultExtensions are the workbook formats lead exports arrive in.
var DefaultExtensions = []string{".xlsx", ".xlsm"}

// Manager confines workbook access to a set of operator-approved directories. Roots are
// stored fully resolved so a symlink inside a root cannot lead outside of it.
type Manager struct {
	roots []string
	exts  []string
}

// NewManager resolves every non-blank entry of dirs and validates the extension list
// (leading dot, case-insensitive). nil exts selects DefaultExtensions.
func NewManager(dirs []string, exts []string) (*Manager, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	m := &Manager{}
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if len(e) < 2 || e[0] != '.' {
			return nil, fmt.Errorf("security: invalid extension: %q", e)
		}
		m.exts = append(m.exts, e)
	}
	for _, d := range dirs {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		root, err := resolveRoot(d)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(m.roots, root) {
			m.roots = append(m.roots, root)
		}
	}
	return m, nil
}

func resolveRoot(d string) (string, error) {
	abs, err := filepath.Abs(d)
	if err != nil {
		return "", fmt.Errorf("security: resolve %q: %w", d, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("security: resolve %q: %w", abs, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("security: stat %q: %w", real, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("security: allowed entry %q is not a directory", real)
	}
	return filepath.Clean(real), nil
}

// AllowedDirectories returns a copy of the resolved roots.
func (m *Manager) AllowedDirectories() []string {
	return slices.Clone(m.roots)
}

// ValidateConfig fails when no root is configured; the server refuses to start that way.
func (m *Manager) ValidateConfig() error {
	if len(m.roots) == 0 {
		return errors.New("security: no allowed directories configured")
	}
	return nil
}

// ValidateOpenPath returns the resolved path of an existing lead workbook under a root.
func (m *Manager) ValidateOpenPath(input string) (string, error) {
	abs, err := m.absolute(input)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", notFound(err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", notFound(err)
	}
	if info.IsDir() || !m.within(real) {
		return "", ErrNotAllowed
	}
	return real, nil
}

// ValidateWritePath returns where a workbook may be saved. The file itself may be new, but
// its parent directory must exist and resolve under a root.
func (m *Manager) ValidateWritePath(input string) (string, error) {
	abs, err := m.absolute(input)
	if err != nil {
		return "", err
	}
	target := abs
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		target = real
	} else {
		dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
		if err != nil {
			return "", notFound(err)
		}
		target = filepath.Join(dir, filepath.Base(abs))
	}
	if !m.within(target) {
		return "", ErrNotAllowed
	}
	return target, nil
}

// absolute checks the extension and makes input absolute without touching the filesystem.
func (m *Manager) absolute(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrNotAllowed
	}
	if !slices.Contains(m.exts, strings.ToLower(filepath.Ext(input))) {
		return "", ErrUnsupportedExtension
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		return "", fmt.Errorf("security: resolve %q: %w", input, err)
	}
	return abs, nil
}

// within reports whether p lies strictly below one of the roots.
func (m *Manager) within(p string) bool {
	return slices.ContainsFunc(m.roots, func(root string) bool {
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return false
		}
		return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
	})
}

func notFound(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return fmt.Errorf("security: %w", err)
}
