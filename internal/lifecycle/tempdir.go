package lifecycle

import (
	"os"
	"sync"

	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

const tempPattern = "h5p-uploads-"

// TempDir is an ephemeral directory removed by Cleanup.
type TempDir struct {
	path string
	once sync.Once
	err  error
}

// NewTempDir creates a fresh directory under the system temp dir.
func NewTempDir() (*TempDir, error) {
	p, err := os.MkdirTemp("", tempPattern)
	if err != nil {
		return nil, xerrors.Wrap(err, "create temp upload dir")
	}
	return &TempDir{path: p}, nil
}

func (t *TempDir) Path() string { return t.path }

// Cleanup removes the directory and everything in it. Later calls are
// no-ops returning the first result.
func (t *TempDir) Cleanup() error {
	t.once.Do(func() {
		if err := os.RemoveAll(t.path); err != nil {
			t.err = xerrors.Wrapf(err, "remove temp dir %s", t.path)
		}
	})
	return t.err
}

// CreateTempDir returns the directory uploads are staged in. Only with
// enabled set outside production is an ephemeral directory created and
// handed to the shutdown routine; otherwise fallback is returned as-is.
// Signal capture starts before the directory exists, so a termination
// signal received before Run still leads to its removal.
func (m *Manager) CreateTempDir(enabled, production bool, fallback string) (string, error) {
	if !enabled || production {
		return fallback, nil
	}
	m.listen()
	td, err := NewTempDir()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	prev := m.temp
	m.temp = td
	m.mu.Unlock()
	if prev != nil {
		_ = prev.Cleanup()
	}
	m.logger.Info(m.ctx, "created temp upload dir", "path", td.Path())
	return td.Path(), nil
}

// TempDir returns the handle created by CreateTempDir, or nil.
func (m *Manager) TempDir() *TempDir {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.temp
}
