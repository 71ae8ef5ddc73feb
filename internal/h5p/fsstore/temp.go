package fsstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// TempStore keeps editor uploads per user at {root}/{userId}/{name}.
type TempStore struct {
	root string
}

var _ h5p.TemporaryFileStorage = (*TempStore)(nil)

func NewTempStore(root string) (*TempStore, error) {
	if root == "" {
		return nil, xerrors.New("temp store: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, xerrors.Wrapf(err, "create temp root %s", root)
	}
	return &TempStore{root: root}, nil
}

func (s *TempStore) path(name string, user h5p.User) (string, error) {
	rel, err := cleanRel(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, segment(user.ID), filepath.FromSlash(rel)), nil
}

func (s *TempStore) Save(ctx context.Context, name string, r io.Reader, user h5p.User) (string, error) {
	p, err := s.path(name, user)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(p, r); err != nil {
		return "", err
	}
	return name, nil
}

func (s *TempStore) Open(ctx context.Context, name string, user h5p.User) (io.ReadCloser, error) {
	p, err := s.path(name, user)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, notFound(err, "temporary file %s", name)
	}
	return f, nil
}

func (s *TempStore) Delete(ctx context.Context, name string, user h5p.User) error {
	p, err := s.path(name, user)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return notFound(err, "temporary file %s", name)
	}
	return nil
}
