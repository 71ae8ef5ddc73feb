package fsstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// UserDataStore keeps state at {root}/{contentId}/{userId}/{dataType}-{subContentId}.json.
type UserDataStore struct {
	root string
}

var _ h5p.UserDataStorage = (*UserDataStore)(nil)

func NewUserDataStore(root string) (*UserDataStore, error) {
	if root == "" {
		return nil, xerrors.New("user data store: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, xerrors.Wrapf(err, "create user data root %s", root)
	}
	return &UserDataStore{root: root}, nil
}

func (s *UserDataStore) path(k h5p.UserDataKey) string {
	sub := k.SubContentID
	if sub == "" {
		sub = "0"
	}
	return filepath.Join(s.root, segment(string(k.ContentID)), segment(k.UserID), segment(k.DataType)+"-"+segment(sub)+".json")
}

func (s *UserDataStore) Get(ctx context.Context, k h5p.UserDataKey) (json.RawMessage, error) {
	b, err := os.ReadFile(s.path(k))
	if err != nil {
		return nil, notFound(err, "user data %s/%s", k.ContentID, k.DataType)
	}
	return b, nil
}

// Set with empty data removes the entry.
func (s *UserDataStore) Set(ctx context.Context, k h5p.UserDataKey, data json.RawMessage) error {
	p := s.path(k)
	if len(data) == 0 {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return xerrors.Wrapf(err, "remove %s", p)
		}
		return nil
	}
	return writeFileAtomic(p, bytes.NewReader(data))
}

func (s *UserDataStore) DeleteContent(ctx context.Context, id h5p.ContentID) error {
	dir := filepath.Join(s.root, segment(string(id)))
	if err := os.RemoveAll(dir); err != nil {
		return xerrors.Wrapf(err, "remove %s", dir)
	}
	return nil
}
