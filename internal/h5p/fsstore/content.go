package fsstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

const (
	metadataFile   = "h5p.json"
	parametersFile = "content.json"
)

// ContentStore keeps each content item in {root}/{id}/ with h5p.json,
// content.json and the item's files.
type ContentStore struct {
	root string
}

var _ h5p.ContentStorage = (*ContentStore)(nil)

func NewContentStore(root string) (*ContentStore, error) {
	if root == "" {
		return nil, xerrors.New("content store: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, xerrors.Wrapf(err, "create content root %s", root)
	}
	return &ContentStore{root: root}, nil
}

func (s *ContentStore) dir(id h5p.ContentID) (string, error) {
	if id == "" || segment(string(id)) != string(id) {
		return "", xerrors.Invalidf("invalid content id %q", id)
	}
	return filepath.Join(s.root, string(id)), nil
}

func (s *ContentStore) CreateOrUpdate(ctx context.Context, id h5p.ContentID, meta h5p.ContentMetadata, params json.RawMessage, user h5p.User) (h5p.ContentID, error) {
	if id == "" {
		id = h5p.ContentID(uuid.NewString())
	} else if _, err := s.Metadata(ctx, id); err != nil {
		return "", err
	}
	dir, err := s.dir(id)
	if err != nil {
		return "", err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", xerrors.Wrap(err, "encode h5p.json")
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if err := writeFileAtomic(filepath.Join(dir, parametersFile), bytes.NewReader(params)); err != nil {
		return "", err
	}
	if err := writeFileAtomic(filepath.Join(dir, metadataFile), bytes.NewReader(metaJSON)); err != nil {
		return "", err
	}
	return id, nil
}

func (s *ContentStore) Metadata(ctx context.Context, id h5p.ContentID) (h5p.ContentMetadata, error) {
	dir, err := s.dir(id)
	if err != nil {
		return h5p.ContentMetadata{}, err
	}
	b, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return h5p.ContentMetadata{}, notFound(err, "content %s", id)
	}
	var meta h5p.ContentMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return h5p.ContentMetadata{}, xerrors.Wrapf(err, "decode h5p.json of %s", id)
	}
	return meta, nil
}

func (s *ContentStore) Parameters(ctx context.Context, id h5p.ContentID) (json.RawMessage, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(dir, parametersFile))
	if err != nil {
		return nil, notFound(err, "content parameters %s", id)
	}
	return b, nil
}

func (s *ContentStore) Delete(ctx context.Context, id h5p.ContentID) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err != nil {
		return notFound(err, "content %s", id)
	}
	if err := os.RemoveAll(dir); err != nil {
		return xerrors.Wrapf(err, "remove %s", dir)
	}
	return nil
}

func (s *ContentStore) List(ctx context.Context) ([]h5p.ContentID, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", s.root)
	}
	var ids []h5p.ContentID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), metadataFile)); err == nil {
			ids = append(ids, h5p.ContentID(e.Name()))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *ContentStore) filePath(id h5p.ContentID, name string) (string, error) {
	dir, err := s.dir(id)
	if err != nil {
		return "", err
	}
	rel, err := cleanRel(name)
	if err != nil {
		return "", err
	}
	if rel == metadataFile || rel == parametersFile {
		return "", xerrors.Invalidf("reserved file name %q", name)
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}

func (s *ContentStore) AddFile(ctx context.Context, id h5p.ContentID, name string, r io.Reader) error {
	if _, err := s.Metadata(ctx, id); err != nil {
		return err
	}
	p, err := s.filePath(id, name)
	if err != nil {
		return err
	}
	return writeFileAtomic(p, r)
}

func (s *ContentStore) File(ctx context.Context, id h5p.ContentID, name string) (io.ReadCloser, error) {
	p, err := s.filePath(id, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, notFound(err, "content file %s/%s", id, name)
	}
	if fi, err := f.Stat(); err != nil || fi.IsDir() {
		f.Close()
		return nil, xerrors.NotFoundf("content file %s/%s", id, name)
	}
	return f, nil
}

func (s *ContentStore) ListFiles(ctx context.Context, id h5p.ContentID) ([]string, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}
	return listFiles(dir, map[string]bool{metadataFile: true, parametersFile: true})
}
