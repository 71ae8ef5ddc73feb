package fsstore

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

const libraryFile = "library.json"

// LibraryStore keeps installed libraries in {root}/{ubername}/.
type LibraryStore struct {
	root string
	mu   sync.Mutex
}

var _ h5p.LibraryStorage = (*LibraryStore)(nil)

// NewLibraryStore does not create root; a missing root lists as empty.
func NewLibraryStore(root string) (*LibraryStore, error) {
	if root == "" {
		return nil, xerrors.New("library store: root is required")
	}
	return &LibraryStore{root: root}, nil
}

func (s *LibraryStore) dir(n h5p.LibraryName) string {
	return filepath.Join(s.root, segment(n.String()))
}

func (s *LibraryStore) List(ctx context.Context) ([]h5p.LibraryName, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", s.root)
	}
	var out []h5p.LibraryName
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		n, err := h5p.ParseUbername(e.Name())
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), libraryFile)); err == nil {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *LibraryStore) Library(ctx context.Context, n h5p.LibraryName) (h5p.Library, error) {
	b, err := os.ReadFile(filepath.Join(s.dir(n), libraryFile))
	if err != nil {
		return h5p.Library{}, notFound(err, "library %s", n)
	}
	var lib h5p.Library
	if err := json.Unmarshal(b, &lib); err != nil {
		return h5p.Library{}, xerrors.Wrapf(err, "decode library.json of %s", n)
	}
	return lib, nil
}

func (s *LibraryStore) File(ctx context.Context, n h5p.LibraryName, file string) (io.ReadCloser, error) {
	rel, err := cleanRel(file)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir(n), filepath.FromSlash(rel)))
	if err != nil {
		return nil, notFound(err, "library file %s/%s", n, file)
	}
	if fi, err := f.Stat(); err != nil || fi.IsDir() {
		f.Close()
		return nil, xerrors.NotFoundf("library file %s/%s", n, file)
	}
	return f, nil
}

func (s *LibraryStore) ListFiles(ctx context.Context, n h5p.LibraryName) ([]string, error) {
	return listFiles(s.dir(n), nil)
}

// Install stages files next to the target and swaps the directory in, so a
// failed install leaves the previous version untouched.
func (s *LibraryStore) Install(ctx context.Context, lib h5p.Library, files fs.FS) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return xerrors.Wrapf(err, "create library root %s", s.root)
	}
	target := s.dir(lib.LibraryName)
	stage := filepath.Join(s.root, "."+segment(lib.String())+"-"+uuid.NewString())
	if err := copyFS(ctx, stage, files); err != nil {
		os.RemoveAll(stage)
		return err
	}
	b, err := json.Marshal(lib)
	if err != nil {
		os.RemoveAll(stage)
		return xerrors.Wrap(err, "encode library.json")
	}
	if err := writeFileAtomic(filepath.Join(stage, libraryFile), bytes.NewReader(b)); err != nil {
		os.RemoveAll(stage)
		return err
	}

	old := ""
	if _, err := os.Stat(target); err == nil {
		old = stage + ".old"
		if err := os.Rename(target, old); err != nil {
			os.RemoveAll(stage)
			return xerrors.Wrapf(err, "move aside %s", target)
		}
	}
	if err := os.Rename(stage, target); err != nil {
		if old != "" {
			_ = os.Rename(old, target)
		}
		os.RemoveAll(stage)
		return xerrors.Wrapf(err, "activate %s", target)
	}
	if old != "" {
		os.RemoveAll(old)
	}
	return nil
}

func copyFS(ctx context.Context, dst string, src fs.FS) error {
	return fs.WalkDir(src, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return xerrors.Wrapf(err, "walk %s", p)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(dst, filepath.FromSlash(p))
		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return xerrors.Wrapf(err, "create %s", target)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		f, err := src.Open(p)
		if err != nil {
			return xerrors.Wrapf(err, "open %s", p)
		}
		defer f.Close()
		return writeFileAtomic(target, f)
	})
}

func (s *LibraryStore) Delete(ctx context.Context, n h5p.LibraryName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := s.dir(n)
	if _, err := os.Stat(filepath.Join(dir, libraryFile)); err != nil {
		return notFound(err, "library %s", n)
	}
	if err := os.RemoveAll(dir); err != nil {
		return xerrors.Wrapf(err, "remove %s", dir)
	}
	return nil
}

func (s *LibraryStore) SetRestricted(ctx context.Context, n h5p.LibraryName, restricted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lib, err := s.Library(ctx, n)
	if err != nil {
		return err
	}
	lib.Restricted = restricted
	b, err := json.Marshal(lib)
	if err != nil {
		return xerrors.Wrap(err, "encode library.json")
	}
	return writeFileAtomic(filepath.Join(s.dir(n), libraryFile), bytes.NewReader(b))
}
