// Package fsstore implements the h5p storage ports on the local filesystem.
package fsstore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/h5p-web/internal/pathutil"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// cleanRel validates a slash separated relative path.
func cleanRel(name string) (string, error) {
	clean, ok := pathutil.CleanRel(name)
	if !ok {
		return "", xerrors.Invalidf("invalid file name %q", name)
	}
	return clean, nil
}

// segment turns s into a single safe path element.
func segment(s string) string {
	if s == "" {
		return "_"
	}
	r := strings.NewReplacer("/", "_", "\\", "_", "\x00", "_")
	s = r.Replace(s)
	if s == "." || s == ".." {
		return "_"
	}
	return s
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, os.ErrNotExist) {
		return xerrors.WithKind(xerrors.Wrapf(err, format, args...), xerrors.KindNotFound)
	}
	return xerrors.Wrapf(err, format, args...)
}

// writeFileAtomic writes r to name through a temp file in the same directory.
func writeFileAtomic(name string, r io.Reader) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrapf(err, "create directory %s", dir)
	}
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return xerrors.Wrapf(err, "create temp file in %s", dir)
	}
	tmp := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return xerrors.Wrapf(err, "write %s", name)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return xerrors.Wrapf(err, "close %s", name)
	}
	if err := os.Rename(tmp, name); err != nil {
		os.Remove(tmp)
		return xerrors.Wrapf(err, "rename into %s", name)
	}
	return nil
}

// listFiles returns every regular file below root as slash separated paths,
// skipping names in exclude and staging leftovers.
func listFiles(root string, exclude map[string]bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !exclude[rel] {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, notFound(err, "list %s", root)
	}
	return out, nil
}
