package h5p

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/goccy/go-json"

	"github.com/keithlinneman/h5p-web/internal/pathutil"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// PackageResult reports what InstallPackage did.
type PackageResult struct {
	Installed []LibraryName `json:"installed"`
	Skipped   []LibraryName `json:"skipped"`
	ContentID ContentID     `json:"contentId,omitempty"`
}

// InstallPackage installs the libraries of a .h5p archive. With
// importContent the archive's content is stored as a new item too.
// Libraries already installed at the same or a newer patch version are
// skipped.
func (e *Editor) InstallPackage(ctx context.Context, zr *zip.Reader, user User, importContent bool) (PackageResult, error) {
	if !user.CanUpdateAndInstallLibraries {
		return PackageResult{}, xerrors.WithKind(xerrors.Newf("user %s may not install libraries", user.ID), xerrors.KindForbidden)
	}
	if err := e.checkArchive(zr); err != nil {
		return PackageResult{}, err
	}

	var res PackageResult
	for _, dir := range libraryDirs(zr) {
		lib, err := readArchiveJSON[Library](zr, dir+"/library.json")
		if err != nil {
			return res, err
		}
		if lib.String() != dir {
			return res, xerrors.Invalidf("library directory %q does not match library.json (%s)", dir, lib.String())
		}

		if cur, err := e.libraries.Library(ctx, lib.LibraryName); err == nil && cur.PatchVersion >= lib.PatchVersion {
			res.Skipped = append(res.Skipped, lib.LibraryName)
			continue
		} else if err == nil {
			lib.Restricted = cur.Restricted
		}

		sub, err := fs.Sub(zr, dir)
		if err != nil {
			return res, xerrors.Wrapf(err, "open %s in archive", dir)
		}
		if err := e.libraries.Install(ctx, lib, sub); err != nil {
			return res, xerrors.Wrapf(err, "install library %s", dir)
		}
		res.Installed = append(res.Installed, lib.LibraryName)
	}

	if importContent {
		id, err := e.importContent(ctx, zr, user)
		if err != nil {
			return res, err
		}
		res.ContentID = id
	}

	e.logger.Info(ctx, "package installed",
		"installed", len(res.Installed),
		"skipped", len(res.Skipped),
		"content_id", string(res.ContentID),
	)
	return res, nil
}

// InstallFromHub downloads machineName from the content type hub and
// installs its libraries.
func (e *Editor) InstallFromHub(ctx context.Context, machineName string, user User) (PackageResult, error) {
	if !user.CanInstallRecommended && !user.CanUpdateAndInstallLibraries {
		return PackageResult{}, xerrors.WithKind(xerrors.Newf("user %s may not install content types", user.ID), xerrors.KindForbidden)
	}
	if e.cache == nil {
		return PackageResult{}, xerrors.WithKind(xerrors.New("no content type cache configured"), xerrors.KindUnavailable)
	}
	b, err := e.cache.DownloadPackage(ctx, machineName)
	if err != nil {
		return PackageResult{}, err
	}
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return PackageResult{}, xerrors.WithKind(xerrors.Wrapf(err, "open hub package %s", machineName), xerrors.KindInvalid)
	}
	// installing a recommended content type does not need the full library permission
	user.CanUpdateAndInstallLibraries = true
	return e.InstallPackage(ctx, zr, user, false)
}

func (e *Editor) checkArchive(zr *zip.Reader) error {
	var total uint64
	for _, f := range zr.File {
		name := f.Name
		if _, ok := pathutil.CleanRel(name); !ok {
			return xerrors.Invalidf("archive contains unsafe path %q", name)
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if f.UncompressedSize64 > uint64(e.cfg.MaxFileSize) {
			return xerrors.WithKind(xerrors.Newf("archive file %s exceeds %d bytes", name, e.cfg.MaxFileSize), xerrors.KindTooLarge)
		}
		total += f.UncompressedSize64
		if total > uint64(e.cfg.MaxTotalSize) {
			return xerrors.WithKind(xerrors.Newf("archive exceeds %d bytes uncompressed", e.cfg.MaxTotalSize), xerrors.KindTooLarge)
		}

		top, rest, nested := strings.Cut(name, "/")
		switch {
		case !nested && top == "h5p.json":
		case top == "content":
			if !e.cfg.ContentFileAllowed(rest) {
				return xerrors.Invalidf("content file %q has a forbidden type", name)
			}
		case nested:
			if !e.cfg.LibraryFileAllowed(rest) {
				return xerrors.Invalidf("library file %q has a forbidden type", name)
			}
		}
	}
	return nil
}

// libraryDirs returns top-level archive directories holding a library.json.
func libraryDirs(zr *zip.Reader) []string {
	var dirs []string
	for _, f := range zr.File {
		dir, rest, ok := strings.Cut(f.Name, "/")
		if ok && rest == "library.json" && dir != "content" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func readArchiveJSON[T any](fsys fs.FS, name string) (T, error) {
	var v T
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return v, xerrors.WithKind(xerrors.Wrapf(err, "read %s", name), xerrors.KindInvalid)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, xerrors.WithKind(xerrors.Wrapf(err, "decode %s", name), xerrors.KindInvalid)
	}
	return v, nil
}

func (e *Editor) importContent(ctx context.Context, zr *zip.Reader, user User) (ContentID, error) {
	meta, err := readArchiveJSON[ContentMetadata](zr, "h5p.json")
	if err != nil {
		return "", err
	}
	if err := meta.Validate(); err != nil {
		return "", err
	}
	params, err := fs.ReadFile(zr, "content/content.json")
	if err != nil {
		return "", xerrors.WithKind(xerrors.Wrap(err, "read content/content.json"), xerrors.KindInvalid)
	}
	if _, err := ResolveDependencies(ctx, e.libraries, meta.PreloadedDependencies, false); err != nil {
		return "", err
	}

	id, err := e.content.CreateOrUpdate(ctx, "", meta, params, user)
	if err != nil {
		return "", xerrors.Wrap(err, "store imported content")
	}
	for _, f := range zr.File {
		rest, ok := strings.CutPrefix(f.Name, "content/")
		if !ok || rest == "" || rest == "content.json" || f.FileInfo().IsDir() {
			continue
		}
		if err := addArchiveFile(ctx, e.content, id, rest, f); err != nil {
			return id, err
		}
	}
	return id, nil
}

func addArchiveFile(ctx context.Context, store ContentStorage, id ContentID, name string, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return xerrors.Wrapf(err, "open %s in archive", f.Name)
	}
	defer rc.Close()
	return store.AddFile(ctx, id, name, rc)
}

// ExportPackage writes content id and every library it depends on to w as a
// .h5p archive.
func (e *Editor) ExportPackage(ctx context.Context, id ContentID, w io.Writer) error {
	meta, params, err := e.GetContent(ctx, id)
	if err != nil {
		return err
	}
	main, err := meta.MainLibraryName()
	if err != nil {
		return err
	}
	libs, err := ResolveDependencies(ctx, e.libraries, append([]LibraryName{main}, meta.PreloadedDependencies...), false)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	metaJSON, err := marshal(meta)
	if err != nil {
		return err
	}
	if err := writeZipFile(zw, "h5p.json", strings.NewReader(string(metaJSON))); err != nil {
		return err
	}
	if err := writeZipFile(zw, "content/content.json", strings.NewReader(string(params))); err != nil {
		return err
	}

	files, err := e.content.ListFiles(ctx, id)
	if err != nil {
		return xerrors.Wrapf(err, "list files of %s", id)
	}
	for _, name := range files {
		if err := e.copyToZip(zw, path.Join("content", name), func() (io.ReadCloser, error) {
			return e.content.File(ctx, id, name)
		}); err != nil {
			return err
		}
	}

	for _, lib := range libs {
		files, err := e.libraries.ListFiles(ctx, lib.LibraryName)
		if err != nil {
			return xerrors.Wrapf(err, "list files of %s", lib)
		}
		for _, name := range files {
			if err := e.copyToZip(zw, path.Join(lib.String(), name), func() (io.ReadCloser, error) {
				return e.libraries.File(ctx, lib.LibraryName, name)
			}); err != nil {
				return err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return xerrors.Wrap(err, "finish archive")
	}
	return nil
}

func (e *Editor) copyToZip(zw *zip.Writer, name string, open func() (io.ReadCloser, error)) error {
	rc, err := open()
	if err != nil {
		return xerrors.Wrapf(err, "open %s", name)
	}
	defer rc.Close()
	return writeZipFile(zw, name, rc)
}

func writeZipFile(zw *zip.Writer, name string, r io.Reader) error {
	fw, err := zw.Create(name)
	if err != nil {
		return xerrors.Wrapf(err, "add %s to archive", name)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return xerrors.Wrapf(err, "write %s to archive", name)
	}
	return nil
}
