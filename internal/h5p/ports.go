package h5p

import (
	"context"
	"io"
	"io/fs"

	"github.com/goccy/go-json"
)

// ContentStorage persists content items: their h5p.json metadata, their
// content.json parameters and any files they reference.
type ContentStorage interface {
	// CreateOrUpdate stores meta and params. An empty id creates a new item
	// and returns its generated id.
	CreateOrUpdate(ctx context.Context, id ContentID, meta ContentMetadata, params json.RawMessage, user User) (ContentID, error)
	Metadata(ctx context.Context, id ContentID) (ContentMetadata, error)
	Parameters(ctx context.Context, id ContentID) (json.RawMessage, error)
	Delete(ctx context.Context, id ContentID) error
	List(ctx context.Context) ([]ContentID, error)

	AddFile(ctx context.Context, id ContentID, name string, r io.Reader) error
	File(ctx context.Context, id ContentID, name string) (io.ReadCloser, error)
	ListFiles(ctx context.Context, id ContentID) ([]string, error)
}

// LibraryStorage holds installed libraries, one directory per ubername.
type LibraryStorage interface {
	List(ctx context.Context) ([]LibraryName, error)
	Library(ctx context.Context, name LibraryName) (Library, error)
	File(ctx context.Context, name LibraryName, file string) (io.ReadCloser, error)
	ListFiles(ctx context.Context, name LibraryName) ([]string, error)
	// Install copies files (rooted at the library directory) and writes lib
	// as the library's metadata, replacing an existing install.
	Install(ctx context.Context, lib Library, files fs.FS) error
	Delete(ctx context.Context, name LibraryName) error
	SetRestricted(ctx context.Context, name LibraryName, restricted bool) error
}

// UserDataKey addresses one saved state blob.
type UserDataKey struct {
	ContentID    ContentID
	DataType     string
	SubContentID string
	UserID       string
}

// UserDataStorage keeps per-user progress state for content.
type UserDataStorage interface {
	Get(ctx context.Context, key UserDataKey) (json.RawMessage, error)
	Set(ctx context.Context, key UserDataKey, data json.RawMessage) error
	DeleteContent(ctx context.Context, id ContentID) error
}

// TemporaryFileStorage holds files uploaded in the editor before the content
// they belong to is saved.
type TemporaryFileStorage interface {
	Save(ctx context.Context, name string, r io.Reader, user User) (string, error)
	Open(ctx context.Context, name string, user User) (io.ReadCloser, error)
	Delete(ctx context.Context, name string, user User) error
}
