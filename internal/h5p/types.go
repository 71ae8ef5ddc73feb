package h5p

import (
	"strconv"
	"strings"

	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// ContentID identifies a content item in ContentStorage.
type ContentID string

// User is the identity the facades act on behalf of.
type User struct {
	ID                           string `json:"id"`
	Name                         string `json:"name"`
	Email                        string `json:"email"`
	Type                         string `json:"type"`
	CanInstallRecommended        bool   `json:"canInstallRecommended"`
	CanUpdateAndInstallLibraries bool   `json:"canUpdateAndInstallLibraries"`
	CanCreateRestricted          bool   `json:"canCreateRestricted"`
}

// LibraryName is a library's machine name plus major/minor version.
type LibraryName struct {
	MachineName  string `json:"machineName"`
	MajorVersion int    `json:"majorVersion"`
	MinorVersion int    `json:"minorVersion"`
}

// String returns the ubername, e.g. H5P.MultiChoice-1.16.
func (n LibraryName) String() string {
	return n.MachineName + "-" + strconv.Itoa(n.MajorVersion) + "." + strconv.Itoa(n.MinorVersion)
}

// ParseUbername parses "H5P.Foo-1.2" and the space separated form "H5P.Foo 1.2"
// used in h5p.json mainLibrary references.
func ParseUbername(s string) (LibraryName, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndexAny(s, "- ")
	if i <= 0 || i == len(s)-1 {
		return LibraryName{}, xerrors.Invalidf("invalid library name %q", s)
	}
	major, minor, ok := strings.Cut(s[i+1:], ".")
	if !ok {
		return LibraryName{}, xerrors.Invalidf("invalid library version in %q", s)
	}
	maj, err1 := strconv.Atoi(major)
	mnr, err2 := strconv.Atoi(minor)
	if err1 != nil || err2 != nil || maj < 0 || mnr < 0 {
		return LibraryName{}, xerrors.Invalidf("invalid library version in %q", s)
	}
	name := s[:i]
	if strings.ContainsAny(name, "/\\ ") {
		return LibraryName{}, xerrors.Invalidf("invalid library machine name %q", name)
	}
	return LibraryName{MachineName: name, MajorVersion: maj, MinorVersion: mnr}, nil
}

// FilePath is a path entry in library.json preloadedJs/preloadedCss.
type FilePath struct {
	Path string `json:"path"`
}

// Library is the decoded library.json of an installed library.
type Library struct {
	LibraryName
	Title                 string        `json:"title"`
	PatchVersion          int           `json:"patchVersion"`
	Runnable              int           `json:"runnable"`
	Author                string        `json:"author,omitempty"`
	License               string        `json:"license,omitempty"`
	Description           string        `json:"description,omitempty"`
	PreloadedJS           []FilePath    `json:"preloadedJs,omitempty"`
	PreloadedCSS          []FilePath    `json:"preloadedCss,omitempty"`
	PreloadedDependencies []LibraryName `json:"preloadedDependencies,omitempty"`
	EditorDependencies    []LibraryName `json:"editorDependencies,omitempty"`
	Restricted            bool          `json:"restricted,omitempty"`
}

// IsRunnable reports whether the library may be the main library of content.
func (l Library) IsRunnable() bool { return l.Runnable == 1 }

// Version returns major.minor.patch.
func (l Library) Version() string {
	return strconv.Itoa(l.MajorVersion) + "." + strconv.Itoa(l.MinorVersion) + "." + strconv.Itoa(l.PatchVersion)
}

// ContentMetadata is the decoded h5p.json of a content item.
type ContentMetadata struct {
	Title                 string        `json:"title"`
	MainLibrary           string        `json:"mainLibrary"`
	Language              string        `json:"language"`
	License               string        `json:"license,omitempty"`
	DefaultLanguage       string        `json:"defaultLanguage,omitempty"`
	EmbedTypes            []string      `json:"embedTypes"`
	PreloadedDependencies []LibraryName `json:"preloadedDependencies"`
}

// Validate checks the fields every stored content item must carry.
func (m ContentMetadata) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return xerrors.Invalidf("content title is required")
	}
	if m.MainLibrary == "" {
		return xerrors.Invalidf("content mainLibrary is required")
	}
	return nil
}

// MainLibraryName returns the library named by MainLibrary, resolving a bare
// machine name against PreloadedDependencies.
func (m ContentMetadata) MainLibraryName() (LibraryName, error) {
	if n, err := ParseUbername(m.MainLibrary); err == nil {
		return n, nil
	}
	for _, d := range m.PreloadedDependencies {
		if d.MachineName == m.MainLibrary {
			return d, nil
		}
	}
	return LibraryName{}, xerrors.Invalidf("main library %q not among preloaded dependencies", m.MainLibrary)
}

// ContentSummary is one row of the content listing.
type ContentSummary struct {
	ID          ContentID `json:"contentId"`
	Title       string    `json:"title"`
	MainLibrary string    `json:"mainLibrary"`
}
