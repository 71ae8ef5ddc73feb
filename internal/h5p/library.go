package h5p

import (
	"context"
	"io"
	"sort"

	"github.com/goccy/go-json"

	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// LibraryInfo is a library plus how it is used, for the admin listing.
type LibraryInfo struct {
	Library
	Version          string `json:"version"`
	InstancesCount   int    `json:"instancesCount"`
	DependentsCount  int    `json:"dependentsCount"`
	CanBeDeleted     bool   `json:"canBeDeleted"`
	IsAddon          bool   `json:"isAddon"`
	MainLibraryCount int    `json:"mainLibraryCount"`
}

// ListLibraries returns every installed library with usage counts.
func (e *Editor) ListLibraries(ctx context.Context) ([]LibraryInfo, error) {
	names, err := e.libraries.List(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "list libraries")
	}
	usage, err := e.usage(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]LibraryInfo, 0, len(names))
	for _, n := range names {
		lib, err := e.libraries.Library(ctx, n)
		if err != nil {
			e.logger.Warn(ctx, "skipping unreadable library", "library", n.String(), "err", err)
			continue
		}
		var u libraryUsage
		if p, ok := usage[n.String()]; ok {
			u = *p
		}
		out = append(out, LibraryInfo{
			Library:          lib,
			Version:          lib.Version(),
			InstancesCount:   u.instances,
			MainLibraryCount: u.main,
			DependentsCount:  u.dependents,
			CanBeDeleted:     u.instances == 0 && u.dependents == 0,
			IsAddon:          contains(e.cfg.PlayerAddons, n.MachineName) || contains(e.cfg.EditorAddons, n.MachineName),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

type libraryUsage struct {
	instances  int
	main       int
	dependents int
}

func (e *Editor) usage(ctx context.Context) (map[string]*libraryUsage, error) {
	usage := make(map[string]*libraryUsage)
	get := func(n LibraryName) *libraryUsage {
		u, ok := usage[n.String()]
		if !ok {
			u = &libraryUsage{}
			usage[n.String()] = u
		}
		return u
	}

	ids, err := e.content.List(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "list content")
	}
	for _, id := range ids {
		meta, err := e.content.Metadata(ctx, id)
		if err != nil {
			continue
		}
		for _, d := range meta.PreloadedDependencies {
			get(d).instances++
		}
		if main, err := meta.MainLibraryName(); err == nil {
			get(main).main++
		}
	}

	names, err := e.libraries.List(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "list libraries")
	}
	for _, n := range names {
		lib, err := e.libraries.Library(ctx, n)
		if err != nil {
			continue
		}
		for _, d := range lib.PreloadedDependencies {
			get(d).dependents++
		}
		for _, d := range lib.EditorDependencies {
			get(d).dependents++
		}
	}
	return usage, nil
}

// GetLibrary returns the installed library n with usage counts.
func (e *Editor) GetLibrary(ctx context.Context, n LibraryName) (LibraryInfo, error) {
	lib, err := e.libraries.Library(ctx, n)
	if err != nil {
		return LibraryInfo{}, err
	}
	usage, err := e.usage(ctx)
	if err != nil {
		return LibraryInfo{}, err
	}
	info := LibraryInfo{Library: lib, Version: lib.Version()}
	if u, ok := usage[n.String()]; ok {
		info.InstancesCount, info.MainLibraryCount, info.DependentsCount = u.instances, u.main, u.dependents
	}
	info.CanBeDeleted = info.InstancesCount == 0 && info.DependentsCount == 0
	return info, nil
}

// SetLibraryRestricted marks n as restricted to users allowed to create
// restricted content.
func (e *Editor) SetLibraryRestricted(ctx context.Context, n LibraryName, restricted bool, user User) error {
	if !user.CanUpdateAndInstallLibraries {
		return xerrors.WithKind(xerrors.Newf("user %s may not manage libraries", user.ID), xerrors.KindForbidden)
	}
	return e.libraries.SetRestricted(ctx, n, restricted)
}

// DeleteLibrary removes n when neither content nor other libraries use it.
func (e *Editor) DeleteLibrary(ctx context.Context, n LibraryName, user User) error {
	if !user.CanUpdateAndInstallLibraries {
		return xerrors.WithKind(xerrors.Newf("user %s may not manage libraries", user.ID), xerrors.KindForbidden)
	}
	info, err := e.GetLibrary(ctx, n)
	if err != nil {
		return err
	}
	if !info.CanBeDeleted {
		return xerrors.WithKind(xerrors.Newf("library %s is used by %d content items and %d libraries",
			n, info.InstancesCount, info.DependentsCount), xerrors.KindConflict)
	}
	if err := e.libraries.Delete(ctx, n); err != nil {
		return xerrors.Wrapf(err, "delete library %s", n)
	}
	e.logger.Info(ctx, "library deleted", "library", n.String(), "user", user.ID)
	return nil
}

// LibraryData is the editor's view of one library: semantics, translation
// and the assets needed to render its widget.
type LibraryData struct {
	Name      string          `json:"name"`
	Version   Version         `json:"version"`
	Title     string          `json:"title"`
	Semantics json.RawMessage `json:"semantics"`
	Language  json.RawMessage `json:"language"`
	CSS       []string        `json:"css"`
	JS        []string        `json:"javascript"`
}

// LibraryData loads semantics and the language file of n.
func (e *Editor) LibraryData(ctx context.Context, n LibraryName, language string) (LibraryData, error) {
	lib, err := e.libraries.Library(ctx, n)
	if err != nil {
		return LibraryData{}, err
	}
	semantics, err := e.readLibraryFile(ctx, n, "semantics.json")
	if err != nil && !xerrors.IsNotFound(err) {
		return LibraryData{}, err
	}
	lang, err := e.libraryLanguage(ctx, n, language)
	if err != nil {
		return LibraryData{}, err
	}

	deps, err := ResolveDependencies(ctx, e.libraries, []LibraryName{n}, true)
	if err != nil {
		return LibraryData{}, err
	}
	assets := e.cfg.libraryAssets(deps)

	if semantics == nil {
		semantics = json.RawMessage("[]")
	}
	return LibraryData{
		Name:      lib.MachineName,
		Version:   Version{Major: lib.MajorVersion, Minor: lib.MinorVersion, Patch: lib.PatchVersion},
		Title:     lib.Title,
		Semantics: semantics,
		Language:  lang,
		CSS:       assets.Styles,
		JS:        assets.Scripts,
	}, nil
}

func (e *Editor) libraryLanguage(ctx context.Context, n LibraryName, language string) (json.RawMessage, error) {
	for _, l := range []string{language, "en"} {
		if l == "" {
			continue
		}
		b, err := e.readLibraryFile(ctx, n, "language/"+l+".json")
		if err == nil {
			return b, nil
		}
		if !xerrors.IsNotFound(err) {
			return nil, err
		}
	}
	return json.RawMessage("null"), nil
}

// LibraryTranslations returns the language file of each name in language.
// Libraries without a translation are omitted.
func (e *Editor) LibraryTranslations(ctx context.Context, names []LibraryName, language string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(names))
	for _, n := range names {
		b, err := e.readLibraryFile(ctx, n, "language/"+language+".json")
		if xerrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[n.String()] = b
	}
	return out, nil
}

// LibraryOverview is a row of the editor's library selector.
type LibraryOverview struct {
	UberName     string `json:"uberName"`
	Name         string `json:"name"`
	MajorVersion int    `json:"majorVersion"`
	MinorVersion int    `json:"minorVersion"`
	Title        string `json:"title"`
	Runnable     bool   `json:"runnable"`
	Restricted   bool   `json:"restricted"`
	TutorialURL  string `json:"tutorialUrl,omitempty"`
}

// LibraryOverviews returns overview rows for names, skipping missing ones.
func (e *Editor) LibraryOverviews(ctx context.Context, names []LibraryName, user User) ([]LibraryOverview, error) {
	out := make([]LibraryOverview, 0, len(names))
	for _, n := range names {
		lib, err := e.libraries.Library(ctx, n)
		if xerrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, LibraryOverview{
			UberName:     lib.String(),
			Name:         lib.MachineName,
			MajorVersion: lib.MajorVersion,
			MinorVersion: lib.MinorVersion,
			Title:        lib.Title,
			Runnable:     lib.IsRunnable(),
			Restricted:   lib.Restricted && !user.CanCreateRestricted,
		})
	}
	return out, nil
}

func (e *Editor) readLibraryFile(ctx context.Context, n LibraryName, file string) (json.RawMessage, error) {
	rc, err := e.libraries.File(ctx, n, file)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s/%s", n, file)
	}
	if !json.Valid(b) {
		return nil, xerrors.Invalidf("%s/%s is not valid JSON", n, file)
	}
	return b, nil
}

// HubLibrary is a content type entry merged with local install state.
type HubLibrary struct {
	ContentType
	MachineName string `json:"machineName"`
	Installed   bool   `json:"installed"`
	IsUpToDate  bool   `json:"isUpToDate"`
	LocalMajor  int    `json:"localMajorVersion,omitempty"`
	LocalMinor  int    `json:"localMinorVersion,omitempty"`
	LocalPatch  int    `json:"localPatchVersion,omitempty"`
	CanInstall  bool   `json:"canInstall"`
	Restricted  bool   `json:"restricted"`
}

// HubModel is the response of the content-type-cache ajax action.
type HubModel struct {
	Outdated     bool         `json:"outdated"`
	Libraries    []HubLibrary `json:"libraries"`
	RecentlyUsed []string     `json:"recentlyUsed"`
	APIVersion   APIVersion   `json:"apiVersion"`
}

// HubModel merges the cached hub list with installed runnable libraries.
// Local runnable libraries missing from the hub list are appended.
func (e *Editor) HubModel(ctx context.Context, user User) (HubModel, error) {
	names, err := e.libraries.List(ctx)
	if err != nil {
		return HubModel{}, xerrors.Wrap(err, "list libraries")
	}
	local := make(map[string]Library)
	for _, n := range names {
		lib, err := e.libraries.Library(ctx, n)
		if err != nil {
			continue
		}
		if prev, ok := local[lib.MachineName]; ok && compareVersions(prev, lib) >= 0 {
			continue
		}
		local[lib.MachineName] = lib
	}

	m := HubModel{APIVersion: e.cfg.CoreAPIVersion, RecentlyUsed: []string{}}
	seen := make(map[string]bool)
	if e.cache != nil {
		m.Outdated = e.cache.IsOutdated() && e.cfg.HubEnabled
		for _, ct := range e.cache.ContentTypes() {
			h := HubLibrary{ContentType: ct, MachineName: ct.ID, CanInstall: user.CanInstallRecommended || user.CanUpdateAndInstallLibraries}
			if lib, ok := local[ct.ID]; ok {
				h.Installed = true
				h.LocalMajor, h.LocalMinor, h.LocalPatch = lib.MajorVersion, lib.MinorVersion, lib.PatchVersion
				h.IsUpToDate = !versionLess(Version{lib.MajorVersion, lib.MinorVersion, lib.PatchVersion}, ct.Version)
				h.Restricted = lib.Restricted && !user.CanCreateRestricted
			}
			seen[ct.ID] = true
			m.Libraries = append(m.Libraries, h)
		}
	}
	for name, lib := range local {
		if seen[name] || !lib.IsRunnable() {
			continue
		}
		m.Libraries = append(m.Libraries, HubLibrary{
			ContentType: ContentType{
				ID:      name,
				Title:   lib.Title,
				Version: Version{Major: lib.MajorVersion, Minor: lib.MinorVersion, Patch: lib.PatchVersion},
			},
			MachineName: name,
			Installed:   true,
			IsUpToDate:  true,
			LocalMajor:  lib.MajorVersion,
			LocalMinor:  lib.MinorVersion,
			LocalPatch:  lib.PatchVersion,
			Restricted:  lib.Restricted && !user.CanCreateRestricted,
		})
	}
	sort.SliceStable(m.Libraries, func(i, j int) bool { return m.Libraries[i].Title < m.Libraries[j].Title })
	if m.Libraries == nil {
		m.Libraries = []HubLibrary{}
	}
	return m, nil
}

func compareVersions(a, b Library) int {
	va := Version{a.MajorVersion, a.MinorVersion, a.PatchVersion}
	vb := Version{b.MajorVersion, b.MinorVersion, b.PatchVersion}
	switch {
	case versionLess(va, vb):
		return -1
	case versionLess(vb, va):
		return 1
	default:
		return 0
	}
}

func versionLess(a, b Version) bool {
	if a.Major != b.Major {
		return a.Major < b.Major
	}
	if a.Minor != b.Minor {
		return a.Minor < b.Minor
	}
	return a.Patch < b.Patch
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
