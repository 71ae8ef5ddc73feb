package h5p

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

type EditorOptions struct {
	Config           *Config
	Content          ContentStorage
	Libraries        LibraryStorage
	UserData         UserDataStorage
	Temporary        TemporaryFileStorage
	ContentTypeCache *ContentTypeCache
	Translate        TranslateFunc
	Logger           log.Logger
}

// Editor is the authoring facade: it creates, updates and deletes content,
// stages editor uploads and manages installed libraries.
type Editor struct {
	cfg       *Config
	content   ContentStorage
	libraries LibraryStorage
	userData  UserDataStorage
	temporary TemporaryFileStorage
	cache     *ContentTypeCache
	translate TranslateFunc
	logger    log.Logger
}

func NewEditor(opts EditorOptions) (*Editor, error) {
	if opts.Config == nil || opts.Content == nil || opts.Libraries == nil ||
		opts.UserData == nil || opts.Temporary == nil {
		return nil, xerrors.New("editor: Config, Content, Libraries, UserData and Temporary are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Editor{
		cfg:       opts.Config,
		content:   opts.Content,
		libraries: opts.Libraries,
		userData:  opts.UserData,
		temporary: opts.Temporary,
		cache:     opts.ContentTypeCache,
		translate: opts.Translate,
		logger:    opts.Logger,
	}, nil
}

// Config returns the engine configuration.
func (e *Editor) Config() *Config { return e.cfg }

// ContentTypeCache returns the cache the editor reads hub data from, or nil.
func (e *Editor) ContentTypeCache() *ContentTypeCache { return e.cache }

func marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, xerrors.Wrap(err, "encode json")
	}
	return b, nil
}

// ListContent returns a summary of every stored content item sorted by title.
func (e *Editor) ListContent(ctx context.Context) ([]ContentSummary, error) {
	ids, err := e.content.List(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "list content")
	}
	out := make([]ContentSummary, 0, len(ids))
	for _, id := range ids {
		meta, err := e.content.Metadata(ctx, id)
		if err != nil {
			e.logger.Warn(ctx, "skipping unreadable content", "content_id", string(id), "err", err)
			continue
		}
		out = append(out, ContentSummary{ID: id, Title: meta.Title, MainLibrary: meta.MainLibrary})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Title == out[j].Title {
			return out[i].ID < out[j].ID
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

// GetContent returns the metadata and parameters of id.
func (e *Editor) GetContent(ctx context.Context, id ContentID) (ContentMetadata, json.RawMessage, error) {
	meta, err := e.content.Metadata(ctx, id)
	if err != nil {
		return ContentMetadata{}, nil, err
	}
	params, err := e.content.Parameters(ctx, id)
	if err != nil {
		return ContentMetadata{}, nil, err
	}
	return meta, params, nil
}

// SaveContent creates (empty id) or updates content. The main library must
// be installed; preloaded dependencies are recomputed from it. Files the
// parameters reference in temporary storage are moved into the content.
func (e *Editor) SaveContent(ctx context.Context, id ContentID, meta ContentMetadata, params json.RawMessage, user User) (ContentID, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}
	main, err := meta.MainLibraryName()
	if err != nil {
		return "", err
	}
	lib, err := e.libraries.Library(ctx, main)
	if err != nil {
		return "", xerrors.Wrapf(err, "main library %s", main)
	}
	if !lib.IsRunnable() {
		return "", xerrors.Invalidf("library %s is not runnable", main)
	}
	if lib.Restricted && !user.CanCreateRestricted {
		return "", xerrors.WithKind(xerrors.Newf("library %s is restricted", main), xerrors.KindForbidden)
	}

	deps, err := ResolveDependencies(ctx, e.libraries, []LibraryName{main}, false)
	if err != nil {
		return "", err
	}
	meta.MainLibrary = main.MachineName
	preloaded := make([]LibraryName, 0, len(deps))
	for _, d := range deps {
		preloaded = append(preloaded, d.LibraryName)
	}
	meta.PreloadedDependencies = preloaded
	if meta.Language == "" {
		meta.Language = "und"
	}
	if meta.EmbedTypes == nil {
		meta.EmbedTypes = []string{"iframe"}
	}

	tree, err := decodeParams(params)
	if err != nil {
		return "", err
	}
	temps := collectStrings(tree, isTempRef)
	if len(temps) > 0 {
		tree, _ = rewriteStrings(tree, func(s string) (string, bool) {
			if isTempRef(s) {
				return strings.TrimSuffix(s, tmpSuffix), true
			}
			return s, false
		})
		if params, err = marshal(tree); err != nil {
			return "", err
		}
	}

	saved, err := e.content.CreateOrUpdate(ctx, id, meta, params, user)
	if err != nil {
		return "", xerrors.Wrap(err, "store content")
	}

	for _, ref := range temps {
		name := strings.TrimSuffix(ref, tmpSuffix)
		if err := e.promoteTempFile(ctx, saved, name, user); err != nil {
			return saved, err
		}
	}

	e.logger.Info(ctx, "content saved",
		"content_id", string(saved),
		"main_library", main.String(),
		"created", id == "",
		"files_promoted", len(temps),
	)
	return saved, nil
}

func (e *Editor) promoteTempFile(ctx context.Context, id ContentID, name string, user User) error {
	rc, err := e.temporary.Open(ctx, name, user)
	if err != nil {
		return xerrors.Wrapf(err, "open temporary file %s", name)
	}
	defer rc.Close()
	if err := e.content.AddFile(ctx, id, name, rc); err != nil {
		return xerrors.Wrapf(err, "add file %s to content %s", name, id)
	}
	if err := e.temporary.Delete(ctx, name, user); err != nil {
		e.logger.Warn(ctx, "temporary file left behind", "file", name, "err", err)
	}
	return nil
}

// DeleteContent removes id and all user data saved for it.
func (e *Editor) DeleteContent(ctx context.Context, id ContentID, user User) error {
	if err := e.content.Delete(ctx, id); err != nil {
		return xerrors.Wrapf(err, "delete content %s", id)
	}
	if err := e.userData.DeleteContent(ctx, id); err != nil {
		e.logger.Warn(ctx, "user data not removed", "content_id", string(id), "err", err)
	}
	e.logger.Info(ctx, "content deleted", "content_id", string(id), "user", user.ID)
	return nil
}

// EditorModel is what the editor page needs to boot.
type EditorModel struct {
	ContentID   ContentID        `json:"contentId,omitempty"`
	Language    string           `json:"language"`
	Assets      Assets           `json:"assets"`
	Integration Integration      `json:"integration"`
	Metadata    *ContentMetadata `json:"metadata,omitempty"`
	Library     string           `json:"library,omitempty"`
	Params      json.RawMessage  `json:"params,omitempty"`
}

// RenderEditorModel builds the editor model for id, or for new content when
// id is empty.
func (e *Editor) RenderEditorModel(ctx context.Context, id ContentID, language string, user User) (EditorModel, error) {
	in := e.cfg.baseIntegration(user, language, e.translate)
	in.Editor = &IntegrationEditor{
		FilesPath:  e.cfg.URL("temp-files"),
		AjaxPath:   e.cfg.URL("ajax") + "?action=",
		LibraryURL: e.cfg.URL("editor"),
		Language:   language,
		APIVersion: e.cfg.CoreAPIVersion,
	}
	for _, s := range EditorScripts {
		in.Editor.Assets.Scripts = append(in.Editor.Assets.Scripts, e.cfg.URL("editor", s))
	}
	for _, s := range EditorStyles {
		in.Editor.Assets.Styles = append(in.Editor.Assets.Styles, e.cfg.URL("editor", s))
	}

	m := EditorModel{
		ContentID:   id,
		Language:    language,
		Integration: in,
		Assets: Assets{
			Scripts: append(append([]string{}, in.Core.Scripts...), in.Editor.Assets.Scripts...),
			Styles:  append(append([]string{}, in.Core.Styles...), in.Editor.Assets.Styles...),
		},
	}
	if id == "" {
		return m, nil
	}

	meta, params, err := e.GetContent(ctx, id)
	if err != nil {
		return EditorModel{}, err
	}
	main, err := meta.MainLibraryName()
	if err != nil {
		return EditorModel{}, err
	}
	m.Metadata = &meta
	m.Library = contentLibraryRef(main)
	m.Params = params
	return m, nil
}

// TempFile is a staged editor upload.
type TempFile struct {
	Path string `json:"path"`
	Mime string `json:"mime,omitempty"`
}

// SaveContentFile stages an editor upload for field kind (image, video,
// audio or file) and returns the reference the editor stores in params.
func (e *Editor) SaveContentFile(ctx context.Context, kind, filename, mime string, r io.Reader, user User) (TempFile, error) {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return TempFile{}, xerrors.Invalidf("missing file name")
	}
	if !e.cfg.ContentFileAllowed(base) {
		return TempFile{}, xerrors.Invalidf("file type of %q is not allowed", base)
	}
	dir := "files"
	switch kind {
	case "image", "video", "audio":
		dir = kind + "s"
	}
	ext := path.Ext(base)
	stem := sanitizeName(strings.TrimSuffix(base, ext))
	name := dir + "/" + stem + "-" + uuid.NewString()[:8] + strings.ToLower(ext)

	limited := &io.LimitedReader{R: r, N: e.cfg.MaxFileSize + 1}
	stored, err := e.temporary.Save(ctx, name, limited, user)
	if err != nil {
		return TempFile{}, xerrors.Wrap(err, "stage upload")
	}
	if limited.N <= 0 {
		_ = e.temporary.Delete(ctx, stored, user)
		return TempFile{}, xerrors.WithKind(xerrors.Newf("file %q exceeds %d bytes", base, e.cfg.MaxFileSize), xerrors.KindTooLarge)
	}
	return TempFile{Path: stored + tmpSuffix, Mime: mime}, nil
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "file"
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

// ContentFile opens a file of content id.
func (e *Editor) ContentFile(ctx context.Context, id ContentID, name string) (io.ReadCloser, error) {
	return e.content.File(ctx, id, name)
}

// TemporaryFile opens a staged upload of user.
func (e *Editor) TemporaryFile(ctx context.Context, name string, user User) (io.ReadCloser, error) {
	return e.temporary.Open(ctx, strings.TrimSuffix(name, tmpSuffix), user)
}

// LibraryFile opens a file inside an installed library.
func (e *Editor) LibraryFile(ctx context.Context, name LibraryName, file string) (io.ReadCloser, error) {
	return e.libraries.File(ctx, name, file)
}

// FilterParams checks that params is a JSON object and drops temporary
// markers from references that no longer exist in staging.
func (e *Editor) FilterParams(ctx context.Context, params json.RawMessage, user User) (json.RawMessage, error) {
	tree, err := decodeParams(params)
	if err != nil {
		return nil, err
	}
	tree, n := rewriteStrings(tree, func(s string) (string, bool) {
		if !isTempRef(s) {
			return s, false
		}
		rc, err := e.temporary.Open(ctx, strings.TrimSuffix(s, tmpSuffix), user)
		if err != nil {
			return "", true
		}
		rc.Close()
		return s, false
	})
	if n == 0 {
		return params, nil
	}
	return marshal(tree)
}
