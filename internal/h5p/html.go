package h5p

import (
	"bytes"
	"context"
	"encoding/base64"
	"html/template"
	"io"
	"io/fs"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

type ExporterOptions struct {
	Config    *Config
	Content   ContentStorage
	Libraries LibraryStorage
	// CoreFS is rooted at the core client directory (js/, styles/).
	CoreFS    fs.FS
	Translate TranslateFunc
	Logger    log.Logger
}

// BundleOptions controls CreateSingleBundle.
type BundleOptions struct {
	Language          string
	ShowLicenseButton bool
}

// HTMLExporter renders content into one self-contained HTML document.
type HTMLExporter struct {
	cfg       *Config
	content   ContentStorage
	libraries LibraryStorage
	core      fs.FS
	translate TranslateFunc
	logger    log.Logger
}

func NewHTMLExporter(opts ExporterOptions) (*HTMLExporter, error) {
	if opts.Config == nil || opts.Content == nil || opts.Libraries == nil || opts.CoreFS == nil {
		return nil, xerrors.New("html exporter: Config, Content, Libraries and CoreFS are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &HTMLExporter{
		cfg:       opts.Config,
		content:   opts.Content,
		libraries: opts.Libraries,
		core:      opts.CoreFS,
		translate: opts.Translate,
		logger:    opts.Logger,
	}, nil
}

var bundleTemplate = template.Must(template.New("bundle").Parse(`<!doctype html>
<html lang="{{.Language}}" class="h5p-iframe">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>{{.Styles}}</style>
<script>H5PIntegration = {{.Integration}};</script>
<script>{{.Scripts}}</script>
</head>
<body>
<div class="h5p-content lag" data-content-id="{{.ContentID}}"></div>
</body>
</html>
`))

type bundleData struct {
	Language    string
	Title       string
	ContentID   string
	Styles      template.CSS
	Scripts     template.JS
	Integration Integration
}

// CreateSingleBundle renders id with all core and library assets inlined in
// dependency order and content files embedded as data URIs.
func (x *HTMLExporter) CreateSingleBundle(ctx context.Context, id ContentID, user User, opts BundleOptions) (string, error) {
	if opts.Language == "" {
		opts.Language = "en"
	}
	meta, err := x.content.Metadata(ctx, id)
	if err != nil {
		return "", xerrors.Wrapf(err, "load content %s", id)
	}
	params, err := x.content.Parameters(ctx, id)
	if err != nil {
		return "", xerrors.Wrapf(err, "load content parameters %s", id)
	}
	main, err := meta.MainLibraryName()
	if err != nil {
		return "", err
	}
	libs, err := ResolveDependencies(ctx, x.libraries, append([]LibraryName{main}, meta.PreloadedDependencies...), false)
	if err != nil {
		return "", err
	}

	params, err = x.inlineContentFiles(ctx, id, params)
	if err != nil {
		return "", err
	}

	var css, js strings.Builder
	for _, name := range CoreStyles {
		b, err := fs.ReadFile(x.core, name)
		if err != nil {
			return "", xerrors.Wrapf(err, "read core file %s", name)
		}
		css.Write(b)
		css.WriteByte('\n')
	}
	for _, name := range CoreScripts {
		b, err := fs.ReadFile(x.core, name)
		if err != nil {
			return "", xerrors.Wrapf(err, "read core file %s", name)
		}
		js.Write(b)
		js.WriteString(";\n")
	}
	for _, lib := range libs {
		for _, f := range lib.PreloadedCSS {
			b, err := x.libraryFile(ctx, lib.LibraryName, f.Path)
			if err != nil {
				return "", err
			}
			css.Write(x.inlineCSSURLs(ctx, lib.LibraryName, path.Dir(f.Path), b))
			css.WriteByte('\n')
		}
		for _, f := range lib.PreloadedJS {
			b, err := x.libraryFile(ctx, lib.LibraryName, f.Path)
			if err != nil {
				return "", err
			}
			js.Write(b)
			js.WriteString(";\n")
		}
	}

	in := x.cfg.baseIntegration(user, opts.Language, x.translate)
	in.URL = "."
	in.Core = Assets{Scripts: []string{}, Styles: []string{}}
	in.Contents = map[string]IntegrationContent{
		"cid-" + string(id): {
			Library:     contentLibraryRef(main),
			JSONContent: string(params),
			FullScreen:  false,
			DisplayOptions: DisplayOptions{
				Frame:     opts.ShowLicenseButton,
				Copyright: opts.ShowLicenseButton,
			},
			Metadata: meta,
			Scripts:  []string{},
			Styles:   []string{},
		},
	}

	var out bytes.Buffer
	err = bundleTemplate.Execute(&out, bundleData{
		Language:    opts.Language,
		Title:       meta.Title,
		ContentID:   string(id),
		Styles:      template.CSS(escapeClosingTag(css.String(), "</style")),
		Scripts:     template.JS(escapeClosingTag(js.String(), "</script")),
		Integration: in,
	})
	if err != nil {
		return "", xerrors.Wrap(err, "render html bundle")
	}
	return out.String(), nil
}

func (x *HTMLExporter) libraryFile(ctx context.Context, n LibraryName, file string) ([]byte, error) {
	rc, err := x.libraries.File(ctx, n, file)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open %s/%s", n, file)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s/%s", n, file)
	}
	return b, nil
}

var cssURL = regexp.MustCompile(`url\(\s*['"]?([^'")]+?)['"]?\s*\)`)

// inlineCSSURLs replaces relative url() references with data URIs. References
// that cannot be read are left as they are.
func (x *HTMLExporter) inlineCSSURLs(ctx context.Context, n LibraryName, dir string, css []byte) []byte {
	return cssURL.ReplaceAllFunc(css, func(m []byte) []byte {
		ref := string(cssURL.FindSubmatch(m)[1])
		if strings.HasPrefix(ref, "data:") || strings.Contains(ref, "://") || strings.HasPrefix(ref, "/") {
			return m
		}
		clean := ref
		if i := strings.IndexAny(clean, "?#"); i >= 0 {
			clean = clean[:i]
		}
		file := path.Clean(path.Join(dir, clean))
		if strings.HasPrefix(file, "../") {
			return m
		}
		b, err := x.libraryFile(ctx, n, file)
		if err != nil {
			x.logger.Debug(ctx, "css reference not inlined", "library", n.String(), "ref", ref, "err", err)
			return m
		}
		return []byte("url(" + dataURI(file, b) + ")")
	})
}

// inlineContentFiles replaces parameter strings naming a content file with
// a data URI of that file.
func (x *HTMLExporter) inlineContentFiles(ctx context.Context, id ContentID, params []byte) ([]byte, error) {
	files, err := x.content.ListFiles(ctx, id)
	if err != nil {
		return nil, xerrors.Wrapf(err, "list files of %s", id)
	}
	if len(files) == 0 {
		return params, nil
	}
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f] = true
	}

	tree, err := decodeParams(params)
	if err != nil {
		return nil, err
	}
	var readErr error
	tree, n := rewriteStrings(tree, func(s string) (string, bool) {
		if !known[s] || readErr != nil {
			return s, false
		}
		rc, err := x.content.File(ctx, id, s)
		if err != nil {
			readErr = err
			return s, false
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			readErr = err
			return s, false
		}
		return dataURI(s, b), true
	})
	if readErr != nil {
		return nil, xerrors.Wrapf(readErr, "inline content files of %s", id)
	}
	if n == 0 {
		return params, nil
	}
	return marshal(tree)
}

func dataURI(name string, b []byte) string {
	typ := mime.TypeByExtension(path.Ext(name))
	if typ == "" {
		typ = "application/octet-stream"
	}
	if i := strings.IndexByte(typ, ';'); i >= 0 {
		typ = typ[:i]
	}
	return "data:" + typ + ";base64," + base64.StdEncoding.EncodeToString(b)
}

// escapeClosingTag keeps inlined code from terminating its element early.
func escapeClosingTag(s, tag string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(tag))
	return re.ReplaceAllStringFunc(s, func(m string) string {
		return `<\/` + m[2:]
	})
}
