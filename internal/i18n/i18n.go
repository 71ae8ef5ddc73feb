// Package i18n loads the translation namespaces from disk into a go-i18n
// bundle and detects the request language.
//
// Files are laid out as {Dir}/{namespace}/{language}.json. Keys are addressed
// as "namespace:key"; a bare key belongs to the default namespace. Nested
// objects are flattened into dotted keys.
package i18n

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// Namespaces are the translation namespaces the server and client use.
var Namespaces = []string{
	"client",
	"copyright-semantics",
	"hub",
	"library-metadata",
	"metadata-semantics",
	"mongo-s3-content-storage",
	"s3-temporary-storage",
	"server",
	"storage-file-implementations",
}

// Delimiters that never occur in translations, so {{placeholders}} pass
// through untouched instead of being parsed as templates.
const (
	leftDelim  = "\x00{"
	rightDelim = "}\x00"
)

type Options struct {
	Dir              string
	Namespaces       []string
	Preload          []string
	DefaultNamespace string
	Fallback         string
	// Debug logs every missing key.
	Debug  bool
	Logger log.Logger
}

func (o *Options) withDefaults() {
	if len(o.Namespaces) == 0 {
		o.Namespaces = Namespaces
	}
	if len(o.Preload) == 0 {
		o.Preload = []string{"en", "de"}
	}
	if o.DefaultNamespace == "" {
		o.DefaultNamespace = "server"
	}
	if o.Fallback == "" {
		o.Fallback = "en"
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
}

// Translator resolves keys against the loaded bundle.
type Translator struct {
	bundle    *goi18n.Bundle
	matcher   language.Matcher
	supported []language.Tag
	fallback  language.Tag
	defaultNS string
	debug     bool
	logger    log.Logger

	mu         sync.Mutex
	localizers map[string]*goi18n.Localizer
}

// New loads every namespace for every preloaded language. Missing files are
// skipped; malformed files are an error.
func New(ctx context.Context, opts Options) (*Translator, error) {
	opts.withDefaults()
	fallback, err := language.Parse(opts.Fallback)
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse fallback language %q", opts.Fallback)
	}

	bundle := goi18n.NewBundle(fallback)
	supported := []language.Tag{fallback}
	loaded := 0
	for _, lng := range opts.Preload {
		tag, err := language.Parse(lng)
		if err != nil {
			return nil, xerrors.Wrapf(err, "parse preload language %q", lng)
		}
		if tag != fallback {
			supported = append(supported, tag)
		}
		for _, ns := range opts.Namespaces {
			path := filepath.Join(opts.Dir, ns, lng+".json")
			n, err := loadFile(bundle, tag, ns, path)
			if os.IsNotExist(err) {
				opts.Logger.Debug(ctx, "translation file missing", "namespace", ns, "language", lng, "path", path)
				continue
			}
			if err != nil {
				return nil, err
			}
			loaded += n
		}
	}
	opts.Logger.Info(ctx, "translations loaded",
		"dir", opts.Dir,
		"languages", opts.Preload,
		"namespaces", len(opts.Namespaces),
		"keys", loaded,
	)

	return &Translator{
		bundle:     bundle,
		matcher:    language.NewMatcher(supported),
		supported:  supported,
		fallback:   fallback,
		defaultNS:  opts.DefaultNamespace,
		debug:      opts.Debug,
		logger:     opts.Logger,
		localizers: make(map[string]*goi18n.Localizer),
	}, nil
}

func loadFile(bundle *goi18n.Bundle, tag language.Tag, ns, path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var tree map[string]any
	if err := json.Unmarshal(b, &tree); err != nil {
		return 0, xerrors.Wrapf(err, "decode translation file %s", path)
	}
	msgs := make([]*goi18n.Message, 0, len(tree))
	flatten(ns+":", tree, func(id, text string) {
		msgs = append(msgs, &goi18n.Message{ID: id, Other: text, LeftDelim: leftDelim, RightDelim: rightDelim})
	})
	if err := bundle.AddMessages(tag, msgs...); err != nil {
		return 0, xerrors.Wrapf(err, "add messages of %s", path)
	}
	return len(msgs), nil
}

func flatten(prefix string, tree map[string]any, add func(id, text string)) {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := tree[k].(type) {
		case string:
			add(prefix+k, v)
		case map[string]any:
			flatten(prefix+k+".", v, add)
		}
	}
}

func (t *Translator) localizer(lng string) *goi18n.Localizer {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.localizers[lng]
	if !ok {
		l = goi18n.NewLocalizer(t.bundle, lng, t.fallback.String())
		t.localizers[lng] = l
	}
	return l
}

// T translates key into lng, falling back to the fallback language and
// finally to the key itself.
func (t *Translator) T(key, lng string) string {
	id := key
	if !strings.Contains(key, ":") {
		id = t.defaultNS + ":" + key
	}
	// A key missing in lng yields the fallback text together with a
	// MessageNotFoundErr; only an empty message is a miss.
	msg, err := t.localizer(lng).Localize(&goi18n.LocalizeConfig{MessageID: id})
	if err != nil && t.debug {
		t.logger.Debug(context.Background(), "missing translation", "key", id, "language", lng, "err", err)
	}
	if msg == "" {
		return key
	}
	return msg
}

// Supported returns the loaded languages, fallback first.
func (t *Translator) Supported() []string {
	out := make([]string, len(t.supported))
	for i, tag := range t.supported {
		out[i] = tag.String()
	}
	return out
}

// Match resolves the first acceptable candidate to a supported language.
// Candidates may be single tags or Accept-Language values.
func (t *Translator) Match(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(c)
		if err != nil || len(tags) == 0 {
			continue
		}
		if _, i, conf := t.matcher.Match(tags...); conf != language.No {
			return t.supported[i].String()
		}
	}
	return t.fallback.String()
}
