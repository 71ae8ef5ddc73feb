package h5p

import "strings"

// TranslateFunc translates a namespaced key into language.
type TranslateFunc func(key, language string) string

// Core client files, relative to the core directory.
var (
	CoreScripts = []string{
		"js/jquery.js",
		"js/h5p.js",
		"js/h5p-event-dispatcher.js",
		"js/h5p-x-api-event.js",
		"js/h5p-x-api.js",
		"js/h5p-content-type.js",
		"js/h5p-confirmation-dialog.js",
		"js/h5p-action-bar.js",
		"js/request-queue.js",
	}
	CoreStyles = []string{
		"styles/h5p.css",
		"styles/h5p-confirmation-dialog.css",
		"styles/h5p-core-button.css",
	}
	EditorScripts = []string{
		"scripts/h5peditor-editor.js",
		"scripts/h5peditor-init.js",
		"scripts/h5peditor.js",
		"language/en.js",
	}
	EditorStyles = []string{
		"styles/css/h5p-hub-client.css",
		"styles/css/application.css",
	}
)

// l10nKeys are the player strings handed to the client.
var l10nKeys = []string{
	"fullscreen",
	"disableFullscreen",
	"download",
	"copyrights",
	"embed",
	"reuse",
	"close",
	"title",
	"author",
	"license",
}

// URL joins parts below BaseURL.
func (c *Config) URL(parts ...string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	var b strings.Builder
	b.WriteString(base)
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(p)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Integration is the H5PIntegration object the client scripts read.
type Integration struct {
	BaseURL            string                        `json:"baseUrl"`
	URL                string                        `json:"url"`
	PostUserStatistics bool                          `json:"postUserStatistics"`
	AjaxPath           string                        `json:"ajaxPath"`
	Ajax               IntegrationAjax               `json:"ajax"`
	SaveFreq           any                           `json:"saveFreq"`
	User               IntegrationUser               `json:"user"`
	Core               Assets                        `json:"core"`
	L10n               map[string]map[string]string  `json:"l10n"`
	Contents           map[string]IntegrationContent `json:"contents,omitempty"`
	Editor             *IntegrationEditor            `json:"editor,omitempty"`
}

type IntegrationAjax struct {
	SetFinished     string `json:"setFinished"`
	ContentUserData string `json:"contentUserData"`
}

type IntegrationUser struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Mail string `json:"mail"`
}

// Assets lists script and style URLs in load order.
type Assets struct {
	Scripts []string `json:"scripts"`
	Styles  []string `json:"styles"`
}

type DisplayOptions struct {
	Frame     bool `json:"frame"`
	Export    bool `json:"export"`
	Embed     bool `json:"embed"`
	Copyright bool `json:"copyright"`
	Icon      bool `json:"icon"`
	CopyEmbed bool `json:"copy"`
}

type IntegrationContent struct {
	Library         string              `json:"library"`
	JSONContent     string              `json:"jsonContent"`
	FullScreen      bool                `json:"fullScreen"`
	DisplayOptions  DisplayOptions      `json:"displayOptions"`
	Metadata        ContentMetadata     `json:"metadata"`
	ContentUserData []map[string]string `json:"contentUserData,omitempty"`
	ContentURL      string              `json:"contentUrl"`
	ExportURL       string              `json:"exportUrl,omitempty"`
	URL             string              `json:"url"`
	Scripts         []string            `json:"scripts"`
	Styles          []string            `json:"styles"`
}

type IntegrationEditor struct {
	FilesPath  string     `json:"filesPath"`
	AjaxPath   string     `json:"ajaxPath"`
	LibraryURL string     `json:"libraryUrl"`
	Language   string     `json:"language"`
	Assets     Assets     `json:"assets"`
	APIVersion APIVersion `json:"apiVersion"`
}

func (c *Config) baseIntegration(user User, language string, translate TranslateFunc) Integration {
	in := Integration{
		URL:                c.BaseURL,
		PostUserStatistics: user.ID != "",
		AjaxPath:           c.URL("ajax") + "?action=",
		Ajax: IntegrationAjax{
			SetFinished:     c.URL("finishedData"),
			ContentUserData: c.URL("contentUserData", ":contentId", ":dataType", ":subContentId"),
		},
		SaveFreq: false,
		User:     IntegrationUser{ID: user.ID, Name: user.Name, Mail: user.Email},
		L10n:     map[string]map[string]string{"H5P": l10n(translate, language)},
	}
	for _, s := range CoreScripts {
		in.Core.Scripts = append(in.Core.Scripts, c.URL("core", s))
	}
	for _, s := range CoreStyles {
		in.Core.Styles = append(in.Core.Styles, c.URL("core", s))
	}
	return in
}

func l10n(translate TranslateFunc, language string) map[string]string {
	out := make(map[string]string, len(l10nKeys))
	for _, k := range l10nKeys {
		if translate != nil {
			out[k] = translate("client:"+k, language)
		} else {
			out[k] = k
		}
	}
	return out
}

// libraryAssets returns script and style URLs of libs in order.
func (c *Config) libraryAssets(libs []Library) Assets {
	var a Assets
	for _, l := range libs {
		for _, js := range l.PreloadedJS {
			a.Scripts = append(a.Scripts, c.URL("libraries", l.String(), js.Path))
		}
		for _, css := range l.PreloadedCSS {
			a.Styles = append(a.Styles, c.URL("libraries", l.String(), css.Path))
		}
	}
	return a
}

// contentLibraryRef is the "Machine.Name major.minor" form the client uses.
func contentLibraryRef(n LibraryName) string {
	return n.MachineName + " " + strings.TrimPrefix(n.String(), n.MachineName+"-")
}
