package h5p

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// APIVersion is the core API version advertised to content types.
type APIVersion struct {
	Major int `koanf:"major" json:"major" validate:"gte=0"`
	Minor int `koanf:"minor" json:"minor" validate:"gte=0"`
}

// Config is the engine configuration read from the JSON config file. It is
// loaded once and never mutated afterwards.
type Config struct {
	BaseURL                         string     `koanf:"baseUrl" validate:"required,startswith=/"`
	MaxTotalSize                    int64      `koanf:"maxTotalSize" validate:"gt=0"`
	MaxFileSize                     int64      `koanf:"maxFileSize" validate:"gt=0,ltefield=MaxTotalSize"`
	ContentTypeCacheRefreshInterval int64      `koanf:"contentTypeCacheRefreshInterval" validate:"gt=0"`
	HubEnabled                      bool       `koanf:"hubEnabled"`
	HubContentTypesEndpoint         string     `koanf:"hubContentTypesEndpoint" validate:"required_if=HubEnabled true,omitempty,url"`
	LibraryWhitelist                string     `koanf:"libraryWhitelist"`
	ContentWhitelist                string     `koanf:"contentWhitelist"`
	EnableLrsContentTypes           bool       `koanf:"enableLrsContentTypes"`
	ExportMaxContentPathLength      int        `koanf:"exportMaxContentPathLength" validate:"gte=0"`
	PlatformName                    string     `koanf:"platformName" validate:"required"`
	PlatformVersion                 string     `koanf:"platformVersion"`
	H5PVersion                      string     `koanf:"h5pVersion"`
	CoreAPIVersion                  APIVersion `koanf:"coreApiVersion"`
	PlayerAddons                    []string   `koanf:"playerAddons"`
	EditorAddons                    []string   `koanf:"editorAddons"`
}

// DefaultConfig returns the values applied before the config file.
func DefaultConfig() Config {
	return Config{
		BaseURL:                         "/h5p",
		MaxTotalSize:                    1 << 30,
		MaxFileSize:                     256 << 20,
		ContentTypeCacheRefreshInterval: int64(24 * time.Hour / time.Millisecond),
		HubContentTypesEndpoint:         "https://api.h5p.org/v1/content-types/",
		LibraryWhitelist:                "json png jpg jpeg gif bmp tif tiff svg eot ttf woff woff2 otf webm mp4 ogg mp3 m4a wav txt pdf rtf doc docx xls xlsx ppt pptx odt ods odp xml csv diff patch swf md textile vtt webvtt",
		ContentWhitelist:                "json png jpg jpeg gif bmp tif tiff svg eot ttf woff woff2 otf webm mp4 ogg mp3 m4a wav txt pdf rtf doc docx xls xlsx ppt pptx odt ods odp xml csv diff patch swf md textile vtt webvtt",
		ExportMaxContentPathLength:      255,
		PlatformName:                    "H5P-Web",
		PlatformVersion:                 "0.1",
		H5PVersion:                      "1.24",
		CoreAPIVersion:                  APIVersion{Major: 1, Minor: 24},
	}
}

// LoadConfig reads path over DefaultConfig and validates the result. A missing
// or malformed file is an error.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, xerrors.Wrapf(err, "config file %s", path)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, xerrors.Wrap(err, "load config defaults")
	}
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, xerrors.Wrapf(err, "parse config file %s", path)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, xerrors.Wrapf(err, "decode config file %s", path)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BaseURL == "" {
		c.BaseURL = "/"
	}
	if err := validator.New().Struct(c); err != nil {
		return nil, xerrors.WithKind(xerrors.Wrapf(err, "invalid config file %s", path), xerrors.KindInvalid)
	}
	return &c, nil
}

// RefreshInterval returns ContentTypeCacheRefreshInterval as a duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.ContentTypeCacheRefreshInterval) * time.Millisecond
}

// ContentFileAllowed reports whether name has an extension from ContentWhitelist.
func (c *Config) ContentFileAllowed(name string) bool {
	return extAllowed(c.ContentWhitelist, name)
}

// LibraryFileAllowed reports whether a library package may contain name.
// Library code (js, css) is always allowed on top of LibraryWhitelist.
func (c *Config) LibraryFileAllowed(name string) bool {
	switch strings.ToLower(extOf(name)) {
	case "js", "css":
		return true
	}
	return extAllowed(c.LibraryWhitelist, name)
}

func extOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || strings.ContainsRune(name[i:], '/') {
		return ""
	}
	return name[i+1:]
}

func extAllowed(list, name string) bool {
	ext := strings.ToLower(extOf(name))
	if ext == "" {
		return false
	}
	for _, e := range strings.Fields(list) {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
