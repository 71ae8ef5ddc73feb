package cfg

import (
	"os"
	"path/filepath"

	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// DefaultTemporaryPath is the fixed upload staging path used when no
// ephemeral directory is created.
const DefaultTemporaryPath = "/tmp"

// Paths are the absolute filesystem locations the server works with.
type Paths struct {
	Libraries   string
	Content     string
	UserData    string
	Temporary   string
	Core        string
	Editor      string
	Client      string
	NodeModules string
}

// ResolvePaths computes Paths from c and creates the content and user-data
// directories. c must have had WithDefaults applied.
func ResolvePaths(c App) (Paths, error) {
	dataDir, err := filepath.Abs(c.DataDir)
	if err != nil {
		return Paths{}, xerrors.Wrapf(err, "resolve data dir %q", c.DataDir)
	}
	installDir, err := filepath.Abs(c.InstallDir)
	if err != nil {
		return Paths{}, xerrors.Wrapf(err, "resolve install dir %q", c.InstallDir)
	}

	p := Paths{
		Content:     filepath.Join(dataDir, "content"),
		UserData:    filepath.Join(dataDir, "user-data"),
		Libraries:   filepath.Join(installDir, "h5p", "libraries"),
		Temporary:   DefaultTemporaryPath,
		Core:        filepath.Join(installDir, "h5p", "core"),
		Editor:      filepath.Join(installDir, "h5p", "editor"),
		Client:      filepath.Join(installDir, "client"),
		NodeModules: filepath.Join(installDir, "node_modules"),
	}

	for _, dir := range []string{p.Content, p.UserData} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, xerrors.Wrapf(err, "create directory %s", dir)
		}
	}
	return p, nil
}

// WithTemporary returns a copy of p with the temporary path replaced.
func (p Paths) WithTemporary(dir string) Paths {
	if dir != "" {
		p.Temporary = dir
	}
	return p
}
