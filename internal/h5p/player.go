package h5p

import (
	"context"

	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// stateDataType is the user data type the player restores on load.
const stateDataType = "state"

type PlayerOptions struct {
	Config    *Config
	Content   ContentStorage
	Libraries LibraryStorage
	UserData  UserDataStorage
	Translate TranslateFunc
	Logger    log.Logger
}

// Player is the read-only facade that renders content for playback and
// keeps user progress.
type Player struct {
	cfg       *Config
	content   ContentStorage
	libraries LibraryStorage
	userData  UserDataStorage
	translate TranslateFunc
	logger    log.Logger
}

func NewPlayer(opts PlayerOptions) (*Player, error) {
	if opts.Config == nil || opts.Content == nil || opts.Libraries == nil || opts.UserData == nil {
		return nil, xerrors.New("player: Config, Content, Libraries and UserData are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Player{
		cfg:       opts.Config,
		content:   opts.Content,
		libraries: opts.Libraries,
		userData:  opts.UserData,
		translate: opts.Translate,
		logger:    opts.Logger,
	}, nil
}

// PlayerModel is everything a page needs to render one content item.
type PlayerModel struct {
	ContentID   ContentID   `json:"contentId"`
	Title       string      `json:"title"`
	Language    string      `json:"language"`
	Assets      Assets      `json:"assets"`
	Integration Integration `json:"integration"`
}

// Model builds the player model of id for user in language.
func (p *Player) Model(ctx context.Context, id ContentID, user User, language string) (PlayerModel, error) {
	meta, err := p.content.Metadata(ctx, id)
	if err != nil {
		return PlayerModel{}, xerrors.Wrapf(err, "load content %s", id)
	}
	params, err := p.content.Parameters(ctx, id)
	if err != nil {
		return PlayerModel{}, xerrors.Wrapf(err, "load content parameters %s", id)
	}
	main, err := meta.MainLibraryName()
	if err != nil {
		return PlayerModel{}, err
	}
	roots := append([]LibraryName{main}, meta.PreloadedDependencies...)
	libs, err := ResolveDependencies(ctx, p.libraries, roots, false)
	if err != nil {
		return PlayerModel{}, xerrors.Wrapf(err, "resolve dependencies of %s", id)
	}

	in := p.cfg.baseIntegration(user, language, p.translate)
	assets := p.cfg.libraryAssets(libs)
	content := IntegrationContent{
		Library:     contentLibraryRef(main),
		JSONContent: string(params),
		DisplayOptions: DisplayOptions{
			Frame:     true,
			Export:    true,
			Copyright: true,
			Icon:      true,
		},
		Metadata:   meta,
		ContentURL: p.cfg.URL("content", string(id)),
		ExportURL:  p.cfg.URL("download", string(id)),
		URL:        p.cfg.URL("play", string(id)),
		Scripts:    assets.Scripts,
		Styles:     assets.Styles,
	}

	state, err := p.userData.Get(ctx, UserDataKey{ContentID: id, DataType: stateDataType, SubContentID: "0", UserID: user.ID})
	switch {
	case err == nil:
		content.ContentUserData = []map[string]string{{stateDataType: string(state)}}
	case xerrors.IsNotFound(err):
	default:
		p.logger.Warn(ctx, "ignoring unreadable user state", "content_id", string(id), "err", err)
	}

	in.Contents = map[string]IntegrationContent{"cid-" + string(id): content}
	return PlayerModel{
		ContentID: id,
		Title:     meta.Title,
		Language:  language,
		Assets: Assets{
			Scripts: append(append([]string{}, in.Core.Scripts...), assets.Scripts...),
			Styles:  append(append([]string{}, in.Core.Styles...), assets.Styles...),
		},
		Integration: in,
	}, nil
}

// UserData returns saved state addressed by key.
func (p *Player) UserData(ctx context.Context, key UserDataKey) ([]byte, error) {
	return p.userData.Get(ctx, key)
}

// SaveUserData stores state addressed by key. A nil data clears it.
func (p *Player) SaveUserData(ctx context.Context, key UserDataKey, data []byte) error {
	if key.ContentID == "" || key.DataType == "" {
		return xerrors.Invalidf("contentId and dataType are required")
	}
	if _, err := p.content.Metadata(ctx, key.ContentID); err != nil {
		return err
	}
	return p.userData.Set(ctx, key, data)
}

// FinishedResult is a completion record posted by the client.
type FinishedResult struct {
	ContentID ContentID `json:"contentId"`
	Score     float64   `json:"score"`
	MaxScore  float64   `json:"maxScore"`
	Opened    int64     `json:"opened"`
	Finished  int64     `json:"finished"`
	Time      int64     `json:"time,omitempty"`
}

// SaveFinished records a completion for user.
func (p *Player) SaveFinished(ctx context.Context, res FinishedResult, user User) error {
	if res.ContentID == "" {
		return xerrors.Invalidf("contentId is required")
	}
	if res.MaxScore < 0 || res.Score < 0 || res.Score > res.MaxScore {
		return xerrors.Invalidf("score %.2f out of range 0..%.2f", res.Score, res.MaxScore)
	}
	b, err := marshal(res)
	if err != nil {
		return err
	}
	return p.SaveUserData(ctx, UserDataKey{ContentID: res.ContentID, DataType: "finished", SubContentID: "0", UserID: user.ID}, b)
}
