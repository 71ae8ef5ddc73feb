package h5p

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

const (
	cacheFileName = "content-type-cache.json"

	// maxHubResponse bounds the hub response body.
	maxHubResponse = 32 << 20

	// maxRefreshBackoff caps the retry delay of Run after failed updates.
	maxRefreshBackoff = 30 * time.Minute
)

// ContentType is one entry of the hub's content type registry.
type ContentType struct {
	ID                   string     `json:"id"`
	Version              Version    `json:"version"`
	CoreAPIVersionNeeded APIVersion `json:"coreApiVersionNeeded"`
	Title                string     `json:"title"`
	Summary              string     `json:"summary,omitempty"`
	Description          string     `json:"description,omitempty"`
	Icon                 string     `json:"icon,omitempty"`
	Owner                string     `json:"owner,omitempty"`
	License              any        `json:"license,omitempty"`
	Keywords             []string   `json:"keywords,omitempty"`
	Categories           []string   `json:"categories,omitempty"`
	IsRecommended        bool       `json:"isRecommended,omitempty"`
	Popularity           int        `json:"popularity,omitempty"`
	Example              string     `json:"example,omitempty"`
	Tutorial             string     `json:"tutorial,omitempty"`
}

// Version is a full major.minor.patch version.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// CacheMetrics is implemented by the metrics package.
type CacheMetrics interface {
	IncContentTypeCacheUpdate(result string)
	SetContentTypeCacheBreakerState(name, state string)
}

type ContentTypeCacheOptions struct {
	Config *Config
	// Dir holds the persisted cache file, normally the user-data directory.
	Dir     string
	Client  *http.Client
	Logger  log.Logger
	Metrics CacheMetrics
	Now     func() time.Time
}

type cacheState struct {
	SiteUUID     string        `json:"siteUuid"`
	LastUpdate   *time.Time    `json:"lastUpdate"`
	ContentTypes []ContentType `json:"contentTypes"`
}

// ContentTypeCache keeps the hub content type list and the time it was last
// refreshed. Hub requests go through a circuit breaker so an unreachable hub
// fails fast instead of stalling editor requests.
type ContentTypeCache struct {
	cfg     *Config
	path    string
	client  *http.Client
	logger  log.Logger
	metrics CacheMetrics
	now     func() time.Time
	cb      *gobreaker.CircuitBreaker[[]ContentType]

	mu    sync.RWMutex
	state cacheState
}

// NewContentTypeCache loads the persisted cache from opts.Dir when present.
func NewContentTypeCache(opts ContentTypeCacheOptions) (*ContentTypeCache, error) {
	if opts.Config == nil {
		return nil, xerrors.New("content type cache: Config is required")
	}
	if opts.Dir == "" {
		return nil, xerrors.New("content type cache: Dir is required")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &ContentTypeCache{
		cfg:     opts.Config,
		path:    filepath.Join(opts.Dir, cacheFileName),
		client:  opts.Client,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	c.cb = gobreaker.NewCircuitBreaker[[]ContentType](gobreaker.Settings{
		Name:        "h5p-hub",
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn(context.Background(), "hub circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			if c.metrics != nil {
				c.metrics.SetContentTypeCacheBreakerState(name, to.String())
			}
		},
	})

	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ContentTypeCache) load() error {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		c.state.SiteUUID = uuid.NewString()
		return nil
	}
	if err != nil {
		return xerrors.Wrapf(err, "read %s", c.path)
	}
	var st cacheState
	if err := json.Unmarshal(b, &st); err != nil {
		// a corrupt cache is rebuilt on the next update
		c.logger.Warn(context.Background(), "discarding unreadable content type cache", "path", c.path, "err", err)
		st = cacheState{}
	}
	if st.SiteUUID == "" {
		st.SiteUUID = uuid.NewString()
	}
	c.state = st
	return nil
}

func (c *ContentTypeCache) persist(st cacheState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return xerrors.Wrap(err, "encode content type cache")
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return xerrors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return xerrors.Wrapf(err, "replace %s", c.path)
	}
	return nil
}

// LastUpdate returns the time of the last successful update.
func (c *ContentTypeCache) LastUpdate() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.LastUpdate == nil {
		return time.Time{}, false
	}
	return *c.state.LastUpdate, true
}

// ContentTypes returns a copy of the cached list.
func (c *ContentTypeCache) ContentTypes() []ContentType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ContentType, len(c.state.ContentTypes))
	copy(out, c.state.ContentTypes)
	return out
}

// IsOutdated reports whether the cache was never updated or is older than
// the configured refresh interval.
func (c *ContentTypeCache) IsOutdated() bool {
	last, ok := c.LastUpdate()
	if !ok {
		return true
	}
	return c.now().Sub(last) >= c.cfg.RefreshInterval()
}

// Update refreshes the list from the hub. With the hub disabled it only
// stamps the update time.
func (c *ContentTypeCache) Update(ctx context.Context) error {
	c.mu.RLock()
	next := c.state
	c.mu.RUnlock()

	if c.cfg.HubEnabled {
		types, err := c.cb.Execute(func() ([]ContentType, error) {
			return c.fetch(ctx, next.SiteUUID)
		})
		if err != nil {
			c.observe("error")
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return xerrors.WithKind(xerrors.Wrap(err, "content type hub unavailable"), xerrors.KindUnavailable)
			}
			return xerrors.Wrap(err, "update content type cache")
		}
		next.ContentTypes = types
	}

	now := c.now().UTC()
	next.LastUpdate = &now
	if err := c.persist(next); err != nil {
		c.observe("error")
		return err
	}

	c.mu.Lock()
	c.state = next
	c.mu.Unlock()

	c.observe("ok")
	c.logger.Info(ctx, "content type cache updated",
		"hub_enabled", c.cfg.HubEnabled,
		"content_types", len(next.ContentTypes),
	)
	return nil
}

func (c *ContentTypeCache) observe(result string) {
	if c.metrics != nil {
		c.metrics.IncContentTypeCacheUpdate(result)
	}
}

func (c *ContentTypeCache) fetch(ctx context.Context, siteUUID string) ([]ContentType, error) {
	form := url.Values{
		"uuid":             {siteUUID},
		"platform_name":    {c.cfg.PlatformName},
		"platform_version": {c.cfg.PlatformVersion},
		"h5p_version":      {c.cfg.H5PVersion},
		"disabled":         {"0"},
		"local_id":         {"0"},
		"type":             {"local"},
		"core_api_version": {strconv.Itoa(c.cfg.CoreAPIVersion.Major) + "." + strconv.Itoa(c.cfg.CoreAPIVersion.Minor)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.HubContentTypesEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, xerrors.Wrap(err, "build hub request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrapf(err, "POST %s", c.cfg.HubContentTypesEndpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.Newf("hub responded %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHubResponse))
	if err != nil {
		return nil, xerrors.Wrap(err, "read hub response")
	}
	var out struct {
		ContentTypes []ContentType `json:"contentTypes"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, xerrors.Wrap(err, "decode hub response")
	}
	return out.ContentTypes, nil
}

// Run updates the cache whenever it is outdated until ctx is done. Failed
// updates back off exponentially.
func (c *ContentTypeCache) Run(ctx context.Context, poll time.Duration) {
	if poll <= 0 {
		poll = time.Minute
	}
	failures := 0
	for {
		wait := poll
		if c.IsOutdated() {
			if err := c.Update(ctx); err != nil {
				failures++
				wait = refreshBackoff(poll, failures)
				c.logger.Warn(ctx, "content type cache refresh failed",
					"err", err, "consecutive_failures", failures, "retry_in", wait.String())
			} else {
				failures = 0
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func refreshBackoff(base time.Duration, failures int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(failures-1)))
	if d <= 0 || d > maxRefreshBackoff {
		return maxRefreshBackoff
	}
	return d
}

// DownloadPackage fetches the .h5p package of machineName from the hub.
func (c *ContentTypeCache) DownloadPackage(ctx context.Context, machineName string) ([]byte, error) {
	if !c.cfg.HubEnabled {
		return nil, xerrors.WithKind(xerrors.New("content type hub is disabled"), xerrors.KindUnavailable)
	}
	if _, err := ParseUbername(machineName + "-0.0"); err != nil {
		return nil, xerrors.Invalidf("invalid machine name %q", machineName)
	}
	endpoint := strings.TrimRight(c.cfg.HubContentTypesEndpoint, "/") + "/" + url.PathEscape(machineName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, xerrors.Wrap(err, "build hub request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, xerrors.WithKind(xerrors.Wrapf(err, "GET %s", endpoint), xerrors.KindUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, xerrors.NotFoundf("content type %s not on hub", machineName)
	case resp.StatusCode != http.StatusOK:
		return nil, xerrors.WithKind(xerrors.Newf("hub responded %d", resp.StatusCode), xerrors.KindUnavailable)
	}

	limit := c.cfg.MaxTotalSize
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, xerrors.Wrap(err, "read hub package")
	}
	if int64(len(body)) > limit {
		return nil, xerrors.WithKind(xerrors.Newf("hub package %s exceeds %d bytes", machineName, limit), xerrors.KindTooLarge)
	}
	return body, nil
}
