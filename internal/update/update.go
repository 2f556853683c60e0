// Package update looks up the latest published modmigrate release.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	buildinfo "github.com/pthm/modmigrate/internal/version"
)

// ReleasesURL is the GitHub endpoint for the latest modmigrate release.
const ReleasesURL = "https://api.github.com/repos/pthm/modmigrate/releases/latest"

const (
	defaultTTL     = 24 * time.Hour
	defaultTimeout = 5 * time.Second
	stateFile      = "latest-release.json"
)

// Info compares the running build against the latest release.
type Info struct {
	CurrentVersion  string
	LatestVersion   string
	ReleaseURL      string
	CheckedAt       time.Time
	UpdateAvailable bool
}

// release is what the cache file stores. The running version is not part
// of it, so an upgraded binary reuses a fresh record.
type release struct {
	Tag       string    `json:"tag_name"`
	URL       string    `json:"html_url"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker fetches the latest release and remembers it for TTL. Zero fields
// take defaults: ReleasesURL, a client with a 5s timeout, the OS filesystem,
// the user cache directory and a one day TTL.
type Checker struct {
	URL      string
	Client   *http.Client
	FS       afero.Fs
	CacheDir string
	TTL      time.Duration
	Now      func() time.Time
	Logger   zerolog.Logger
}

// CheckWithCache answers from the cache while it is fresh and queries the
// release endpoint otherwise.
func (c *Checker) CheckWithCache(ctx context.Context) (*Info, error) {
	rel, err := c.readState()
	switch {
	case err == nil && c.now().Sub(rel.CheckedAt) < c.ttl():
		return compare(buildinfo.Version, rel), nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		c.Logger.Debug().Err(err).Msg("ignoring unreadable release cache")
	}

	rel, err = c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.writeState(rel); err != nil {
		c.Logger.Debug().Err(err).Msg("could not cache release")
	}
	return compare(buildinfo.Version, rel), nil
}

// Check queries the release endpoint without touching the cache.
func (c *Checker) Check(ctx context.Context) (*Info, error) {
	rel, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return compare(buildinfo.Version, rel), nil
}

func (c *Checker) fetch(ctx context.Context) (*release, error) {
	url := c.URL
	if url == "" {
		url = ReleasesURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching latest release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching latest release: GitHub API returned status %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decoding latest release: %w", err)
	}
	if _, err := version.NewVersion(rel.Tag); err != nil {
		return nil, fmt.Errorf("latest release tag %q: %w", rel.Tag, err)
	}
	rel.CheckedAt = c.now()
	return &rel, nil
}

// compare builds the Info for the running version. Builds that do not carry
// a release version, such as "dev", never report an update.
func compare(current string, rel *release) *Info {
	info := &Info{
		CurrentVersion: current,
		ReleaseURL:     rel.URL,
		CheckedAt:      rel.CheckedAt,
	}
	latest, err := version.NewVersion(rel.Tag)
	if err != nil {
		info.LatestVersion = rel.Tag
		return info
	}
	info.LatestVersion = latest.String()
	if running, err := version.NewVersion(current); err == nil {
		info.UpdateAvailable = running.LessThan(latest)
	}
	return info
}

func (c *Checker) statePath() (string, error) {
	dir := c.CacheDir
	if dir == "" {
		base := os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, ".cache")
		}
		dir = filepath.Join(base, buildinfo.Name)
	}
	return filepath.Join(dir, stateFile), nil
}

func (c *Checker) readState() (*release, error) {
	path, err := c.statePath()
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(c.fs(), path)
	if err != nil {
		return nil, err
	}
	var rel release
	if err := json.Unmarshal(data, &rel); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &rel, nil
}

func (c *Checker) writeState(rel *release) error {
	path, err := c.statePath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rel, "", "  ")
	if err != nil {
		return err
	}
	if err := c.fs().MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(c.fs(), path, data, 0o644)
}

func (c *Checker) fs() afero.Fs {
	if c.FS == nil {
		return afero.NewOsFs()
	}
	return c.FS
}

func (c *Checker) ttl() time.Duration {
	if c.TTL <= 0 {
		return defaultTTL
	}
	return c.TTL
}

func (c *Checker) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
