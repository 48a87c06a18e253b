// Package config loads the optional YAML configuration file. Command line
// flags override what it sets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/thiagokokada/gitodyssey/internal/api"
	"github.com/thiagokokada/gitodyssey/internal/cache"
	"github.com/thiagokokada/gitodyssey/internal/explorer"
	"github.com/thiagokokada/gitodyssey/internal/git"
	"github.com/thiagokokada/gitodyssey/internal/layout"
	"github.com/thiagokokada/gitodyssey/internal/loader"
	"github.com/thiagokokada/gitodyssey/internal/render"
)

const (
	appName  = "gitodyssey"
	fileName = "config.yaml"
)

type Config struct {
	API    APIConfig      `yaml:"api"`
	Cache  CacheConfig    `yaml:"cache"`
	Loader loader.Options `yaml:"loader"`
	Git    GitConfig      `yaml:"git"`
	Layout LayoutConfig   `yaml:"layout"`
	UI     UIConfig       `yaml:"ui"`
	Serve  ServeConfig    `yaml:"serve"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// RateLimit is in requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type CacheConfig struct {
	Dir string        `yaml:"dir"`
	TTL time.Duration `yaml:"ttl"`
	// MemoryOnly skips the on-disk tier.
	MemoryOnly bool `yaml:"memory_only"`
}

type GitConfig struct {
	MaxBranches int `yaml:"max_branches"`
}

type LayoutConfig struct {
	layout.Options `yaml:",inline"`
	Direction      string `yaml:"direction"`
}

type UIConfig struct {
	Theme       string        `yaml:"theme"`
	FilterDelay time.Duration `yaml:"filter_delay"`
	MaxLanes    int           `yaml:"max_lanes"`
}

type ServeConfig struct {
	Addr string `yaml:"addr"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: api.DefaultBaseURL,
			Timeout: 2 * time.Minute,
			Burst:   1,
		},
		Cache: CacheConfig{
			Dir: filepath.Join(xdg.CacheHome, appName),
			TTL: cache.DefaultTTL,
		},
		Loader: loader.DefaultOptions(),
		Git:    GitConfig{MaxBranches: git.DefaultMaxBranches},
		Layout: LayoutConfig{
			Options:   layout.DefaultOptions(),
			Direction: string(layout.TopToBottom),
		},
		UI: UIConfig{
			Theme:       render.ThemeAuto.String(),
			FilterDelay: explorer.DefaultFilterDelay,
			MaxLanes:    render.DefaultMaxLanes,
		},
		Serve: ServeConfig{Addr: "127.0.0.1:8754"},
	}
}

// DefaultPath is where Load looks when no path is given. The directory is
// not created.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, fileName)
}

// Load reads path over the defaults. An empty path searches the XDG config
// directories and falls back to the defaults when no file exists.
func Load(path string) (Config, error) {
	if path == "" {
		found, err := xdg.SearchConfigFile(filepath.Join(appName, fileName))
		if err != nil {
			return Default(), nil
		}
		path = found
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL))
	}
	if c.API.Timeout < 0 {
		errs = append(errs, errors.New("api.timeout must not be negative"))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit must not be negative"))
	}
	if c.API.RateLimit > 0 && c.API.Burst < 1 {
		errs = append(errs, errors.New("api.burst must be at least 1 when rate limiting"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if !c.Cache.MemoryOnly && c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache.dir is required unless cache.memory_only is set"))
	}
	if c.Loader.MaxCommits <= 0 {
		errs = append(errs, errors.New("loader.max_commits must be positive"))
	}
	if c.Loader.ContextLines < 0 {
		errs = append(errs, errors.New("loader.context_lines must not be negative"))
	}
	if c.Git.MaxBranches < 0 {
		errs = append(errs, errors.New("git.max_branches must not be negative"))
	}
	if _, err := layout.ParseDirection(c.Layout.Direction); err != nil {
		errs = append(errs, fmt.Errorf("layout.direction: %w", err))
	}
	if c.Layout.NodeWidth <= 0 || c.Layout.NodeHeight <= 0 {
		errs = append(errs, errors.New("layout node size must be positive"))
	}
	switch c.UI.Theme {
	case render.ThemeAuto.String(), render.ThemeLight.String(), render.ThemeDark.String():
	default:
		errs = append(errs, fmt.Errorf("ui.theme %q must be auto, light or dark", c.UI.Theme))
	}
	if c.UI.FilterDelay < 0 {
		errs = append(errs, errors.New("ui.filter_delay must not be negative"))
	}
	return errors.Join(errs...)
}

// Direction returns the validated initial layout direction.
func (c Config) Direction() layout.Direction {
	dir, err := layout.ParseDirection(c.Layout.Direction)
	if err != nil {
		return layout.TopToBottom
	}
	return dir
}

func (c Config) Theme() render.ThemePreference {
	return render.ThemePreferenceFromString(c.UI.Theme)
}

// Write stores c as YAML at path, creating parent directories.
func Write(path string, c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
