package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/thiagokokada/gitodyssey/internal/layout"
	"github.com/thiagokokada/gitodyssey/internal/render"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
api:
  base_url: http://localhost:8000
  rate_limit: 2
  burst: 4
cache:
  ttl: 90s
loader:
  max_commits: 200
layout:
  direction: lr
  rank_sep: 40
ui:
  theme: dark
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8000" || cfg.API.RateLimit != 2 || cfg.API.Burst != 4 {
		t.Fatalf("api = %+v", cfg.API)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Fatalf("cache.ttl = %v", cfg.Cache.TTL)
	}
	if cfg.Loader.MaxCommits != 200 || cfg.Loader.ContextLines != 3 {
		t.Fatalf("loader = %+v", cfg.Loader)
	}
	if cfg.Direction() != layout.LeftToRight {
		t.Fatalf("Direction() = %v", cfg.Direction())
	}
	if cfg.Layout.RankSep != 40 || cfg.Layout.NodeWidth != layout.DefaultOptions().NodeWidth {
		t.Fatalf("layout = %+v", cfg.Layout)
	}
	if cfg.Theme() != render.ThemeDark {
		t.Fatalf("Theme() = %v", cfg.Theme())
	}
	if cfg.Cache.Dir != Default().Cache.Dir {
		t.Fatalf("cache.dir changed to %q", cfg.Cache.Dir)
	}
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("Parse(nil) = %+v, want defaults", cfg)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("cache:\n  size: 10\n")); err == nil {
		t.Fatalf("Parse() accepted an unknown key")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	_, err := Parse([]byte(`
api:
  base_url: not a url
cache:
  ttl: 0s
loader:
  max_commits: 0
layout:
  direction: diagonal
ui:
  theme: purple
`))
	if err == nil {
		t.Fatalf("Parse() succeeded")
	}
	for _, want := range []string{"api.base_url", "cache.ttl", "loader.max_commits", "layout.direction", "ui.theme"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestMemoryOnlyNeedsNoDir(t *testing.T) {
	cfg := Default()
	cfg.Cache.Dir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() accepted an empty cache dir")
	}
	cfg.Cache.MemoryOnly = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	want := Default()
	want.API.Timeout = 30 * time.Second
	want.Git.MaxBranches = 9
	want.Layout.Direction = "LR"
	if err := Write(path, want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load() error = %v, want fs.ErrNotExist", err)
	}
}
