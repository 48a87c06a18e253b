package watch

import (
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchPathsPrefersGitDir(t *testing.T) {
	root := t.TempDir()
	heads := filepath.Join(root, ".git", "refs", "heads")
	if err := os.MkdirAll(heads, 0o755); err != nil {
		t.Fatal(err)
	}
	got := slices.Sorted(watchPaths(root))
	want := []string{filepath.Join(root, ".git"), heads}
	if !slices.Equal(got, want) {
		t.Fatalf("watchPaths() = %v, want %v", got, want)
	}
}

func TestWatchPathsWithoutGitDir(t *testing.T) {
	root := t.TempDir()
	got := slices.Collect(watchPaths(root))
	if !slices.Equal(got, []string{root}) {
		t.Fatalf("watchPaths() = %v, want [%s]", got, root)
	}
}

func TestShouldIgnoreWatchPath(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{name: "/repo/.git/index.lock", want: true},
		{name: "/repo/.git/HEAD.LOCK", want: true},
		{name: "/repo/.git/fsmonitor.ipc", want: true},
		{name: "/repo/.git/HEAD", want: false},
		{name: "/repo/.git/refs/heads/main", want: false},
	}
	for _, tc := range tests {
		if got := shouldIgnoreWatchPath(tc.name); got != tc.want {
			t.Fatalf("shouldIgnoreWatchPath(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStartReloadsOnChange(t *testing.T) {
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	if err := os.Mkdir(gitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	reloaded := make(chan struct{}, 4)
	var calls atomic.Int32
	w, err := Start(root, 100*time.Millisecond, func() {
		calls.Add(1)
		reloaded <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	if err := os.WriteFile(filepath.Join(gitDir, "index.lock"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte{byte('a' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("reload never ran")
	}
	time.Sleep(250 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("reload ran %d times, want 1", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w, err := Start(t.TempDir(), 0, func() {})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestStartRequiresPath(t *testing.T) {
	if _, err := Start("", 0, func() {}); err == nil {
		t.Fatal("Start(\"\") succeeded")
	}
}
