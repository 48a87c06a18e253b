package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/thiagokokada/gitodyssey/internal/explorer"
	"github.com/thiagokokada/gitodyssey/internal/repo"
)

// runCmd runs the command line with an empty configuration file so the
// user's own configuration never leaks into tests.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfg, nil, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var stdout, stderr bytes.Buffer
	err := run(append([]string{"--config", cfg, "--no-color"}, args...), &stdout, &stderr)
	return stdout.String(), err
}

type localRepo struct {
	root   string
	hashes []plumbing.Hash
}

func newLocalRepo(t *testing.T) localRepo {
	t.Helper()
	root := t.TempDir()
	r, err := gitlib.PlainInit(root, false)
	if err != nil {
		t.Fatalf("PlainInit() error = %v", err)
	}
	wt, err := r.Worktree()
	if err != nil {
		t.Fatalf("Worktree() error = %v", err)
	}
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var hashes []plumbing.Hash
	for i, step := range []struct{ msg, content string }{
		{"first", "one\n"},
		{"second", "one\ntwo\n"},
	} {
		if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte(step.content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := wt.Add("a.txt"); err != nil {
			t.Fatalf("add: %v", err)
		}
		hash, err := wt.Commit(step.msg, &gitlib.CommitOptions{
			Author: &object.Signature{Name: "Alice", Email: "alice@example.com", When: when.Add(time.Duration(i) * time.Hour)},
		})
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		hashes = append(hashes, hash)
	}
	return localRepo{root: root, hashes: hashes}
}

func TestDiffCommand(t *testing.T) {
	lr := newLocalRepo(t)
	out, err := runCmd(t, "diff", "--path", lr.root)
	if err != nil {
		t.Fatalf("diff error = %v", err)
	}
	for _, want := range []string{"commit " + lr.hashes[1].String(), "diff --git a/a.txt b/a.txt", "+two"} {
		if !strings.Contains(out, want) {
			t.Fatalf("diff output missing %q:\n%s", want, out)
		}
	}

	out, err = runCmd(t, "diff", "--path", lr.root, lr.hashes[0].String())
	if err != nil {
		t.Fatalf("diff first error = %v", err)
	}
	if !strings.Contains(out, "new file mode") && !strings.Contains(out, "+one") {
		t.Fatalf("diff of the root commit:\n%s", out)
	}
}

func TestGraphLocalPath(t *testing.T) {
	lr := newLocalRepo(t)
	out, err := runCmd(t, "graph", "--path", lr.root, "--message", "second")
	if err != nil {
		t.Fatalf("graph error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("graph printed %d lines:\n%s", len(lines), out)
	}
	if want := "> * " + repo.ShortSHA(lr.hashes[1].String()) + " second (Alice"; !strings.HasPrefix(lines[0], want) {
		t.Fatalf("first line = %q, want prefix %q", lines[0], want)
	}
	if want := "  * " + repo.ShortSHA(lr.hashes[0].String()) + " first"; !strings.HasPrefix(lines[1], want) {
		t.Fatalf("second line = %q, want prefix %q", lines[1], want)
	}

	out, err = runCmd(t, "graph", "--path", lr.root, "--message", "second", "--only")
	if err != nil {
		t.Fatalf("graph --only error = %v", err)
	}
	if n := strings.Count(strings.TrimSpace(out), "\n") + 1; n != 1 {
		t.Fatalf("graph --only printed %d lines:\n%s", n, out)
	}

	for _, args := range [][]string{
		{"--branch", "nosuch", "--only"},
		{"--message", "never written", "--only"},
	} {
		out, err = runCmd(t, append([]string{"graph", "--path", lr.root}, args...)...)
		if err != nil {
			t.Fatalf("graph %v error = %v", args, err)
		}
		if out != "" {
			t.Fatalf("graph %v printed commits that match nothing:\n%s", args, out)
		}
	}
}

func TestGraphJSON(t *testing.T) {
	lr := newLocalRepo(t)
	out, err := runCmd(t, "graph", "--path", lr.root, "--json", "--direction", "LR")
	if err != nil {
		t.Fatalf("graph --json error = %v", err)
	}
	var v explorer.View
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode view: %v\n%s", err, out)
	}
	if v.Direction != "LR" || v.Commits != 2 || len(v.Nodes) != 2 || len(v.Edges) != 1 {
		t.Fatalf("view = %+v", v)
	}
	if v.Key != "local/"+filepath.Base(lr.root) {
		t.Fatalf("key = %q", v.Key)
	}
}

func TestGraphRejectsArgsWithPath(t *testing.T) {
	lr := newLocalRepo(t)
	if _, err := runCmd(t, "graph", "--path", lr.root, "acme/widgets"); err == nil {
		t.Fatalf("graph accepted OWNER/REPO together with --path")
	}
	if _, err := runCmd(t, "graph"); err == nil {
		t.Fatalf("graph without a repository succeeded")
	}
}

func TestShowLocalPath(t *testing.T) {
	lr := newLocalRepo(t)
	out, err := runCmd(t, "show", "--path", lr.root, repo.ShortSHA(lr.hashes[1].String()))
	if err != nil {
		t.Fatalf("show error = %v", err)
	}
	for _, want := range []string{"commit " + lr.hashes[1].String(), "    second", "a.txt [modified]", "@@ -1,1 +1,2 @@", "+two"} {
		if !strings.Contains(out, want) {
			t.Fatalf("show output missing %q:\n%s", want, out)
		}
	}
	if _, err := runCmd(t, "show", "--path", lr.root, "ffffffff"); !errors.Is(err, explorer.ErrUnknownCommit) {
		t.Fatalf("show unknown error = %v", err)
	}
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	author := "bob"
	snap := repo.Snapshot{
		Commits: []repo.Commit{
			{SHA: "bbbbbbbbbb", Message: "add lexer", Author: &author, Time: 200, Parents: []string{"aaaaaaaaaa"}},
			{SHA: "aaaaaaaaaa", Message: "initial", Author: &author, Time: 100},
		},
		Branches: []repo.Branch{{Name: "main", Commits: []string{"aaaaaaaaaa", "bbbbbbbbbb"}}},
	}
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			t.Errorf("encode: %v", err)
		}
	}
	mux.HandleFunc("GET /repo/acme/widgets", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, snap)
	})
	mux.HandleFunc("GET /repo/acme/widgets/commit/cccccccccc", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"commit": repo.Commit{SHA: "cccccccccc", Message: "ancient history"}})
	})
	mux.HandleFunc("POST /chat", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"response":      "echo: " + req.Query,
			"cited_commits": []map[string]any{{"sha": "bbbbbbbbbb", "similarity": 0.9, "message": "add lexer"}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGraphFromBackend(t *testing.T) {
	backend := newBackend(t)
	out, err := runCmd(t, "graph", "acme/widgets", "--api", backend.URL, "--no-cache", "--message", "LEXER")
	if err != nil {
		t.Fatalf("graph error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "> * bbbbbbb add lexer (bob, ") || !strings.HasPrefix(lines[1], "  * aaaaaaa initial") {
		t.Fatalf("graph output:\n%s", out)
	}
}

func TestShowFallsBackToBackend(t *testing.T) {
	backend := newBackend(t)
	out, err := runCmd(t, "show", "acme/widgets", "cccccccccc", "--api", backend.URL, "--no-cache")
	if err != nil {
		t.Fatalf("show error = %v", err)
	}
	if !strings.Contains(out, "ancient history") {
		t.Fatalf("show output:\n%s", out)
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	backend := newBackend(t)
	cacheDir := t.TempDir()
	if _, err := runCmd(t, "graph", "acme/widgets", "--api", backend.URL, "--cache-dir", cacheDir); err != nil {
		t.Fatalf("graph error = %v", err)
	}
	out, err := runCmd(t, "cache", "stats", "--cache-dir", cacheDir)
	if err != nil {
		t.Fatalf("cache stats error = %v", err)
	}
	if !strings.Contains(out, "persistent:  1 repositories") || !strings.Contains(out, "acme/widgets  2 commits, 1 branches") {
		t.Fatalf("cache stats:\n%s", out)
	}
	if _, err := runCmd(t, "cache", "clear", "acme/widgets", "--cache-dir", cacheDir); err != nil {
		t.Fatalf("cache clear error = %v", err)
	}
	out, err = runCmd(t, "cache", "stats", "--cache-dir", cacheDir)
	if err != nil {
		t.Fatalf("cache stats error = %v", err)
	}
	if strings.Contains(out, "acme/widgets") {
		t.Fatalf("cleared repository still listed:\n%s", out)
	}
	if _, err := runCmd(t, "cache", "clear", "not-a-key", "--cache-dir", cacheDir); err == nil {
		t.Fatalf("cache clear accepted an invalid key")
	}
}

func TestChatAskAndHistory(t *testing.T) {
	backend := newBackend(t)
	cacheDir := t.TempDir()
	out, err := runCmd(t, "chat", "ask", "acme/widgets", "who", "wrote", "it?", "--context", "bbbbbbbbbb", "--api", backend.URL, "--cache-dir", cacheDir)
	if err != nil {
		t.Fatalf("chat ask error = %v", err)
	}
	if !strings.Contains(out, "echo: who wrote it?") || !strings.Contains(out, "(1 cited commits)") {
		t.Fatalf("chat ask output:\n%s", out)
	}

	if _, err := runCmd(t, "prefs", "citations", "on", "--cache-dir", cacheDir); err != nil {
		t.Fatalf("prefs citations error = %v", err)
	}
	out, err = runCmd(t, "chat", "history", "acme/widgets", "--cache-dir", cacheDir)
	if err != nil {
		t.Fatalf("chat history error = %v", err)
	}
	if !strings.Contains(out, "you ") || !strings.Contains(out, "who wrote it?") || !strings.Contains(out, "bbbbbbb  90% add lexer") {
		t.Fatalf("chat history:\n%s", out)
	}

	if _, err := runCmd(t, "chat", "clear", "--all", "--cache-dir", cacheDir); err != nil {
		t.Fatalf("chat clear error = %v", err)
	}
	out, err = runCmd(t, "chat", "history", "acme/widgets", "--cache-dir", cacheDir)
	if err != nil || strings.TrimSpace(out) != "no messages" {
		t.Fatalf("chat history after clear = %q, %v", out, err)
	}
}

func TestPrefsTab(t *testing.T) {
	cacheDir := t.TempDir()
	if _, err := runCmd(t, "prefs", "tab", "summary", "--cache-dir", cacheDir); err != nil {
		t.Fatalf("prefs tab error = %v", err)
	}
	out, err := runCmd(t, "prefs", "tab", "--cache-dir", cacheDir)
	if err != nil || strings.TrimSpace(out) != "summary" {
		t.Fatalf("prefs tab = %q, %v", out, err)
	}
	if _, err := runCmd(t, "prefs", "tab", "history", "--cache-dir", cacheDir); err == nil {
		t.Fatalf("prefs tab accepted an unknown tab")
	}
	if _, err := runCmd(t, "prefs", "tab", "--reset", "--cache-dir", cacheDir); err != nil {
		t.Fatalf("prefs tab --reset error = %v", err)
	}
	out, _ = runCmd(t, "prefs", "tab", "--cache-dir", cacheDir)
	if strings.TrimSpace(out) != "search" {
		t.Fatalf("prefs tab after reset = %q", out)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	var stdout, stderr bytes.Buffer
	if err := run([]string{"--config", path, "--max-commits", "77", "config", "init"}, &stdout, &stderr); err != nil {
		t.Fatalf("config init error = %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(string(raw), "max_commits: 77") {
		t.Fatalf("config file:\n%s", raw)
	}
	if err := run([]string{"--config", path, "config", "init"}, &stdout, &stderr); err == nil {
		t.Fatalf("config init overwrote an existing file")
	}
	stdout.Reset()
	if err := run([]string{"--config", path, "config", "show"}, &stdout, &stderr); err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if !strings.Contains(stdout.String(), "max_commits: 77") {
		t.Fatalf("config show:\n%s", stdout.String())
	}
	if err := run([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "prefs", "tab"}, &stdout, &stderr); err == nil {
		t.Fatalf("missing --config file accepted outside config init")
	}
}

func TestFindCommit(t *testing.T) {
	commits := []repo.Commit{{SHA: "abc123"}, {SHA: "abd456"}, {SHA: "ffe789"}}
	if c, err := findCommit(commits, "ABD"); err != nil || c.SHA != "abd456" {
		t.Fatalf("findCommit(ABD) = %+v, %v", c, err)
	}
	if _, err := findCommit(commits, "ab"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Fatalf("findCommit(ab) error = %v", err)
	}
	if _, err := findCommit(commits, "000"); !errors.Is(err, explorer.ErrUnknownCommit) {
		t.Fatalf("findCommit(000) error = %v", err)
	}
	if _, err := findCommit(commits, " "); err == nil {
		t.Fatalf("findCommit(blank) succeeded")
	}
}

func TestNewestFirst(t *testing.T) {
	in := []repo.Commit{{SHA: "old", Time: 1}, {SHA: "new", Time: 3}, {SHA: "tie-a", Time: 2}, {SHA: "tie-b", Time: 2}}
	got := newestFirst(in)
	want := []string{"new", "tie-a", "tie-b", "old"}
	for i, c := range got {
		if c.SHA != want[i] {
			t.Fatalf("newestFirst() = %v", got)
		}
	}
	if in[0].SHA != "old" {
		t.Fatalf("newestFirst() reordered its input")
	}
}

func TestParseOnOff(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{in: "on", want: true},
		{in: "off"},
		{in: "true", want: true},
		{in: "0"},
		{in: "maybe", wantErr: true},
	}
	for _, tc := range tests {
		got, err := parseOnOff(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("parseOnOff(%q) = %v, %v", tc.in, got, err)
		}
	}
}
