package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/bdsync/internal/tracker"
)

// newProject creates <tmp>/.bdsync/config.yaml with the given contents and
// returns the project root.
func newProject(t *testing.T, yaml string) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return root
}

func initIn(t *testing.T, dir string) {
	t.Helper()
	t.Chdir(dir)
	ResetForTesting()
	t.Cleanup(ResetForTesting)
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
}

func TestDefaults(t *testing.T) {
	initIn(t, t.TempDir())

	if got := GetString("sync.strategy"); got != "merge" {
		t.Errorf("sync.strategy = %q, want merge", got)
	}
	if got := GetRemotes(); !reflect.DeepEqual(got, []string{"github", "jira"}) {
		t.Errorf("GetRemotes() = %v", got)
	}
	if got := GetDuration("sync.fetch_timeout"); got != 30*time.Second {
		t.Errorf("sync.fetch_timeout = %v", got)
	}
	if got := GetInt("sync.parallelism"); got != 4 {
		t.Errorf("sync.parallelism = %d", got)
	}
	if GetBool("sync.block_on_busy") {
		t.Error("sync.block_on_busy should default to false")
	}
	if ConfigFileUsed() != "" {
		t.Errorf("ConfigFileUsed() = %q, want none", ConfigFileUsed())
	}
	if got := ResolvePath("x/y"); got != "x/y" {
		t.Errorf("ResolvePath without project = %q", got)
	}
}

func TestGettersBeforeInitialize(t *testing.T) {
	ResetForTesting()
	if GetString("sync.strategy") != "" || GetInt("sync.parallelism") != 0 || GetRemotes() != nil {
		t.Error("getters should return zero values before Initialize")
	}
	if Source() != nil {
		t.Error("Source() should be nil before Initialize")
	}
	Set("sync.strategy", "manual") // must not panic
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BDSYNC_SYNC_STRATEGY", "local-wins")
	t.Setenv("BDSYNC_SYNC_REMOTES", "jira, github")
	t.Setenv("BDSYNC_SYNC_FETCH_TIMEOUT", "2s")
	initIn(t, t.TempDir())

	if got := GetStrategy(); got != tracker.StrategyLocalWins {
		t.Errorf("GetStrategy() = %q", got)
	}
	if got := GetRemotes(); !reflect.DeepEqual(got, []string{"jira", "github"}) {
		t.Errorf("GetRemotes() = %v", got)
	}
	if got := GetDuration("sync.fetch_timeout"); got != 2*time.Second {
		t.Errorf("sync.fetch_timeout = %v", got)
	}
}

func TestProjectConfigDiscovery(t *testing.T) {
	root := newProject(t, "sync:\n  strategy: remote_wins\njira:\n  url: https://example.atlassian.net\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	initIn(t, nested)

	want := filepath.Join(root, DirName, FileName)
	if got := ConfigFileUsed(); got != want {
		t.Errorf("ConfigFileUsed() = %q, want %q", got, want)
	}
	if ProjectRoot() != root {
		t.Errorf("ProjectRoot() = %q, want %q", ProjectRoot(), root)
	}
	if got := GetStrategy(); got != tracker.StrategyRemoteWins {
		t.Errorf("GetStrategy() = %q", got)
	}
	if got := ResolvePath(GetString("store.dir")); got != filepath.Join(root, DirName) {
		t.Errorf("store dir = %q", got)
	}
	if got := ResolvePath("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path rewritten: %q", got)
	}
}

func TestUserConfigFallback(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if err := os.MkdirAll(filepath.Join(xdg, "bdsync"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(xdg, "bdsync", FileName), []byte("sync:\n  parallelism: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	initIn(t, t.TempDir())

	if got := GetInt("sync.parallelism"); got != 7 {
		t.Errorf("sync.parallelism = %d, want 7 from user config", got)
	}
	if ProjectRoot() != "" {
		t.Errorf("user config must not set a project root, got %q", ProjectRoot())
	}
}

func TestExplicitConfigEnv(t *testing.T) {
	root := newProject(t, "sync:\n  strategy: manual\n")
	t.Setenv("BDSYNC_CONFIG", filepath.Join(root, DirName, FileName))
	initIn(t, t.TempDir())

	if got := GetStrategy(); got != tracker.StrategyManual {
		t.Errorf("GetStrategy() = %q", got)
	}
}

func TestInvalidStrategyFallsBack(t *testing.T) {
	root := newProject(t, "sync:\n  strategy: newest\n")
	initIn(t, root)

	if got := GetStrategy(); got != tracker.StrategyMerge {
		t.Errorf("GetStrategy() = %q, want merge fallback", got)
	}
}

func TestLoadSyncConfig(t *testing.T) {
	root := newProject(t, `sync:
  strategy: local_wins
  remote_precedence: jira,github
  fetch_timeout: 5s
  apply_timeout: 7s
  resolution_budget: 0s
  parallelism: 2
  block_on_busy: true
retry:
  max_attempts: 2
  initial_interval: 10ms
`)
	initIn(t, root)

	cfg, err := LoadSyncConfig()
	if err != nil {
		t.Fatalf("LoadSyncConfig() error = %v", err)
	}
	if cfg.Strategy != tracker.StrategyLocalWins {
		t.Errorf("Strategy = %q", cfg.Strategy)
	}
	if cfg.RemotePrecedence != "jira,github" {
		t.Errorf("RemotePrecedence = %q", cfg.RemotePrecedence)
	}
	if cfg.FetchTimeout != 5*time.Second || cfg.ApplyTimeout != 7*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.FetchTimeout, cfg.ApplyTimeout)
	}
	if cfg.ResolutionBudget != 0 {
		t.Errorf("ResolutionBudget = %v, want explicit 0", cfg.ResolutionBudget)
	}
	if cfg.Parallelism != 2 || !cfg.BlockOnBusy {
		t.Errorf("Parallelism = %d BlockOnBusy = %v", cfg.Parallelism, cfg.BlockOnBusy)
	}
	if cfg.Retry.MaxAttempts != 2 || cfg.Retry.InitialInterval != 10*time.Millisecond {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Retry.MaxInterval != tracker.DefaultRetryPolicy().MaxInterval {
		t.Errorf("Retry.MaxInterval = %v, want default", cfg.Retry.MaxInterval)
	}
}

func TestLoadSyncConfigRejectsUnknownPrecedence(t *testing.T) {
	root := newProject(t, "sync:\n  remote_precedence: gitlab,jira\n")
	initIn(t, root)

	_, err := LoadSyncConfig()
	if err == nil || !strings.Contains(err.Error(), "gitlab") {
		t.Fatalf("LoadSyncConfig() error = %v, want unknown remote gitlab", err)
	}
}

func TestMappingFile(t *testing.T) {
	root := newProject(t, `mapping:
  file: .bdsync/mapping.yaml
jira:
  status_map:
    in review: blocked
`)
	mapping := `jira:
  status_map:
    In Review: in_progress
    QA: in_progress
  priority_map:
    Urgent: 0
github:
  user_map:
    alice: alice-gh
`
	if err := os.WriteFile(filepath.Join(root, DirName, "mapping.yaml"), []byte(mapping), 0o600); err != nil {
		t.Fatal(err)
	}
	initIn(t, root)

	status := GetStringMapString("jira.status_map")
	if status["in review"] != "blocked" {
		t.Errorf("config.yaml entry should win, got %q", status["in review"])
	}
	if status["qa"] != "in_progress" {
		t.Errorf("mapping file entry missing: %v", status)
	}
	if got := GetStringMapString("jira.priority_map")["urgent"]; got != "0" {
		t.Errorf("priority_map urgent = %q", got)
	}

	rc := tracker.NewRemoteConfig("github", Source())
	if got := rc.GetStringMapString("user_map")["alice"]; got != "alice-gh" {
		t.Errorf("github user_map alice = %q", got)
	}
}

func TestMappingFileMissing(t *testing.T) {
	root := newProject(t, "mapping:\n  file: nope.yaml\n")
	t.Chdir(root)
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	err := Initialize()
	if err == nil || !strings.Contains(err.Error(), "mapping file") {
		t.Fatalf("Initialize() error = %v, want mapping file error", err)
	}
}

func TestLoadMappingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.yaml")
	if err := os.WriteFile(path, []byte("jira: {status_map: {Done: completed}}\ngithub: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadMappingFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Remotes(); !reflect.DeepEqual(got, []string{"github", "jira"}) {
		t.Errorf("Remotes() = %v", got)
	}
	if m["jira"].StatusMap["Done"] != "completed" {
		t.Errorf("jira status_map = %v", m["jira"].StatusMap)
	}

	if err := os.WriteFile(path, []byte("jira: [not, a, map]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMappingFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSourceFeedsRemoteConfig(t *testing.T) {
	root := newProject(t, "jira:\n  url: https://example.atlassian.net\n")
	t.Setenv("JIRA_API_TOKEN", "from-env")
	initIn(t, root)

	rc := tracker.NewRemoteConfig("jira", Source())
	if got := rc.Get("url"); got != "https://example.atlassian.net" {
		t.Errorf("url = %q", got)
	}
	if got := rc.Get("api_token"); got != "from-env" {
		t.Errorf("api_token = %q, want env fallback", got)
	}
}
