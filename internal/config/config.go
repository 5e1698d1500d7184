// Package config is the viper-backed configuration layer for bdsync.
//
// Values resolve in this order: BDSYNC_* environment variables, the project
// config file (.bdsync/config.yaml, found by walking up from the working
// directory), the user config file (~/.config/bdsync/config.yaml), and
// finally the defaults registered in Initialize.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/steveyegge/bdsync/internal/tracker"
)

const (
	// DirName is the per-project directory holding config and state.
	DirName = ".bdsync"
	// FileName is the config file name inside DirName.
	FileName = "config.yaml"
	// EnvPrefix prefixes environment overrides: BDSYNC_SYNC_STRATEGY.
	EnvPrefix = "BDSYNC"
)

var (
	v *viper.Viper
	// projectRoot is the directory containing DirName, or "" when no
	// project config was found.
	projectRoot string
)

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	projectRoot = ""

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	path, root := findConfigFile()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
		projectRoot = root
	}

	if f := v.GetString("mapping.file"); f != "" {
		m, err := LoadMappingFile(ResolvePath(f))
		if err != nil {
			return err
		}
		m.applyTo(v)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := tracker.DefaultConfig()

	v.SetDefault("sync.strategy", string(def.Strategy))
	v.SetDefault("sync.remote_precedence", def.RemotePrecedence)
	v.SetDefault("sync.remotes", []string{"github", "jira"})
	v.SetDefault("sync.fetch_timeout", def.FetchTimeout)
	v.SetDefault("sync.apply_timeout", def.ApplyTimeout)
	v.SetDefault("sync.resolution_budget", def.ResolutionBudget)
	v.SetDefault("sync.parallelism", def.Parallelism)
	v.SetDefault("sync.block_on_busy", false)

	v.SetDefault("retry.max_attempts", def.Retry.MaxAttempts)
	v.SetDefault("retry.initial_interval", def.Retry.InitialInterval)
	v.SetDefault("retry.max_interval", def.Retry.MaxInterval)

	v.SetDefault("store.dir", DirName)
	v.SetDefault("backup.dir", filepath.Join(DirName, "backups"))

	v.SetDefault("audit.file", filepath.Join(DirName, "sync-log.jsonl"))
	v.SetDefault("audit.index", filepath.Join(DirName, "sync.db"))
	v.SetDefault("audit.max_size_mb", 50)
	v.SetDefault("audit.max_backups", 5)
	v.SetDefault("audit.max_age_days", 90)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.stdout", false)
	v.SetDefault("telemetry.service_name", "bdsync")
	v.SetDefault("telemetry.metric_interval", 15*time.Second)
	v.SetDefault("telemetry.otlp_endpoint", "")

	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("mapping.file", "")
}

// findConfigFile returns the config file to read and the project root it
// belongs to. BDSYNC_CONFIG names a file explicitly.
func findConfigFile() (path, root string) {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		return abs, filepath.Dir(filepath.Dir(abs))
	}

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; {
			candidate := filepath.Join(dir, DirName, FileName)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, dir
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if dir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(dir, "bdsync", FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, ""
		}
	}
	return "", ""
}

// ResolvePath anchors a relative path at the project root, or leaves it
// relative to the working directory when no project config was found.
func ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if projectRoot != "" {
		return filepath.Join(projectRoot, p)
	}
	return p
}

// ProjectRoot returns the directory containing .bdsync, if any.
func ProjectRoot() string { return projectRoot }

// ConfigFileUsed returns the path of the loaded config file, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// Source exposes the singleton to remote clients as a tracker.ConfigSource.
// Returns nil before Initialize.
func Source() tracker.ConfigSource {
	if v == nil {
		return nil
	}
	return v
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a list. Comma-separated entries are split, so
// BDSYNC_SYNC_REMOTES=jira,github works from the environment.
func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// GetStringMapString retrieves a nested string table.
func GetStringMapString(key string) map[string]string {
	if v == nil {
		return nil
	}
	return v.GetStringMapString(key)
}

// Set overrides a value for the rest of the process (flags use this).
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// ResetForTesting clears the singleton so tests can call Initialize again.
func ResetForTesting() {
	v = nil
	projectRoot = ""
}
