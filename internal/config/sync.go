package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/steveyegge/bdsync/internal/tracker"
)

// GetStrategy returns the configured default conflict strategy.
// An invalid value logs a warning to stderr and falls back to merge.
func GetStrategy() tracker.Strategy {
	value := GetString("sync.strategy")
	if value == "" {
		return tracker.StrategyMerge
	}
	s, err := tracker.ParseStrategy(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid sync.strategy %q in config (valid: %s), using default %q\n",
			value, strings.Join(strategyNames(), ", "), tracker.StrategyMerge)
		return tracker.StrategyMerge
	}
	return s
}

func strategyNames() []string {
	names := make([]string, 0, len(tracker.Strategies))
	for _, s := range tracker.Strategies {
		names = append(names, string(s))
	}
	return names
}

// GetRemotes returns the configured remote names in write order.
func GetRemotes() []string {
	return GetStringSlice("sync.remotes")
}

// GetRetryPolicy builds the remote retry policy from retry.* keys.
func GetRetryPolicy() tracker.RetryPolicy {
	p := tracker.DefaultRetryPolicy()
	if n := GetInt("retry.max_attempts"); n > 0 {
		p.MaxAttempts = n
	}
	if d := GetDuration("retry.initial_interval"); d > 0 {
		p.InitialInterval = d
	}
	if d := GetDuration("retry.max_interval"); d > 0 {
		p.MaxInterval = d
	}
	return p
}

// LoadSyncConfig builds the orchestrator config and validates it against
// the configured remotes.
func LoadSyncConfig() (tracker.Config, error) {
	cfg := tracker.DefaultConfig()
	cfg.Strategy = GetStrategy()
	if p := GetString("sync.remote_precedence"); p != "" {
		cfg.RemotePrecedence = p
	}
	if d := GetDuration("sync.fetch_timeout"); d != 0 {
		cfg.FetchTimeout = d
	}
	if d := GetDuration("sync.apply_timeout"); d != 0 {
		cfg.ApplyTimeout = d
	}
	if v != nil && v.IsSet("sync.resolution_budget") {
		cfg.ResolutionBudget = GetDuration("sync.resolution_budget")
	}
	if n := GetInt("sync.parallelism"); n != 0 {
		cfg.Parallelism = n
	}
	cfg.BlockOnBusy = GetBool("sync.block_on_busy")
	cfg.Retry = GetRetryPolicy()

	if err := cfg.Validate(GetRemotes()); err != nil {
		return tracker.Config{}, fmt.Errorf("invalid sync config: %w", err)
	}
	return cfg, nil
}
