package tracker

import (
	"fmt"
	"os"
	"strings"
)

// ConfigSource is the subset of the config layer remote clients read from.
// *viper.Viper satisfies it.
type ConfigSource interface {
	GetString(key string) string
	GetStringMapString(key string) map[string]string
}

// RemoteConfig gives a remote integration prefixed access to configuration.
// Example: for prefix "jira", Get("api_token") reads "jira.api_token" and
// falls back to the JIRA_API_TOKEN environment variable.
type RemoteConfig struct {
	// Prefix is the config key prefix for this remote (e.g., "github", "jira")
	Prefix string

	// Source provides access to the config layer
	Source ConfigSource
}

var _ ConfigLoader = (*RemoteConfig)(nil)

// NewRemoteConfig creates a remote config with the given prefix and source.
func NewRemoteConfig(prefix string, source ConfigSource) *RemoteConfig {
	return &RemoteConfig{Prefix: prefix, Source: source}
}

// Get retrieves a config value by key, checking the config source first and
// then the environment. The key should not include the remote prefix.
func (c *RemoteConfig) Get(key string) string {
	if c.Source != nil {
		if value := c.Source.GetString(c.Prefix + "." + key); value != "" {
			return value
		}
	}
	return os.Getenv(c.envVarName(key))
}

// GetRequired is like Get but returns an error if the value is empty.
func (c *RemoteConfig) GetRequired(key string) (string, error) {
	if value := c.Get(key); value != "" {
		return value, nil
	}
	fullKey := c.Prefix + "." + key
	return "", fmt.Errorf("%s not configured\nSet %s in .bdsync/config.yaml\nOr: export %s=VALUE",
		fullKey, fullKey, c.envVarName(key))
}

// GetStringMapString returns a nested table under the remote's prefix,
// e.g. GetStringMapString("status_map") reads "jira.status_map".
func (c *RemoteConfig) GetStringMapString(key string) map[string]string {
	if c.Source == nil {
		return nil
	}
	if !strings.HasPrefix(key, c.Prefix+".") {
		key = c.Prefix + "." + key
	}
	return c.Source.GetStringMapString(key)
}

// envVarName converts a config key to its environment variable name.
// Example: for prefix "jira" and key "api_token", returns "JIRA_API_TOKEN"
func (c *RemoteConfig) envVarName(key string) string {
	envKey := strings.ToUpper(c.Prefix + "_" + key)
	return strings.ReplaceAll(envKey, ".", "_")
}
