package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// RemoteMapping holds the vocabulary tables for one remote.
type RemoteMapping struct {
	StatusMap   map[string]string `yaml:"status_map"`
	PriorityMap map[string]string `yaml:"priority_map"`
	UserMap     map[string]string `yaml:"user_map"`
}

// MappingFile is the optional mapping override file named by mapping.file.
// It is keyed by remote name:
//
//	jira:
//	  status_map:
//	    In Review: in_progress
//	  user_map:
//	    alice: 5b10ac8d82e05b22cc7d4ef5
type MappingFile map[string]RemoteMapping

// LoadMappingFile reads and parses a mapping file. Unlike the main config
// file it is read directly with yaml.v3 so status names keep their spaces.
func LoadMappingFile(path string) (MappingFile, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path from user config
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}
	var m MappingFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing mapping file %s: %w", path, err)
	}
	return m, nil
}

// Remotes returns the remote names in the file, sorted.
func (m MappingFile) Remotes() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyTo folds the file's tables into the config under
// <remote>.status_map and friends. Entries already present in config.yaml
// win over the mapping file.
func (m MappingFile) applyTo(v *viper.Viper) {
	for _, remote := range m.Remotes() {
		rm := m[remote]
		merge(v, remote+".status_map", rm.StatusMap)
		merge(v, remote+".priority_map", rm.PriorityMap)
		merge(v, remote+".user_map", rm.UserMap)
	}
}

func merge(v *viper.Viper, key string, table map[string]string) {
	if len(table) == 0 {
		return
	}
	merged := make(map[string]interface{}, len(table))
	for k, val := range table {
		merged[strings.ToLower(k)] = val
	}
	for k, val := range v.GetStringMapString(key) {
		merged[k] = val
	}
	v.Set(key, merged)
}
