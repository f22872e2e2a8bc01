// Package config loads the node configuration, application manifests, and
// application profiles from disk, dispatching by file extension across
// JSON (canonical), YAML, and TOML the way the teacher's multi-format
// loader does.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"noded/internal/common/fsutil"
	"noded/internal/nodeerr"
	"noded/pkg/types"
)

func unmarshalByExt(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, v)
	case ".json", "":
		return json.Unmarshal(b, v)
	case ".toml":
		return toml.Unmarshal(b, v)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
}

// LoadNode loads and validates the top-level node configuration.
func LoadNode(path string) (types.NodeConfig, error) {
	var cfg types.NodeConfig
	if path == "" {
		return cfg, nodeerr.ConfigurationError{Msg: "empty config path"}
	}
	if err := unmarshalByExt(path, &cfg); err != nil {
		return cfg, nodeerr.ConfigurationError{Msg: err.Error()}
	}
	if err := expandNodePaths(&cfg); err != nil {
		return cfg, nodeerr.ConfigurationError{Msg: err.Error()}
	}
	if err := validateNode(cfg); err != nil {
		return cfg, err
	}
	if cfg.Admin.Listen == "" {
		cfg.Admin.Listen = ":9270"
	}
	return cfg, nil
}

// expandNodePaths expands a leading '~' in each configured directory so
// operators can write paths like "~/.noded/spool" without the node
// rejecting them as missing before validateNode ever stats them.
func expandNodePaths(cfg *types.NodeConfig) error {
	for _, p := range []*string{&cfg.Paths.Plugins, &cfg.Paths.Runtime, &cfg.Paths.Spool} {
		expanded, err := fsutil.ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

func validateNode(cfg types.NodeConfig) error {
	if cfg.Version != 2 {
		return nodeerr.ConfigurationError{Msg: "the configuration version is invalid"}
	}
	for _, dir := range []string{cfg.Paths.Plugins, cfg.Paths.Runtime, cfg.Paths.Spool} {
		if dir == "" || !fsutil.IsDir(dir) {
			return nodeerr.ConfigurationError{Msg: "configuration path does not exist or is not a directory: " + dir}
		}
	}
	first, second := cfg.PortMapper.Range[0], cfg.PortMapper.Range[1]
	if first <= 0 || second <= 0 || first > second {
		return nodeerr.ConfigurationError{Msg: "port-mapper.range must be a positive pair with first <= second"}
	}
	if err := validateComponents("services", cfg.Services); err != nil {
		return err
	}
	if err := validateComponents("storages", cfg.Storages); err != nil {
		return err
	}
	if err := validateComponents("loggers", cfg.Loggers); err != nil {
		return err
	}
	return nil
}

func validateComponents(section string, components map[string]types.ComponentConfig) error {
	if components == nil {
		return nodeerr.ConfigurationError{Msg: section + " must be present"}
	}
	for name, c := range components {
		if c.Type == "" {
			return nodeerr.ConfigurationError{Msg: section + "." + name + " is missing a type"}
		}
	}
	return nil
}

// LoadManifest loads one application's manifest.
func LoadManifest(path string) (types.Manifest, error) {
	var m types.Manifest
	if err := unmarshalByExt(path, &m); err != nil {
		return m, nodeerr.ConfigurationError{Msg: err.Error()}
	}
	if err := expandManifestPaths(&m); err != nil {
		return m, nodeerr.ConfigurationError{Msg: err.Error()}
	}
	if err := m.Validate(); err != nil {
		return m, nodeerr.ConfigurationError{Msg: err.Error()}
	}
	return m, nil
}

// expandManifestPaths expands a leading '~' in the worker executable path
// and the unix socket endpoint, the same way expandNodePaths does for the
// node configuration.
func expandManifestPaths(m *types.Manifest) error {
	for _, p := range []*string{&m.Slave, &m.Endpoint} {
		expanded, err := fsutil.ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// LoadProfile loads one application's profile, applying defaults for any
// field the file omits. Because Go zero-values a missing integer/duration
// field to 0, defaults are applied to a fresh types.DefaultProfile() that
// raw JSON/YAML/TOML values are unmarshalled on top of.
func LoadProfile(path string) (types.Profile, error) {
	p := types.DefaultProfile()
	if path == "" {
		return p, nil
	}
	if !fsutil.PathExists(path) {
		return p, nil
	}
	raw, err := rawProfile(path)
	if err != nil {
		return p, nodeerr.ConfigurationError{Msg: err.Error()}
	}
	applyProfileOverrides(&p, raw)
	return p, nil
}

// rawProfileFields carries the same fields as types.Profile but as pointers, so a
// field absent from the file is distinguishable from one explicitly set to
// its zero value.
type rawProfileFields struct {
	PoolLimit          *int    `json:"pool-limit" yaml:"pool-limit" toml:"pool-limit"`
	QueueLimit         *int    `json:"queue-limit" yaml:"queue-limit" toml:"queue-limit"`
	Concurrency        *int    `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
	HeartbeatTimeout   *int64  `json:"heartbeat-timeout" yaml:"heartbeat-timeout" toml:"heartbeat-timeout"`
	IdleTimeout        *int64  `json:"idle-timeout" yaml:"idle-timeout" toml:"idle-timeout"`
	StartupTimeout     *int64  `json:"startup-timeout" yaml:"startup-timeout" toml:"startup-timeout"`
	TerminationTimeout *int64  `json:"termination-timeout" yaml:"termination-timeout" toml:"termination-timeout"`
	TerminationGrace   *int64  `json:"termination-grace" yaml:"termination-grace" toml:"termination-grace"`
	LogRetention       *int    `json:"log-retention" yaml:"log-retention" toml:"log-retention"`
}

func rawProfile(path string) (rawProfileFields, error) {
	var raw rawProfileFields
	err := unmarshalByExt(path, &raw)
	return raw, err
}

func applyProfileOverrides(p *types.Profile, raw rawProfileFields) {
	if raw.PoolLimit != nil {
		p.PoolLimit = *raw.PoolLimit
	}
	if raw.QueueLimit != nil {
		p.QueueLimit = *raw.QueueLimit
	}
	if raw.Concurrency != nil {
		p.Concurrency = *raw.Concurrency
	}
	if raw.HeartbeatTimeout != nil {
		p.HeartbeatTimeout = time.Duration(*raw.HeartbeatTimeout) * time.Second
	}
	if raw.IdleTimeout != nil {
		p.IdleTimeout = time.Duration(*raw.IdleTimeout) * time.Second
	}
	if raw.StartupTimeout != nil {
		p.StartupTimeout = time.Duration(*raw.StartupTimeout) * time.Second
	}
	if raw.TerminationTimeout != nil {
		p.TerminationTimeout = time.Duration(*raw.TerminationTimeout) * time.Second
	}
	if raw.TerminationGrace != nil {
		p.TerminationGrace = time.Duration(*raw.TerminationGrace) * time.Second
	}
	if raw.LogRetention != nil {
		p.LogRetention = *raw.LogRetention
	}
}
