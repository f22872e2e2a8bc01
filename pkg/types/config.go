package types

// NodeConfig is the top-level node configuration file contract. Fields map
// 1:1 onto the JSON document the CLI's --configuration flag points at.
type NodeConfig struct {
	// Version must equal 2; any other value fails startup.
	// example: 2
	Version int `json:"version" yaml:"version" toml:"version" example:"2"`
	// Paths lists the directories the runtime expects to already exist.
	Paths PathsConfig `json:"paths" yaml:"paths" toml:"paths"`
	// PortMapper bounds the TCP port range available to components that
	// need one (reserved for future use by built-in storages/loggers).
	PortMapper PortMapperConfig `json:"port-mapper" yaml:"port-mapper" toml:"port-mapper"`
	// Services, Storages, and Loggers are free-form component registries;
	// the node validates their shape but does not load or execute them
	// (they are external collaborators referenced only through contract).
	Services map[string]ComponentConfig `json:"services" yaml:"services" toml:"services"`
	Storages map[string]ComponentConfig `json:"storages" yaml:"storages" toml:"storages"`
	Loggers  map[string]ComponentConfig `json:"loggers" yaml:"loggers" toml:"loggers"`
	// Admin configures the operator-facing HTTP surface. Listen defaults to
	// ":9270" when empty.
	Admin AdminConfig `json:"admin" yaml:"admin" toml:"admin"`
}

// AdminConfig configures the admin API's HTTP listener.
type AdminConfig struct {
	// Listen is the TCP address the admin API binds, e.g. ":9270".
	Listen string `json:"listen" yaml:"listen" toml:"listen" example:":9270"`
}

// PathsConfig lists the directories a node configuration must provide.
type PathsConfig struct {
	// Plugins is where application manifests/profiles are discovered.
	Plugins string `json:"plugins" yaml:"plugins" toml:"plugins"`
	// Runtime is reserved for transient state; the node only validates that
	// it exists (worker control sockets sit beside each manifest endpoint).
	Runtime string `json:"runtime" yaml:"runtime" toml:"runtime"`
	// Spool holds application-owned persistent data (out of scope here;
	// the node only validates the directory exists).
	Spool string `json:"spool" yaml:"spool" toml:"spool"`
}

// PortMapperConfig describes the inclusive port range reserved for
// components that bind a TCP port.
type PortMapperConfig struct {
	Range [2]int `json:"range" yaml:"range" toml:"range" example:"[10053,10100]"`
}

// ComponentConfig is the common {type, args} shape used by services,
// storages, and loggers entries.
type ComponentConfig struct {
	Type string                 `json:"type" yaml:"type" toml:"type"`
	Args map[string]interface{} `json:"args" yaml:"args" toml:"args"`
}
