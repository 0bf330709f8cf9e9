// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the pernetd configuration from HCL, JSON or YAML.
package config

// Default listen addresses for the operator API.
const (
	DefaultListen = "127.0.0.1:8780"
	DefaultSocket = "/run/pernet/pernetd.sock"
)

// Config is the top-level pernetd configuration.
type Config struct {
	Log    *LogConfig    `hcl:"log,block" json:"log,omitempty" yaml:"log,omitempty"`
	Sysctl *SysctlConfig `hcl:"sysctl,block" json:"sysctl,omitempty" yaml:"sysctl,omitempty"`
	Memory *MemoryConfig `hcl:"memory,block" json:"memory,omitempty" yaml:"memory,omitempty"`
	API    *APIConfig    `hcl:"api,block" json:"api,omitempty" yaml:"api,omitempty"`
	MPTCP  *MPTCPConfig  `hcl:"mptcp,block" json:"mptcp,omitempty" yaml:"mptcp,omitempty"`

	// Namespaces are created at boot, after the default namespace.
	Namespaces []NamespaceConfig `hcl:"namespace,block" json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// @enum: debug, info, warn, error
	// @default: "info"
	Level string `hcl:"level,optional" json:"level,omitempty" yaml:"level,omitempty"`
	JSON  bool   `hcl:"json,optional" json:"json,omitempty" yaml:"json,omitempty"`
}

// SysctlConfig configures the control surface.
type SysctlConfig struct {
	// Upper bound on registered tables; 0 means unlimited.
	// @default: 0
	MaxTables int `hcl:"max_tables,optional" json:"max_tables,omitempty" yaml:"max_tables,omitempty"`
	// Publish the shared template in the default namespace instead of a
	// private copy.
	// @default: true
	ShareDefaultTemplate *bool `hcl:"share_default_template,optional" json:"share_default_template,omitempty" yaml:"share_default_template,omitempty"`
}

// MemoryConfig bounds accounted allocations.
type MemoryConfig struct {
	// @default: 0 (unlimited)
	LimitBytes int64 `hcl:"limit_bytes,optional" json:"limit_bytes,omitempty" yaml:"limit_bytes,omitempty"`
}

// APIConfig configures the operator API.
type APIConfig struct {
	// TCP listen address; empty disables the TCP listener.
	Listen string `hcl:"listen,optional" json:"listen,omitempty" yaml:"listen,omitempty"`
	// Unix socket path; empty disables the socket. Root peers get admin rights.
	Socket string `hcl:"socket,optional" json:"socket,omitempty" yaml:"socket,omitempty"`
	// Bearer token granting admin rights on either listener.
	AdminToken string `hcl:"admin_token,optional" json:"admin_token,omitempty" yaml:"admin_token,omitempty"`
}

// MPTCPConfig configures the multipath subsystem.
type MPTCPConfig struct {
	// @default: true
	IPv6 *bool `hcl:"ipv6,optional" json:"ipv6,omitempty" yaml:"ipv6,omitempty"`
}

// NamespaceConfig describes a namespace pre-created at boot.
type NamespaceConfig struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`
	// Initial value of net/mptcp/enabled; unset keeps the default.
	Enabled *bool `hcl:"enabled,optional" json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Sysctl == nil {
		c.Sysctl = &SysctlConfig{}
	}
	if c.Sysctl.ShareDefaultTemplate == nil {
		c.Sysctl.ShareDefaultTemplate = boolPtr(true)
	}
	if c.Memory == nil {
		c.Memory = &MemoryConfig{}
	}
	if c.API == nil {
		c.API = &APIConfig{Listen: DefaultListen, Socket: DefaultSocket}
	}
	if c.MPTCP == nil {
		c.MPTCP = &MPTCPConfig{}
	}
	if c.MPTCP.IPv6 == nil {
		c.MPTCP.IPv6 = boolPtr(true)
	}
}

// ShareDefaultTemplate reports the effective sysctl.share_default_template.
func (c *Config) ShareDefaultTemplate() bool {
	return c.Sysctl == nil || c.Sysctl.ShareDefaultTemplate == nil || *c.Sysctl.ShareDefaultTemplate
}

// IPv6 reports the effective mptcp.ipv6.
func (c *Config) IPv6() bool {
	return c.MPTCP == nil || c.MPTCP.IPv6 == nil || *c.MPTCP.IPv6
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := &Config{Namespaces: make([]NamespaceConfig, 0, len(c.Namespaces))}
	if c.Log != nil {
		v := *c.Log
		out.Log = &v
	}
	if c.Sysctl != nil {
		v := *c.Sysctl
		v.ShareDefaultTemplate = cloneBool(v.ShareDefaultTemplate)
		out.Sysctl = &v
	}
	if c.Memory != nil {
		v := *c.Memory
		out.Memory = &v
	}
	if c.API != nil {
		v := *c.API
		out.API = &v
	}
	if c.MPTCP != nil {
		v := *c.MPTCP
		v.IPv6 = cloneBool(v.IPv6)
		out.MPTCP = &v
	}
	for _, ns := range c.Namespaces {
		ns.Enabled = cloneBool(ns.Enabled)
		out.Namespaces = append(out.Namespaces, ns)
	}
	return out
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	return boolPtr(*b)
}

func boolPtr(b bool) *bool { return &b }
