// Package config loads and validates the jiji project description: named
// servers, deployable services, and the proxy/health rules that bind them.
// Loading is split into raw YAML decoding (this file + loader.go) and
// construction of frozen, validated value records (Resolve, in resolve.go).
package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root of a loaded jiji project file (.jiji/deploy.yml).
type Config struct {
	Project     string                  `yaml:"project"`
	SSH         SSHConfig               `yaml:"ssh"`
	Servers     map[string]ServerConfig `yaml:"servers"`
	Services    map[string]ServiceSpec  `yaml:"services"`
	Environment map[string]string       `yaml:"environment"`
	Builder     BuilderConfig           `yaml:"builder"`
	Network     NetworkConfig           `yaml:"network"`
	Secrets     []string                `yaml:"secrets"`
	SecretsPath string                  `yaml:"secrets_path"`

	// UnknownKeys collects top-level keys that are not recognized by this
	// schema, populated by the loader. These are warnings, never fatal.
	UnknownKeys []string `yaml:"-"`

	// resolved is populated by Resolve() and holds the frozen, validated
	// view of the project: named ServerRefs (including ones synthesized from
	// inline host objects) and ServiceSpecs with their names/projects filled
	// in from the map key and top-level default.
	resolved *Resolved `yaml:"-"`
}

// Resolved is the frozen result of resolving a Config: every ServerRef name
// referenced by any service is guaranteed to exist, and every ServiceSpec
// carries its own Name/Project already populated.
type Resolved struct {
	Servers  map[string]ServerRef
	Services map[string]ServiceSpec
}

// ResolvedServers returns the resolved server table. Load must have succeeded first.
func (c *Config) ResolvedServers() map[string]ServerRef {
	if c.resolved == nil {
		return nil
	}
	return c.resolved.Servers
}

// ResolvedServices returns the resolved service table, keyed by name.
func (c *Config) ResolvedServices() map[string]ServiceSpec {
	if c.resolved == nil {
		return nil
	}
	return c.resolved.Services
}

// RemoteSecretsPath is where the project's secrets file is expected to live
// on every target host, defaulting to the project-relative secrets_path.
func RemoteSecretsPath(c *Config) string {
	if c.SecretsPath != "" {
		return c.SecretsPath
	}
	return ".jiji/secrets"
}

// SSHConfig holds the default SSH connection parameters for all servers;
// individual ServerConfig entries may override User/Port/Keys.
type SSHConfig struct {
	User           string        `yaml:"user"`
	Port           int           `yaml:"port"`
	Keys           []string      `yaml:"keys"`
	ConnectTimeout yamlDuration  `yaml:"connect_timeout"`
	Proxy          SSHProxyConf  `yaml:"proxy"`
	KnownHostsFile string        `yaml:"known_hosts_file"`
	Fingerprints   map[string][]string `yaml:"trusted_host_fingerprints"`
}

// SSHProxyConf describes an optional bastion/jump host.
type SSHProxyConf struct {
	Host string   `yaml:"host"`
	User string   `yaml:"user"`
	Port int      `yaml:"port"`
	Keys []string `yaml:"keys"`
}

// ServerConfig is the raw YAML shape of a named ServerRef entry.
type ServerConfig struct {
	Host string   `yaml:"host"`
	Arch string   `yaml:"arch"` // amd64|arm64
	User string   `yaml:"user"`
	Port int      `yaml:"port"`
	Keys []string `yaml:"keys"`
}

// ServerRef is a named remote endpoint: immutable after Resolve, with shell
// credentials already merged from SSHConfig defaults and per-server override.
type ServerRef struct {
	Name string
	Host string
	Arch string // "amd64" or "arm64"
	User string
	Port int
	Keys []string
}

// BuilderConfig, NetworkConfig are carried through from the project file for
// an external image-builder collaborator — jiji itself only reads them to
// pass along, it does not build images.
type BuilderConfig struct {
	Multiarch bool              `yaml:"multiarch"`
	Arch      string            `yaml:"arch"`
	Args      map[string]string `yaml:"args"`
}

type NetworkConfig struct {
	Name string `yaml:"name"`
}

// ServiceSpec is a deployable unit.
type ServiceSpec struct {
	Project string `yaml:"project"`
	Name    string `yaml:"-"`

	Image string       `yaml:"image"`
	Build *BuildSource `yaml:"build"`

	Hosts HostRefs `yaml:"hosts"`
	Ports []string `yaml:"ports"`

	Env EnvSpec `yaml:"env"`

	Volumes []string    `yaml:"volumes"`
	Command CommandSpec `yaml:"command"`

	CPUs       string   `yaml:"cpus"`
	Memory     string   `yaml:"memory"`
	GPUs       string   `yaml:"gpus"`
	Devices    []string `yaml:"devices"`
	Privileged bool     `yaml:"privileged"`
	CapAdd     []string `yaml:"cap_add"`

	Proxy *ProxySpec `yaml:"proxy"`

	Retain int `yaml:"retain"`
}

// BuildSource describes the `build:` alternative to `image:`.
type BuildSource struct {
	Context    string            `yaml:"context"`
	Dockerfile string            `yaml:"dockerfile"`
	Args       map[string]string `yaml:"args"`
	Target     string            `yaml:"target"`
}

// EnvSpec holds the clear/secret environment split.
type EnvSpec struct {
	// Clear holds literal values. YAML integers/booleans are coerced to
	// strings via coercingMap's UnmarshalYAML.
	Clear coercingMap `yaml:"clear"`
	// Secret lists variable names resolved from SecretStore at apply time.
	Secret []string `yaml:"secrets"`
}

// coercingMap is map[string]string that accepts YAML scalars of any type
// (int, bool, float, string) for its values and coerces them to strings.
type coercingMap map[string]string

func (m *coercingMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("env.clear: expected a mapping")
	}
	out := make(map[string]string, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		valNode := value.Content[i+1]
		var key string
		if err := keyNode.Decode(&key); err != nil {
			return fmt.Errorf("env.clear: invalid key: %w", err)
		}
		out[key] = scalarToString(valNode)
	}
	*m = out
	return nil
}

func scalarToString(n *yaml.Node) string {
	switch n.Tag {
	case "!!bool":
		b, _ := strconv.ParseBool(n.Value)
		return strconv.FormatBool(b)
	default:
		return n.Value
	}
}

// CommandSpec accepts either a plain string (split on whitespace, with no
// quoting rules beyond that) or an explicit argv list.
type CommandSpec struct {
	Argv []string
	set  bool
}

func (c *CommandSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		c.Argv = strings.Fields(s)
		c.set = true
		return nil
	case yaml.SequenceNode:
		var argv []string
		if err := value.Decode(&argv); err != nil {
			return err
		}
		c.Argv = argv
		c.set = true
		return nil
	case 0:
		return nil
	default:
		return fmt.Errorf("command: expected a string or a list of strings")
	}
}

func (c CommandSpec) IsSet() bool { return c.set }

// HostRefs is the list of hosts a service targets. Each entry accepts
// either a plain server name string, or an inline object `{host:
// "1.2.3.4", arch: "amd64"}`. Inline entries are normalized to synthetic
// ServerRef names during Resolve.
type HostRefs []HostRef

type HostRef struct {
	// Name references an existing top-level `servers` entry.
	Name string
	// Inline is set when the YAML node was an object instead of a string;
	// Resolve will synthesize a ServerRef for it.
	Inline *ServerConfig
}

func (h *HostRefs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("hosts: expected a list")
	}
	refs := make(HostRefs, 0, len(value.Content))
	for _, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			var name string
			if err := item.Decode(&name); err != nil {
				return fmt.Errorf("hosts: %w", err)
			}
			refs = append(refs, HostRef{Name: name})
		case yaml.MappingNode:
			var inline ServerConfig
			if err := item.Decode(&inline); err != nil {
				return fmt.Errorf("hosts: inline host: %w", err)
			}
			refs = append(refs, HostRef{Inline: &inline})
		default:
			return fmt.Errorf("hosts: entries must be a server name or an inline host object")
		}
	}
	*h = refs
	return nil
}

// ProxySpec is the optional per-service reverse-proxy configuration.
type ProxySpec struct {
	Enabled bool         `yaml:"enabled"`
	Targets []ProxyTarget `yaml:"targets"`
}

// ProxyTarget accepts `host` as either a single string or a list of
// strings in YAML; after unmarshaling both collapse to Hosts.
type ProxyTarget struct {
	Hosts       []string
	SSL         bool
	Healthcheck HealthcheckSpec
}

type proxyTargetRaw struct {
	Host        yaml.Node       `yaml:"host"`
	SSL         bool            `yaml:"ssl"`
	Healthcheck HealthcheckSpec `yaml:"healthcheck"`
}

func (t *ProxyTarget) UnmarshalYAML(value *yaml.Node) error {
	var raw proxyTargetRaw
	if err := value.Decode(&raw); err != nil {
		return err
	}
	t.SSL = raw.SSL
	t.Healthcheck = raw.Healthcheck

	switch raw.Host.Kind {
	case yaml.ScalarNode:
		var h string
		if err := raw.Host.Decode(&h); err != nil {
			return fmt.Errorf("proxy target host: %w", err)
		}
		if h != "" {
			t.Hosts = []string{h}
		}
	case yaml.SequenceNode:
		var hs []string
		if err := raw.Host.Decode(&hs); err != nil {
			return fmt.Errorf("proxy target hosts: %w", err)
		}
		t.Hosts = hs
	case 0:
		// not provided
	default:
		return fmt.Errorf("proxy target host: expected a string or a list of strings")
	}
	return nil
}

// HealthcheckSpec configures EdgeProxy's health-gated cut-over.
type HealthcheckSpec struct {
	Path          string       `yaml:"path"`
	Interval      yamlDuration `yaml:"interval"`
	Timeout       yamlDuration `yaml:"timeout"`
	DeployTimeout yamlDuration `yaml:"deploy_timeout"`
}
