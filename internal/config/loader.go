package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// maxConfigFileSize caps the project file size to guard against memory
// exhaustion from a malformed or malicious YAML document.
const maxConfigFileSize = 1 << 20 // 1 MiB

// knownTopLevelKeys lists the top-level keys this schema understands;
// anything else is a warning, not a fatal error.
var knownTopLevelKeys = map[string]bool{
	"project":      true,
	"ssh":          true,
	"servers":      true,
	"services":     true,
	"environment":  true,
	"builder":      true,
	"network":      true,
	"secrets":      true,
	"secrets_path": true,
}

// Loader reads, merges, defaults, and validates a jiji project file.
type Loader struct {
	basePath    string
	destination string
	env         EnvSource
}

// NewLoader creates a Loader for basePath, optionally overlaying a
// destination-specific file (deploy.<destination>.yml next to basePath).
func NewLoader(basePath, destination string) *Loader {
	return &Loader{basePath: basePath, destination: destination, env: OSEnv{}}
}

// WithEnvSource overrides the EnvSource used for safe variable expansion.
func (l *Loader) WithEnvSource(env EnvSource) *Loader {
	l.env = env
	return l
}

// Load reads the base file (and destination overlay, if any), applies
// defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg, warnings, err := l.loadFile(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", l.basePath, err)
	}

	if l.destination != "" {
		destPath := destinationPath(l.basePath, l.destination)
		if _, statErr := os.Stat(destPath); statErr == nil {
			overlay, overlayWarnings, err := l.loadFile(destPath)
			if err != nil {
				return nil, fmt.Errorf("loading destination config %s: %w", destPath, err)
			}
			cfg = mergeConfigs(cfg, overlay)
			warnings = append(warnings, overlayWarnings...)
		}
	}

	applyDefaults(cfg)
	cfg.UnknownKeys = warnings

	if err := Resolve(cfg); err != nil {
		return nil, fmt.Errorf("resolving config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func destinationPath(basePath, destination string) string {
	dir := ""
	base := basePath
	for i := len(basePath) - 1; i >= 0; i-- {
		if basePath[i] == '/' {
			dir = basePath[:i+1]
			base = basePath[i+1:]
			break
		}
	}
	// deploy.yml -> deploy.<destination>.yml
	name := base
	ext := ""
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			ext = name[i:]
			name = name[:i]
			break
		}
	}
	return dir + name + "." + destination + ext
}

func (l *Loader) loadFile(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if len(data) > maxConfigFileSize {
		return nil, nil, fmt.Errorf("config file exceeds maximum size (%d bytes)", maxConfigFileSize)
	}

	data = []byte(safeExpandEnv(string(data), l.env))

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, fmt.Errorf("parsing YAML: %w", err)
	}
	warnings := unknownKeyWarnings(&root)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return &cfg, warnings, nil
}

func unknownKeyWarnings(root *yaml.Node) []string {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	var unknown []string
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i].Value
		if !knownTopLevelKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// safeExpandEnv expands only environment variable references whose names
// look like intentional config placeholders (upper-case, digits,
// underscore), preventing accidental leakage of unrelated host environment
// variables into the project file.
func safeExpandEnv(s string, env EnvSource) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := -1
			for j := i + 2; j < len(s); j++ {
				if s[j] == '}' {
					end = j
					break
				}
			}
			if end > 0 {
				name := s[i+2 : end]
				if isSafeEnvName(name) {
					out = append(out, env.Getenv(name)...)
					i = end
					continue
				}
			}
		}
		out = append(out, s[i])
	}
	return string(out)
}

func isSafeEnvName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// mergeConfigs overlays the destination-specific config onto the base
// config. Maps are merged key-by-key; scalars are overridden when the
// overlay sets a non-zero value.
func mergeConfigs(base, overlay *Config) *Config {
	merged := *base

	if overlay.Project != "" {
		merged.Project = overlay.Project
	}
	if overlay.SecretsPath != "" {
		merged.SecretsPath = overlay.SecretsPath
	}
	merged.Secrets = mergeStringSlice(base.Secrets, overlay.Secrets)

	merged.Servers = mergeServerMap(base.Servers, overlay.Servers)
	merged.Services = mergeServiceMap(base.Services, overlay.Services)
	merged.Environment = mergeStringMap(base.Environment, overlay.Environment)

	return &merged
}

func mergeStringSlice(base, overlay []string) []string {
	if len(overlay) == 0 {
		return base
	}
	return overlay
}

func mergeStringMap(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func mergeServerMap(base, overlay map[string]ServerConfig) map[string]ServerConfig {
	out := make(map[string]ServerConfig, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func mergeServiceMap(base, overlay map[string]ServiceSpec) map[string]ServiceSpec {
	out := make(map[string]ServiceSpec, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// applyDefaults fills in fields the project file is allowed to omit.
func applyDefaults(cfg *Config) {
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.SSH.User == "" {
		cfg.SSH.User = "root"
	}
	if cfg.SSH.ConnectTimeout == 0 {
		cfg.SSH.ConnectTimeout = yamlDuration(30_000_000_000) // 30s
	}
	if cfg.SecretsPath == "" {
		cfg.SecretsPath = ".jiji/secrets"
	}

	for name, svc := range cfg.Services {
		if svc.Retain < 1 {
			svc.Retain = 1
		}
		cfg.Services[name] = svc
	}
}
