package config

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError names a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every ValidationError found during Validate, so
// a caller sees all problems in one pass instead of fixing them one at a time.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return strings.Join(parts, "; ")
}

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks a Config that has already been through Resolve against the
// project's structural invariants. It always runs after Resolve, since host
// references must already be concrete ServerRefs.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	if cfg.Project == "" {
		errs = append(errs, ValidationError{"project", "is required"})
	}

	for name, ref := range cfg.ResolvedServers() {
		field := fmt.Sprintf("servers.%s", name)
		if ref.Host == "" {
			errs = append(errs, ValidationError{field + ".host", "is required"})
		}
		if ref.Arch != "amd64" && ref.Arch != "arm64" {
			errs = append(errs, ValidationError{field + ".arch", "must be amd64 or arm64"})
		}
		if ref.Port < 1 || ref.Port > 65535 {
			errs = append(errs, ValidationError{field + ".port", "must be between 1 and 65535"})
		}
	}

	for name, svc := range cfg.ResolvedServices() {
		errs = append(errs, validateService(name, svc)...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateService(name string, svc ServiceSpec) ValidationErrors {
	var errs ValidationErrors
	field := func(suffix string) string { return fmt.Sprintf("services.%s.%s", name, suffix) }

	hasImage := svc.Image != ""
	hasBuild := svc.Build != nil
	switch {
	case hasImage && hasBuild:
		errs = append(errs, ValidationError{field("image"), "cannot be set together with build"})
	case !hasImage && !hasBuild:
		errs = append(errs, ValidationError{field("image"), "or build is required"})
	}

	if len(svc.Hosts) == 0 {
		errs = append(errs, ValidationError{field("hosts"), "must name at least one host"})
	}

	for _, p := range svc.Ports {
		if err := validatePortMapping(p); err != nil {
			errs = append(errs, ValidationError{field("ports"), err.Error()})
		}
	}

	for k := range svc.Env.Clear {
		if !envNamePattern.MatchString(k) {
			errs = append(errs, ValidationError{field("env.clear"), fmt.Sprintf("invalid variable name %q", k)})
		}
	}
	for _, k := range svc.Env.Secret {
		if !envNamePattern.MatchString(k) {
			errs = append(errs, ValidationError{field("env.secrets"), fmt.Sprintf("invalid variable name %q", k)})
		}
	}

	if svc.Retain < 1 {
		errs = append(errs, ValidationError{field("retain"), "must be at least 1"})
	}

	if svc.Proxy != nil && svc.Proxy.Enabled {
		if len(svc.Proxy.Targets) == 0 {
			errs = append(errs, ValidationError{field("proxy.targets"), "must have at least one target when proxy is enabled"})
		}
		for i, t := range svc.Proxy.Targets {
			tf := fmt.Sprintf("proxy.targets[%d]", i)
			if len(t.Hosts) == 0 {
				errs = append(errs, ValidationError{field(tf + ".host"), "is required"})
			}
			if t.Healthcheck.Path == "" {
				errs = append(errs, ValidationError{field(tf + ".healthcheck.path"), "is required"})
			}
		}
	}

	return errs
}

// validatePortMapping checks a "[host_ip:]host_port:container_port[/proto]"
// or bare "container_port" port string, bounding each numeric side to
// [1, 65535]. The optional leading host_ip is only present in the 3-part
// form and is not itself validated here — it's an address, not a port.
func validatePortMapping(p string) error {
	proto := "tcp"
	if idx := strings.IndexByte(p, '/'); idx >= 0 {
		proto = p[idx+1:]
		p = p[:idx]
	}
	if proto != "tcp" && proto != "udp" {
		return fmt.Errorf("invalid protocol %q in %q", proto, p)
	}

	parts := strings.Split(p, ":")
	if len(parts) == 0 || len(parts) > 3 {
		return fmt.Errorf("invalid port mapping %q", p)
	}
	ports := parts
	if len(parts) == 3 {
		ports = parts[1:]
	}
	for _, part := range ports {
		if err := validatePortNumber(part); err != nil {
			return fmt.Errorf("invalid port mapping %q: %w", p, err)
		}
	}
	return nil
}

func validatePortNumber(s string) error {
	if s == "" {
		return fmt.Errorf("empty port")
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return fmt.Errorf("%q is not numeric", s)
		}
		n = n*10 + int(c-'0')
		if n > 65535 {
			break
		}
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%q must be between 1 and 65535", s)
	}
	return nil
}
