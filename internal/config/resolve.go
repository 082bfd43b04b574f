package config

import "fmt"

// Resolve turns the raw, YAML-shaped Config into a frozen Resolved view:
// every ServiceSpec gets its Name/Project filled in from its map key and the
// project default, and every host a service references — named or inline —
// becomes a concrete ServerRef reachable by name. It must run before
// ResolvedServers/ResolvedServices return anything.
func Resolve(cfg *Config) error {
	servers := make(map[string]ServerRef, len(cfg.Servers))
	for name, sc := range cfg.Servers {
		servers[name] = mergeServerRef(cfg, name, sc)
	}

	services := make(map[string]ServiceSpec, len(cfg.Services))
	inlineSeq := 0
	for name, svc := range cfg.Services {
		svc.Name = name
		if svc.Project == "" {
			svc.Project = cfg.Project
		}

		resolvedHosts := make(HostRefs, 0, len(svc.Hosts))
		for _, h := range svc.Hosts {
			if h.Inline != nil {
				inlineSeq++
				synthName := fmt.Sprintf("%s-inline-%d", name, inlineSeq)
				servers[synthName] = mergeServerRef(cfg, synthName, *h.Inline)
				resolvedHosts = append(resolvedHosts, HostRef{Name: synthName})
				continue
			}
			if _, ok := servers[h.Name]; !ok {
				return fmt.Errorf("service %q: unknown host %q", name, h.Name)
			}
			resolvedHosts = append(resolvedHosts, h)
		}
		svc.Hosts = resolvedHosts

		services[name] = svc
	}

	cfg.resolved = &Resolved{Servers: servers, Services: services}
	return nil
}

// mergeServerRef builds a ServerRef by layering the project's SSH defaults
// under a server's own overrides.
func mergeServerRef(cfg *Config, name string, sc ServerConfig) ServerRef {
	ref := ServerRef{
		Name: name,
		Host: sc.Host,
		Arch: sc.Arch,
		User: sc.User,
		Port: sc.Port,
		Keys: sc.Keys,
	}
	if ref.Arch == "" {
		ref.Arch = "amd64"
	}
	if ref.User == "" {
		ref.User = cfg.SSH.User
	}
	if ref.Port == 0 {
		ref.Port = cfg.SSH.Port
	}
	if len(ref.Keys) == 0 {
		ref.Keys = cfg.SSH.Keys
	}
	return ref
}
