package cli

import (
	"fmt"

	"github.com/acidtib/jiji/internal/config"
)

// resolveServiceEnv merges project-wide and service-level clear values with
// secrets pulled from store, producing the fully resolved env map a
// hostdriver.Request needs. No component downstream of this function reads
// secrets itself.
func resolveServiceEnv(c *config.Config, store config.SecretStore) func(config.ServiceSpec) (map[string]string, error) {
	return func(svc config.ServiceSpec) (map[string]string, error) {
		env := make(map[string]string, len(c.Environment)+len(svc.Env.Clear))
		for k, v := range c.Environment {
			env[k] = v
		}
		for k, v := range svc.Env.Clear {
			env[k] = v
		}

		for _, name := range config.RequiredSecrets(c, svc) {
			value, ok := store.Get(name)
			if !ok {
				return nil, fmt.Errorf("service %s: secret %q not found", svc.Name, name)
			}
			env[name] = value
		}
		return env, nil
	}
}
