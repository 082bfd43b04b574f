package engine

import (
	"fmt"
	"strings"

	"github.com/acidtib/jiji/internal/shell"
	"github.com/acidtib/jiji/internal/state"
)

// RegistryAuth carries credentials for one `<engine> login` call.
type RegistryAuth struct {
	Server   string
	Username string
	Password string
}

// RegistryManager handles authentication against container registries.
// Login is serialized per host with a flock against the engine's shared
// auth file, the same pattern the pre-unification podman package used.
type RegistryManager struct {
	client *Client
	user   string
}

func NewRegistryManager(client *Client, user string) *RegistryManager {
	if user == "" {
		user = "root"
	}
	return &RegistryManager{client: client, user: user}
}

func (m *RegistryManager) Login(host string, auth *RegistryAuth) error {
	server := auth.Server
	if server == "" {
		server = "docker.io"
	}

	stateDir := state.DirQuoted(m.user)
	lockName := string(m.client.engine) + "-auth"
	lockFile := state.LockFileQuoted(m.user, lockName)

	cmd := fmt.Sprintf("mkdir -p %s && flock -x -w 60 %s %s login --username %s --password-stdin %s",
		stateDir, lockFile, m.client.engine, shell.Quote(auth.Username), shell.Quote(server))

	result, err := m.client.ssh.ExecuteWithStdin(host, cmd, strings.NewReader(auth.Password+"\n"))
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("login failed: %s", result.Stderr)
	}
	return nil
}

func (m *RegistryManager) LoginAll(hosts []string, auth *RegistryAuth) map[string]error {
	errs := make(map[string]error)
	for _, host := range hosts {
		if err := m.Login(host, auth); err != nil {
			errs[host] = err
		}
	}
	return errs
}

// ParseImageRef splits an image reference into registry, repository, tag.
func ParseImageRef(image string) (registry, repository, tag string) {
	registry = "docker.io"
	tag = "latest"

	if idx := strings.LastIndex(image, ":"); idx != -1 && !strings.Contains(image[idx:], "/") {
		tag = image[idx+1:]
		image = image[:idx]
	} else if idx := strings.LastIndex(image, "@"); idx != -1 {
		tag = image[idx+1:]
		image = image[:idx]
	}

	parts := strings.SplitN(image, "/", 2)
	if len(parts) == 2 && (strings.Contains(parts[0], ".") || strings.Contains(parts[0], ":")) {
		registry = parts[0]
		repository = parts[1]
	} else if len(parts) == 1 {
		repository = "library/" + parts[0]
	} else {
		repository = image
	}

	return registry, repository, tag
}
