package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/acidtib/jiji/internal/ssh"
)

// RunSpec describes a container to start. All values must already be fully
// resolved by the caller (secrets included) — this package has no knowledge
// of where environment values come from.
type RunSpec struct {
	Name           string
	Image          string
	Command        []string
	Env            map[string]string
	Ports          []string
	Volumes        []string
	Labels         map[string]string
	Network        string
	NetworkAliases []string
	Memory         string
	CPUs           string
	Devices        []string
	CapAdd         []string
	Privileged     bool
	Restart        string

	HealthCmd      string
	HealthInterval string
	HealthTimeout  string
	HealthRetries  int

	Detach bool
	Remove bool
}

func (s *RunSpec) buildArgs() []string {
	args := []string{"run"}

	if s.Detach {
		args = append(args, "-d")
	}
	if s.Remove {
		args = append(args, "--rm")
	}
	if s.Name != "" {
		args = append(args, "--name", s.Name)
	}

	for key, value := range s.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", key, value))
	}
	for _, port := range s.Ports {
		args = append(args, "-p", port)
	}
	for _, vol := range s.Volumes {
		args = append(args, "-v", vol)
	}
	for key, value := range s.Labels {
		args = append(args, "-l", fmt.Sprintf("%s=%s", key, value))
	}
	if s.Network != "" {
		args = append(args, "--network", s.Network)
	}
	for _, alias := range s.NetworkAliases {
		args = append(args, "--network-alias", alias)
	}
	if s.Memory != "" {
		args = append(args, "--memory", s.Memory)
	}
	if s.CPUs != "" {
		args = append(args, "--cpus", s.CPUs)
	}
	for _, d := range s.Devices {
		args = append(args, "--device", d)
	}
	for _, cap := range s.CapAdd {
		args = append(args, "--cap-add", cap)
	}
	if s.Privileged {
		args = append(args, "--privileged")
	}
	if s.Restart != "" {
		args = append(args, "--restart", s.Restart)
	}

	if s.HealthCmd != "" {
		args = append(args, "--health-cmd", s.HealthCmd)
		if s.HealthInterval != "" {
			args = append(args, "--health-interval", s.HealthInterval)
		}
		if s.HealthTimeout != "" {
			args = append(args, "--health-timeout", s.HealthTimeout)
		}
		if s.HealthRetries > 0 {
			args = append(args, "--health-retries", fmt.Sprintf("%d", s.HealthRetries))
		}
	}

	args = append(args, s.Image)
	args = append(args, s.Command...)
	return args
}

// Container is a point-in-time snapshot of `ps` output for one container.
type Container struct {
	ID     string
	Name   string
	Image  string
	Status string
	State  string
	Ports  []string
}

// ContainerManager runs container lifecycle operations over a Client.
type ContainerManager struct {
	client *Client
}

func NewContainerManager(client *Client) *ContainerManager {
	return &ContainerManager{client: client}
}

// Raw executes an arbitrary engine subcommand, used by callers that need a
// command shape this package doesn't otherwise model (e.g. `exec` into a
// long-running sidecar container to run its own CLI).
func (m *ContainerManager) Raw(host string, args ...string) (*ssh.Result, error) {
	return m.client.Execute(host, args...)
}

func (m *ContainerManager) Run(host string, spec *RunSpec) (string, error) {
	result, err := m.client.Execute(host, spec.buildArgs()...)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("failed to run container: %s", result.Stderr)
	}
	return strings.TrimSpace(result.Stdout), nil
}

func (m *ContainerManager) Start(host, container string) error {
	return m.simple(host, "failed to start container", "start", container)
}

func (m *ContainerManager) Stop(host, container string, timeout int) error {
	args := []string{"stop"}
	if timeout > 0 {
		args = append(args, "-t", fmt.Sprintf("%d", timeout))
	}
	args = append(args, container)
	return m.simple(host, "failed to stop container", args...)
}

func (m *ContainerManager) Remove(host, container string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, container)
	return m.simple(host, "failed to remove container", args...)
}

func (m *ContainerManager) Rename(host, oldName, newName string) error {
	return m.simple(host, "failed to rename container", "rename", oldName, newName)
}

func (m *ContainerManager) Kill(host, container, signal string) error {
	args := []string{"kill"}
	if signal != "" {
		args = append(args, "-s", signal)
	}
	args = append(args, container)
	return m.simple(host, "failed to kill container", args...)
}

func (m *ContainerManager) simple(host, errPrefix string, args ...string) error {
	result, err := m.client.Execute(host, args...)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s: %s", errPrefix, result.Stderr)
	}
	return nil
}

func (m *ContainerManager) Exists(host, container string) (bool, error) {
	result, err := m.client.Execute(host, "inspect", container, "--format", "{{.Id}}")
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

func (m *ContainerManager) IsRunning(host, container string) (bool, error) {
	result, err := m.client.Execute(host, "inspect", container, "--format", "{{.State.Running}}")
	if err != nil {
		return false, err
	}
	if result.ExitCode != 0 {
		return false, nil
	}
	return strings.Contains(result.Stdout, "true"), nil
}

// WaitHealthy polls the container's engine-reported health status. Returns
// nil once "healthy"; returns an error immediately on "unhealthy" or once
// timeout elapses. Containers without a HEALTHCHECK report empty status
// forever, so callers that don't configure one should not call this.
func (m *ContainerManager) WaitHealthy(host, container string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		result, err := m.client.Execute(host, "inspect", container, "--format", "{{.State.Health.Status}}")
		if err != nil {
			return err
		}
		switch strings.Trim(result.Stdout, "'\n") {
		case "healthy":
			return nil
		case "unhealthy":
			return fmt.Errorf("container is unhealthy")
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("timeout waiting for container to become healthy")
}

func (m *ContainerManager) List(host string, all bool, filters map[string]string) ([]Container, error) {
	args := []string{"ps", "--format", "{{.ID}}|{{.Names}}|{{.Image}}|{{.Status}}|{{.State}}|{{.Ports}}"}
	if all {
		args = append(args, "-a")
	}
	for key, value := range filters {
		args = append(args, "-f", fmt.Sprintf("%s=%s", key, value))
	}

	result, err := m.client.Execute(host, args...)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("failed to list containers: %s", result.Stderr)
	}

	var containers []Container
	for _, line := range strings.Split(strings.TrimSpace(result.Stdout), "\n") {
		line = strings.Trim(line, "'")
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 5 {
			continue
		}
		c := Container{ID: parts[0], Name: parts[1], Image: parts[2], Status: parts[3], State: parts[4]}
		if len(parts) > 5 && parts[5] != "" {
			c.Ports = strings.Split(parts[5], ", ")
		}
		containers = append(containers, c)
	}
	return containers, nil
}

func (m *ContainerManager) Inspect(host, container string) (string, error) {
	result, err := m.client.Execute(host, "inspect", container)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("failed to inspect container: %s", result.Stderr)
	}
	return result.Stdout, nil
}

// ImageDigest returns the first RepoDigests entry of image as inspected on
// host.
func (m *ContainerManager) ImageDigest(host, image string) (string, error) {
	result, err := m.client.Execute(host, "image", "inspect", image, "--format", "{{index .RepoDigests 0}}")
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("failed to inspect image: %s", result.Stderr)
	}
	return strings.TrimSpace(result.Stdout), nil
}

func (m *ContainerManager) Pull(host, image string) error {
	return m.simple(host, "failed to pull image", "pull", image)
}

func (m *ContainerManager) Logs(host, container string, tail string, follow bool) (*ssh.Result, error) {
	args := []string{"logs"}
	if follow {
		args = append(args, "-f")
	}
	if tail != "" {
		args = append(args, "--tail", tail)
	}
	args = append(args, container)
	return m.client.Execute(host, args...)
}

func (m *ContainerManager) Exec(host, container string, cmdArgs []string, interactive, tty bool) (*ssh.Result, error) {
	args := []string{"exec"}
	if interactive {
		args = append(args, "-i")
	}
	if tty {
		args = append(args, "-t")
	}
	args = append(args, container)
	args = append(args, cmdArgs...)
	return m.client.Execute(host, args...)
}

func (m *ContainerManager) Stats(host, container string) (string, error) {
	result, err := m.client.Execute(host, "stats", container, "--no-stream", "--format",
		"CPU: {{.CPUPerc}} | Memory: {{.MemUsage}} | Net: {{.NetIO}}")
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("failed to get stats: %s", result.Stderr)
	}
	return strings.Trim(result.Stdout, "'\n"), nil
}

func (m *ContainerManager) ConnectNetwork(host, container, network string) error {
	return m.simple(host, "failed to connect to network", "network", "connect", network, container)
}

func (m *ContainerManager) DisconnectNetwork(host, container, network string) error {
	return m.simple(host, "failed to disconnect from network", "network", "disconnect", network, container)
}

func (m *ContainerManager) EnsureNetwork(host, network string) error {
	result, err := m.client.Execute(host, "network", "inspect", network)
	if err == nil && result.ExitCode == 0 {
		return nil
	}
	return m.simple(host, "failed to create network", "network", "create", network)
}

func (m *ContainerManager) EnsureVolume(host, volume string) error {
	result, err := m.client.Execute(host, "volume", "inspect", volume)
	if err == nil && result.ExitCode == 0 {
		return nil
	}
	return m.simple(host, "failed to create volume", "volume", "create", volume)
}
