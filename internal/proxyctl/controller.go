// Package proxyctl drives the EdgeProxy reverse proxy installed on each
// target host. Earlier reverse-proxy support in this tool (internal/proxy)
// talked to Caddy's JSON admin HTTP API; EdgeProxy instead exposes a small
// CLI contract (`deploy`, `list`) executed inside its own container, closer
// to how kamal-proxy is driven. This package keeps the predecessor's
// locking and config-persistence discipline but speaks the new contract.
package proxyctl

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/acidtib/jiji/internal/engine"
	"github.com/acidtib/jiji/internal/output"
	"github.com/acidtib/jiji/internal/ssh"
	"github.com/acidtib/jiji/internal/state"
)

const (
	// ContainerName is the canonical name of the EdgeProxy container on
	// every host, installed once per host and shared across services.
	ContainerName = "jiji-proxy"

	// DefaultImage is used when a project file doesn't override it.
	DefaultImage = "ghcr.io/acidtib/edgeproxy:latest"

	lockTimeout = 120 * time.Second
)

// Target is a fully resolved deploy target for one host.
type Target struct {
	Addr          string // ip:port of the new container's published port
	HealthPath    string
	HealthInterval time.Duration
	HealthTimeout  time.Duration
	DeployTimeout  time.Duration
	TLS            bool
}

// Service describes one entry from `edgeproxy list`.
type Service struct {
	Name   string
	Target string
	State  string // healthy|deploying|down
}

// Controller installs EdgeProxy and issues health-gated cut-overs against it.
type Controller struct {
	sshClient  ssh.RemoteShell
	containers *engine.ContainerManager
	image      string
	user       string
	log        *output.Logger
}

func New(sshClient ssh.RemoteShell, containers *engine.ContainerManager, image, user string, log *output.Logger) *Controller {
	if image == "" {
		image = DefaultImage
	}
	if user == "" {
		user = "root"
	}
	if log == nil {
		log = output.DefaultLogger
	}
	return &Controller{sshClient: sshClient, containers: containers, image: image, user: user, log: log}
}

func (c *Controller) lockFile() string {
	return state.LockFile(c.user, "edgeproxy")
}

func (c *Controller) withLock(host string, fn func() error) error {
	return c.sshClient.WithRemoteLock(host, c.lockFile(), lockTimeout, fn)
}

// Install ensures the EdgeProxy container is running on host, starting it if
// absent. It does not reinstall an already-running proxy.
func (c *Controller) Install(host string) error {
	running, err := c.containers.IsRunning(host, ContainerName)
	if err != nil {
		return fmt.Errorf("checking edgeproxy status on %s: %w", host, err)
	}
	if running {
		return nil
	}

	_, err = c.containers.Run(host, &engine.RunSpec{
		Name:    ContainerName,
		Image:   c.image,
		Ports:   []string{"80:80", "443:443"},
		Volumes: []string{state.DirQuoted(c.user) + "/edgeproxy:/home/edgeproxy/.config/edgeproxy"},
		Restart: "unless-stopped",
		Detach:  true,
	})
	if err != nil {
		return fmt.Errorf("installing edgeproxy on %s: %w", host, err)
	}
	c.log.Info("Installed EdgeProxy on %s", host)
	return nil
}

// Deploy performs a health-gated cut-over of service to target, blocking
// until EdgeProxy reports the new target healthy or the deploy timeout
// elapses. It is safe to call concurrently across services on the same
// host — mutations to EdgeProxy's own state are serialized by withLock.
func (c *Controller) Deploy(host, service string, target Target) error {
	args := []string{"deploy", service,
		"--target", target.Addr,
		"--health-path", target.HealthPath,
		"--health-interval", formatDuration(target.HealthInterval),
		"--health-timeout", formatDuration(target.HealthTimeout),
		"--deploy-timeout", formatDuration(target.DeployTimeout),
	}
	if target.TLS {
		args = append(args, "--tls")
	}

	var result *ssh.Result
	err := c.withLock(host, func() error {
		r, err := c.exec(host, args)
		result = r
		return err
	})
	if err != nil {
		return fmt.Errorf("edgeproxy deploy %s on %s: %w", service, host, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("edgeproxy deploy %s on %s failed: %s", service, host, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// List returns the services currently registered with EdgeProxy on host.
func (c *Controller) List(host string) ([]Service, error) {
	result, err := c.exec(host, []string{"list"})
	if err != nil {
		return nil, fmt.Errorf("edgeproxy list on %s: %w", host, err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("edgeproxy list on %s failed: %s", host, strings.TrimSpace(result.Stderr))
	}
	return parseList(result.Stdout), nil
}

func parseList(out string) []Service {
	var services []Service
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			continue
		}
		services = append(services, Service{Name: parts[0], Target: parts[1], State: parts[2]})
	}
	return services
}

// exec runs an edgeproxy subcommand inside the running proxy container.
func (c *Controller) exec(host string, args []string) (*ssh.Result, error) {
	execArgs := append([]string{"exec", ContainerName, "edgeproxy"}, args...)
	return c.containers.Raw(host, execArgs...)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	secs := int(d.Seconds())
	return strconv.Itoa(secs) + "s"
}
