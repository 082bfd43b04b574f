// Package engine wraps the container engine CLI (docker or podman) behind a
// single client type. Earlier iterations of this tool kept separate,
// near-duplicate docker and podman packages; the two engines share one CLI
// surface (run/ps/rm/rename/inspect/logs/pull/network/volume), so this
// package centralizes it behind an Engine enum instead of duplicating the
// command-building logic per binary.
package engine

import (
	"fmt"
	"strings"

	"github.com/acidtib/jiji/internal/shell"
	"github.com/acidtib/jiji/internal/ssh"
)

// Engine selects which CLI binary a Client shells out to. Both engines
// accept the same subcommands and flags for the operations this package
// uses, so Client needs no per-engine branches beyond the binary name.
type Engine string

const (
	Docker Engine = "docker"
	Podman Engine = "podman"
)

// Client executes container-engine commands on a remote host over SSH.
type Client struct {
	ssh    ssh.RemoteShell
	engine Engine
}

func NewClient(sshClient ssh.RemoteShell, eng Engine) *Client {
	if eng == "" {
		eng = Podman
	}
	return &Client{ssh: sshClient, engine: eng}
}

func (c *Client) Engine() Engine { return c.engine }

func (c *Client) Execute(host string, args ...string) (*ssh.Result, error) {
	cmd := string(c.engine) + " " + strings.Join(shell.QuoteAll(args), " ")
	return c.ssh.Execute(host, cmd)
}

func (c *Client) ExecuteAll(hosts []string, args ...string) []*ssh.Result {
	cmd := string(c.engine) + " " + strings.Join(shell.QuoteAll(args), " ")
	return c.ssh.ExecuteParallel(hosts, cmd)
}

// Info reports coarse host-level container engine info: the engine version
// and how many containers a host is currently carrying.
type Info struct {
	ServerVersion     string
	ContainersTotal   int
	ContainersRunning int
	Driver            string
}

func (c *Client) GetInfo(host string) (*Info, error) {
	format := `{{.ServerVersion}}|{{.Containers}}|{{.ContainersRunning}}|{{.Driver}}`
	result, err := c.Execute(host, "info", "--format", format)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("%s info failed: %s", c.engine, result.Stderr)
	}

	info := &Info{}
	parts := strings.Split(strings.Trim(result.Stdout, "'\n"), "|")
	if len(parts) >= 4 {
		info.ServerVersion = parts[0]
		_, _ = fmt.Sscanf(parts[1], "%d", &info.ContainersTotal)
		_, _ = fmt.Sscanf(parts[2], "%d", &info.ContainersRunning)
		info.Driver = parts[3]
	}
	return info, nil
}
