package hostdriver

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/acidtib/jiji/internal/ssh"
)

const defaultHealthcheckImage = "curlimages/curl:8.5.0"

// buildHTTPCheckExecCandidates returns engine-exec commands that probe an
// HTTP endpoint inside a container without requiring /bin/sh to be present.
func buildHTTPCheckExecCandidates(engineBin, container string, port int, path string) []string {
	if container == "" || port <= 0 || path == "" {
		return nil
	}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	quoted := strconv.Quote(url)
	return []string{
		fmt.Sprintf("%s exec %s curl -fsS %s", engineBin, container, quoted),
		fmt.Sprintf("%s exec %s wget -qO- %s", engineBin, container, quoted),
		fmt.Sprintf("%s exec %s busybox wget -qO- %s", engineBin, container, quoted),
	}
}

// buildHTTPCheckHelperCommand probes readiness from a sidecar container
// sharing the target's network namespace, for images with no HTTP client at all.
func buildHTTPCheckHelperCommand(engineBin, container string, port int, path, image string) string {
	if strings.TrimSpace(container) == "" || port <= 0 || path == "" {
		return ""
	}
	if image == "" {
		image = defaultHealthcheckImage
	}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	quoted := strconv.Quote(url)
	name := strings.NewReplacer("_", "-", ".", "-").Replace(fmt.Sprintf("jiji-hc-%s", container))
	return fmt.Sprintf("%s run --rm --network container:%s --name %s %s -fsS -o /dev/null %s",
		engineBin, container, name, image, quoted)
}

func readinessProbe(sshClient ssh.RemoteShell, host string, candidates []string, helperCmd string) bool {
	unsupported := true
	for _, cmd := range candidates {
		result, err := sshClient.Execute(host, cmd)
		if err == nil && result.ExitCode == 0 {
			return true
		}
		if err != nil || !commandNotFound(result) {
			unsupported = false
		}
	}
	if (len(candidates) == 0 || unsupported) && helperCmd != "" {
		result, err := sshClient.Execute(host, helperCmd)
		if err == nil && result.ExitCode == 0 {
			return true
		}
	}
	return false
}

func commandNotFound(result *ssh.Result) bool {
	if result == nil {
		return false
	}
	if result.ExitCode != 126 && result.ExitCode != 127 {
		return false
	}
	msg := strings.ToLower(result.Stdout + result.Stderr)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no such file or directory")
}

// waitReady blocks until the container responds on its readiness path or the
// deadline elapses.
func waitReady(sshClient ssh.RemoteShell, engineBin, host, container string, port int, path string, timeout time.Duration) error {
	if path == "" {
		// No readiness path configured: give the container a moment to
		// start and trust the engine's own process supervision.
		time.Sleep(2 * time.Second)
		return nil
	}

	deadline := time.Now().Add(timeout)
	candidates := buildHTTPCheckExecCandidates(engineBin, container, port, path)
	helper := buildHTTPCheckHelperCommand(engineBin, container, port, path, "")

	for time.Now().Before(deadline) {
		if readinessProbe(sshClient, host, candidates, helper) {
			return nil
		}
		time.Sleep(2 * time.Second)
	}
	return fmt.Errorf("timeout waiting for %s to become ready", container)
}
