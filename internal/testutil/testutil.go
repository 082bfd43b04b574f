// Package testutil provides fixtures shared by internal/hostdriver,
// internal/orchestrator and internal/proxyctl tests: a fake RemoteShell
// transport and a handful of config builders, so state-machine and
// phase-barrier logic can be exercised without dialing real SSH connections.
package testutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acidtib/jiji/internal/config"
	"github.com/acidtib/jiji/internal/ssh"
)

// TempConfig creates a temporary config file and returns its path. The file
// is automatically cleaned up when the test completes.
func TempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	return path
}

// TempSecrets creates a temporary secrets file and returns its directory.
func TempSecrets(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	secretsDir := filepath.Join(dir, ".jiji")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("Failed to create secrets dir: %v", err)
	}

	path := filepath.Join(secretsDir, "secrets")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp secrets: %v", err)
	}

	return dir
}

// ServerRefFixture builds a resolved ServerRef for tests that don't need a
// full config file loaded from disk.
func ServerRefFixture(name, host string) config.ServerRef {
	return config.ServerRef{Name: name, Host: host, Arch: "amd64", User: "root", Port: 22}
}

// MinimalServiceSpec builds a ServiceSpec with no proxy, one port mapping,
// and one host reference per name in hosts.
func MinimalServiceSpec(name string, hosts ...string) config.ServiceSpec {
	refs := make(config.HostRefs, len(hosts))
	for i, h := range hosts {
		refs[i] = config.HostRef{Name: h}
	}
	return config.ServiceSpec{
		Name:    name,
		Project: "acme",
		Image:   fmt.Sprintf("acme/%s:latest", name),
		Hosts:   refs,
		Ports:   []string{"8080:8080"},
		Retain:  1,
	}
}

// ServiceWithProxy builds on MinimalServiceSpec with an enabled proxy
// target covering every host passed in.
func ServiceWithProxy(name string, hosts ...string) config.ServiceSpec {
	svc := MinimalServiceSpec(name, hosts...)
	svc.Proxy = &config.ProxySpec{
		Enabled: true,
		Targets: []config.ProxyTarget{
			{Hosts: hosts, Healthcheck: config.HealthcheckSpec{Path: "/up"}},
		},
	}
	return svc
}

// FakeCall records one command a FakeShell was asked to run.
type FakeCall struct {
	Host string
	Cmd  string
}

type fakeRule struct {
	contains string
	result   *ssh.Result
	err      error
}

// FakeShell is a scriptable ssh.RemoteShell: no network connections are
// made, every Execute/ExecuteParallel/ExecuteWithStdin call is matched
// against registered rules (last registration wins on overlapping
// substrings) and recorded in Calls for assertions. Commands matching no
// rule succeed with exit code 0 and empty output, so tests only need to
// script the commands whose result the production code actually inspects.
type FakeShell struct {
	mu       sync.Mutex
	rules    []fakeRule
	Calls    []FakeCall
	LockFail map[string]bool // host -> force WithRemoteLock to fail without running fn
}

func NewFakeShell() *FakeShell {
	return &FakeShell{LockFail: make(map[string]bool)}
}

// On registers the result Execute returns for any command containing
// substr.
func (f *FakeShell) On(substr string, result *ssh.Result, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{contains: substr, result: result, err: err})
}

// OnExitCode is a shorthand for On when a test only cares about the exit
// code and stdout of a matched command.
func (f *FakeShell) OnExitCode(substr string, exitCode int, stdout string) {
	f.On(substr, &ssh.Result{ExitCode: exitCode, Stdout: stdout}, nil)
}

func (f *FakeShell) Execute(host, cmd string) (*ssh.Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, FakeCall{Host: host, Cmd: cmd})
	var matched *fakeRule
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.Contains(cmd, f.rules[i].contains) {
			matched = &f.rules[i]
			break
		}
	}
	f.mu.Unlock()

	if matched == nil {
		return &ssh.Result{Host: host, ExitCode: 0}, nil
	}
	if matched.result == nil {
		return &ssh.Result{Host: host, ExitCode: 0}, matched.err
	}
	result := *matched.result
	result.Host = host
	return &result, matched.err
}

func (f *FakeShell) ExecuteWithStdin(host, cmd string, stdin io.Reader) (*ssh.Result, error) {
	return f.Execute(host, cmd)
}

func (f *FakeShell) ExecuteParallel(hosts []string, cmd string) []*ssh.Result {
	results := make([]*ssh.Result, len(hosts))
	for i, h := range hosts {
		res, err := f.Execute(h, cmd)
		if err != nil && res != nil {
			res.Error = err
		}
		results[i] = res
	}
	return results
}

// WithRemoteLock runs fn directly (no real flock); set LockFail[host] to
// make acquisition itself fail without invoking fn.
func (f *FakeShell) WithRemoteLock(host, lockFile string, timeout time.Duration, fn func() error) error {
	f.mu.Lock()
	fail := f.LockFail[host]
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("fake remote lock unavailable on %s", host)
	}
	return fn()
}

var _ ssh.RemoteShell = (*FakeShell)(nil)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Error("Expected an error, got nil")
	}
}
