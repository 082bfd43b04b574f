package hostdriver

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/acidtib/jiji/internal/config"
	"github.com/acidtib/jiji/internal/engine"
	"github.com/acidtib/jiji/internal/hooks"
	"github.com/acidtib/jiji/internal/output"
	"github.com/acidtib/jiji/internal/proxyctl"
	"github.com/acidtib/jiji/internal/ssh"
	"github.com/acidtib/jiji/internal/testutil"
)

func newTestDriver(fake *testutil.FakeShell) *Driver {
	log := output.NewLogger(io.Discard, io.Discard, false)
	client := engine.NewClient(fake, engine.Docker)
	containers := engine.NewContainerManager(client)
	proxy := proxyctl.New(fake, containers, "edgeproxy:latest", "root", log)
	hookRunner := hooks.NewRunner("/nonexistent/hooks", time.Second, log)
	return New(fake, containers, proxy, hookRunner, "docker", log)
}

func testRequest(svc config.ServiceSpec, host string) Request {
	return Request{
		Server:  testutil.ServerRefFixture(host, host+".example.test"),
		Service: svc,
		Image:   svc.Image,
	}
}

// TestBootCutoverSuccess_FirstGeneration exercises the happy path for a
// service with no previous generation and no proxy target: Boot should
// produce a SwapState with HadPrevious false, and Cutover should reach
// StateDone without ever touching rollback.
func TestBootCutoverSuccess_FirstGeneration(t *testing.T) {
	fake := testutil.NewFakeShell()
	fake.OnExitCode("{{.Id}}", 1, "") // container does not exist yet

	driver := newTestDriver(fake)
	svc := testutil.MinimalServiceSpec("web", "h1")
	req := testRequest(svc, "h1")

	sw, res := driver.Boot(context.Background(), req)
	if res != nil {
		t.Fatalf("Boot failed unexpectedly: %+v", res)
	}
	if sw.HadPrevious {
		t.Fatal("expected HadPrevious to be false for a first deploy")
	}

	cutover := driver.Cutover(context.Background(), sw)
	if cutover.FinalState != StateDone {
		t.Fatalf("expected StateDone, got %s (err=%v)", cutover.FinalState, cutover.Err)
	}

	if err := driver.Finalize(sw); err != nil {
		t.Fatalf("Finalize should no-op with no previous generation: %v", err)
	}
}

// TestBoot_RollbackOnContainerStartFailure verifies that a failing container
// start rolls back and attaches a log tail to the returned error.
func TestBoot_RollbackOnContainerStartFailure(t *testing.T) {
	fake := testutil.NewFakeShell()
	fake.OnExitCode("{{.Id}}", 1, "")
	fake.On("run -d --name", &ssh.Result{ExitCode: 1, Stderr: "image not found"}, nil)
	fake.On("logs --tail", &ssh.Result{ExitCode: 0, Stdout: "boot attempt failed\n"}, nil)

	driver := newTestDriver(fake)
	svc := testutil.MinimalServiceSpec("web", "h1")
	req := testRequest(svc, "h1")

	sw, res := driver.Boot(context.Background(), req)
	if sw != nil {
		t.Fatal("expected no SwapState on a failed boot")
	}
	if res == nil || res.FinalState != StateRolledBack {
		t.Fatalf("expected StateRolledBack, got %+v", res)
	}
	if !strings.Contains(res.Err.Error(), "boot attempt failed") {
		t.Errorf("expected rollback error to carry log tail, got: %v", res.Err)
	}
}

// TestBoot_RollbackRestoresPreviousGeneration checks that a failed boot
// against an existing previous generation renames it back to the canonical
// name instead of leaving the host with no running container at all.
func TestBoot_RollbackRestoresPreviousGeneration(t *testing.T) {
	fake := testutil.NewFakeShell()
	fake.OnExitCode("{{.Id}}", 0, "existing-id")
	fake.On("run -d --name", &ssh.Result{ExitCode: 1, Stderr: "boom"}, nil)

	driver := newTestDriver(fake)
	svc := testutil.MinimalServiceSpec("web", "h1")
	req := testRequest(svc, "h1")

	sw, res := driver.Boot(context.Background(), req)
	if sw != nil {
		t.Fatal("expected no SwapState on a failed boot")
	}
	if res.FinalState != StateRolledBack {
		t.Fatalf("expected StateRolledBack, got %s", res.FinalState)
	}

	renameCalls := 0
	for _, c := range fake.Calls {
		if strings.Contains(c.Cmd, "rename") {
			renameCalls++
		}
	}
	if renameCalls != 2 {
		t.Fatalf("expected one rename to archive and one to restore, got %d rename calls", renameCalls)
	}
}

// TestCutover_LockFailureReportsFailedNotRolledBack verifies that a lock
// that can't be acquired at the cut-over step is reported as StateFailed
// (no rollback attempted, since the new container's fate is unknown) rather
// than conflated with a health-gate rollback.
func TestCutover_LockFailureReportsFailedNotRolledBack(t *testing.T) {
	fake := testutil.NewFakeShell()
	fake.OnExitCode("{{.Id}}", 1, "")

	driver := newTestDriver(fake)
	svc := testutil.MinimalServiceSpec("web", "h1")
	req := testRequest(svc, "h1")

	sw, res := driver.Boot(context.Background(), req)
	if res != nil {
		t.Fatalf("Boot failed unexpectedly: %+v", res)
	}

	fake.LockFail["h1.example.test"] = true
	cutover := driver.Cutover(context.Background(), sw)
	if cutover.FinalState != StateFailed {
		t.Fatalf("expected StateFailed, got %s", cutover.FinalState)
	}
	if !strings.Contains(cutover.Err.Error(), "cut-over lock") {
		t.Errorf("expected cut-over lock error, got: %v", cutover.Err)
	}
}

// TestCutover_ProxyDeployFailureRollsBack verifies that a proxy-enabled
// service whose EdgeProxy deploy fails rolls back the new container, and
// that UsesProxy correctly identifies it as proxy-bound.
func TestCutover_ProxyDeployFailureRollsBack(t *testing.T) {
	fake := testutil.NewFakeShell()
	fake.OnExitCode("{{.Id}}", 1, "")
	fake.On("edgeproxy deploy", &ssh.Result{ExitCode: 1, Stderr: "target unhealthy"}, nil)

	driver := newTestDriver(fake)
	svc := testutil.ServiceWithProxy("web", "h1")
	if !UsesProxy(svc) {
		t.Fatal("expected ServiceWithProxy fixture to report UsesProxy true")
	}
	req := testRequest(svc, "h1")

	sw, res := driver.Boot(context.Background(), req)
	if res != nil {
		t.Fatalf("Boot failed unexpectedly: %+v", res)
	}

	cutover := driver.Cutover(context.Background(), sw)
	if cutover.FinalState != StateRolledBack {
		t.Fatalf("expected StateRolledBack, got %s (err=%v)", cutover.FinalState, cutover.Err)
	}
}

func TestFirstPort(t *testing.T) {
	tests := []struct {
		name  string
		ports []string
		want  int
	}{
		{"simple mapping", []string{"8080:80"}, 80},
		{"ip bound mapping", []string{"127.0.0.1:8080:80"}, 80},
		{"skips udp", []string{"53:53/udp", "8080:80"}, 80},
		{"no ports", nil, 0},
		{"unparsable", []string{"not-a-port"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstPort(tt.ports); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCommandArgv(t *testing.T) {
	var unset config.CommandSpec
	if got := commandArgv(config.ServiceSpec{Command: unset}); got != nil {
		t.Errorf("expected nil argv for unset command, got %v", got)
	}
}

func TestHealthcheckParams_Defaults(t *testing.T) {
	svc := config.ServiceSpec{Ports: []string{"8080:3000"}}

	port, path, interval, timeout, deployTimeout := healthcheckParams(svc)
	if port != 3000 {
		t.Errorf("port: got %d, want 3000", port)
	}
	if path != "" {
		t.Errorf("path: got %q, want empty", path)
	}
	if interval != 5*time.Second || timeout != 5*time.Second || deployTimeout != 30*time.Second {
		t.Errorf("unexpected defaults: interval=%s timeout=%s deployTimeout=%s", interval, timeout, deployTimeout)
	}
}

func TestHealthcheckParams_FromProxyTarget(t *testing.T) {
	svc := config.ServiceSpec{
		Ports: []string{"8080:3000"},
		Proxy: &config.ProxySpec{
			Enabled: true,
			Targets: []config.ProxyTarget{
				{
					Hosts: []string{"host1"},
					Healthcheck: config.HealthcheckSpec{
						Path: "/healthz",
					},
				},
			},
		},
	}

	_, path, _, _, _ := healthcheckParams(svc)
	if path != "/healthz" {
		t.Errorf("got %q, want /healthz", path)
	}
}

func TestContainsHost(t *testing.T) {
	if !containsHost([]string{"a", "b"}, "b") {
		t.Error("expected true for present host")
	}
	if containsHost([]string{"a", "b"}, "c") {
		t.Error("expected false for absent host")
	}
	if containsHost(nil, "a") {
		t.Error("expected false for nil slice")
	}
}
