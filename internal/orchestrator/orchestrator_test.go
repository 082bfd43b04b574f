package orchestrator

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/acidtib/jiji/internal/config"
	"github.com/acidtib/jiji/internal/engine"
	"github.com/acidtib/jiji/internal/output"
	"github.com/acidtib/jiji/internal/ssh"
	"github.com/acidtib/jiji/internal/testutil"
)

func servicesFixture() map[string]config.ServiceSpec {
	return map[string]config.ServiceSpec{
		"web":        {Name: "web"},
		"worker":     {Name: "worker"},
		"web-canary": {Name: "web-canary"},
	}
}

func TestMatchServices_EmptyPatternSelectsAll(t *testing.T) {
	names, err := MatchServices("", servicesFixture())
	if err != nil {
		t.Fatalf("MatchServices: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 services, got %d (%v)", len(names), names)
	}
}

func TestMatchServices_ExactNameWinsOverGlob(t *testing.T) {
	services := servicesFixture()
	services["w*b"] = config.ServiceSpec{Name: "w*b"}

	names, err := MatchServices("w*b", services)
	if err != nil {
		t.Fatalf("MatchServices: %v", err)
	}
	if len(names) != 1 || names[0] != "w*b" {
		t.Fatalf("expected exact match to win, got %v", names)
	}
}

func TestMatchServices_Glob(t *testing.T) {
	names, err := MatchServices("web*", servicesFixture())
	if err != nil {
		t.Fatalf("MatchServices: %v", err)
	}
	want := []string{"web", "web-canary"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, names[i], want[i])
		}
	}
}

func TestMatchServices_NoMatch(t *testing.T) {
	names, err := MatchServices("nonexistent*", servicesFixture())
	if err != nil {
		t.Fatalf("MatchServices: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no matches, got %v", names)
	}
}

func TestMatchServices_CaseSensitive(t *testing.T) {
	names, err := MatchServices("WEB", servicesFixture())
	if err != nil {
		t.Fatalf("MatchServices: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected case-sensitive mismatch to yield no matches, got %v", names)
	}
}

func TestSummary_CountsAttemptsAndOnlyProxyServicesAsProxyConfig(t *testing.T) {
	result := &DeploymentResult{
		ProxyInstallResults: []AttemptResult{{Host: "h1"}},
		DeploymentResults: []AttemptResult{
			{Service: "web", Host: "h1"},
			{Service: "api", Host: "h1"},
			{Service: "worker", Host: "h2", Err: errFake("timed out")},
		},
		ProxyConfigResults: []AttemptResult{{Service: "web", Host: "h1"}},
	}

	stats := Summary(result)
	if stats.TotalServices != 3 {
		t.Errorf("TotalServices: got %d, want 3", stats.TotalServices)
	}
	if stats.SuccessfulDeployments != 2 {
		t.Errorf("SuccessfulDeployments: got %d, want 2", stats.SuccessfulDeployments)
	}
	if stats.FailedDeployments != 1 {
		t.Errorf("FailedDeployments: got %d, want 1", stats.FailedDeployments)
	}
	if stats.ProxyInstallations != 1 {
		t.Errorf("ProxyInstallations: got %d, want 1", stats.ProxyInstallations)
	}
	if stats.ProxyConfigurations != 1 {
		t.Errorf("ProxyConfigurations: got %d, want 1 (only web has a proxy target)", stats.ProxyConfigurations)
	}
	if !stats.HasErrors {
		t.Error("expected HasErrors true with a failed deployment")
	}
}

type errFake string

func (e errFake) Error() string { return string(e) }

func TestReport_IncludesWarningsAndSummaryLine(t *testing.T) {
	result := &DeploymentResult{
		DeploymentResults: []AttemptResult{{Service: "web", Host: "h1"}},
		Warnings:          []string{"web@h1: cleanup: rm failed"},
		Success:           true,
	}
	report := Report(result)
	if !strings.Contains(report, "web@h1: ok") {
		t.Errorf("expected a success line, got: %s", report)
	}
	if !strings.Contains(report, "warning: web@h1: cleanup: rm failed") {
		t.Errorf("expected warning line, got: %s", report)
	}
	if !strings.Contains(report, "1/1 deployments succeeded") {
		t.Errorf("expected summary line, got: %s", report)
	}
}

func newTestOrchestrator(t *testing.T, fake *testutil.FakeShell, services map[string]config.ServiceSpec) *Orchestrator {
	t.Helper()
	cfg := &config.Config{
		Project: "acme",
		Servers: map[string]config.ServerConfig{
			"h1": {Host: "10.0.0.1", User: "root", Port: 22},
		},
		Services: services,
	}
	if err := config.Resolve(cfg); err != nil {
		t.Fatalf("config.Resolve: %v", err)
	}
	log := output.NewLogger(io.Discard, io.Discard, false)
	return New(cfg, fake, engine.Docker, "edgeproxy:latest", t.TempDir(), 5, log)
}

func noopEnv(config.ServiceSpec) (map[string]string, error) { return nil, nil }

// TestDeploy_ProxyAndNonProxyServicesBothSucceed reproduces the case where
// one service of two carries a proxy target: only that service should
// contribute to ProxyInstallResults/ProxyConfigResults, while both
// contribute to DeploymentResults.
func TestDeploy_ProxyAndNonProxyServicesBothSucceed(t *testing.T) {
	services := map[string]config.ServiceSpec{
		"web": testutil.ServiceWithProxy("web", "h1"),
		"api": testutil.MinimalServiceSpec("api", "h1"),
	}

	fake := testutil.NewFakeShell()
	fake.OnExitCode("{{.Id}}", 1, "") // no previous generation for either service

	orch := newTestOrchestrator(t, fake, services)
	result, err := orch.Deploy(context.Background(), DeployOptions{Destination: "test"}, noopEnv)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if result.Failed() {
		t.Fatalf("expected a successful deploy, got errors: %v", result.Errors)
	}

	stats := Summary(result)
	if stats.TotalServices != 2 {
		t.Errorf("TotalServices: got %d, want 2", stats.TotalServices)
	}
	if stats.SuccessfulDeployments != 2 {
		t.Errorf("SuccessfulDeployments: got %d, want 2", stats.SuccessfulDeployments)
	}
	if len(result.ProxyInstallResults) != 1 {
		t.Errorf("expected one proxy install (one host), got %d", len(result.ProxyInstallResults))
	}
	if len(result.ProxyConfigResults) != 1 || result.ProxyConfigResults[0].Service != "web" {
		t.Errorf("expected exactly one proxy-config entry for web, got %+v", result.ProxyConfigResults)
	}
}

// TestDeploy_ProxyInstallFailureSkipsOnlyProxiedService verifies phase
// isolation: a failed ProxyInstall on a host skips that host's proxy-bound
// services in the Deploy phase but does not affect non-proxy services on
// the same host.
func TestDeploy_ProxyInstallFailureSkipsOnlyProxiedService(t *testing.T) {
	services := map[string]config.ServiceSpec{
		"web": testutil.ServiceWithProxy("web", "h1"),
		"api": testutil.MinimalServiceSpec("api", "h1"),
	}

	fake := testutil.NewFakeShell()
	fake.OnExitCode("{{.Id}}", 1, "")
	fake.On("--name jiji-proxy", &ssh.Result{ExitCode: 1, Stderr: "cannot bind port 80"}, nil)

	orch := newTestOrchestrator(t, fake, services)
	result, err := orch.Deploy(context.Background(), DeployOptions{Destination: "test"}, noopEnv)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !result.Failed() {
		t.Fatal("expected Deploy to report failure when proxy install fails")
	}

	stats := Summary(result)
	if stats.TotalServices != 2 {
		t.Errorf("TotalServices: got %d, want 2", stats.TotalServices)
	}
	if stats.SuccessfulDeployments != 1 {
		t.Errorf("SuccessfulDeployments: got %d, want 1 (api only)", stats.SuccessfulDeployments)
	}
	if stats.FailedDeployments != 1 {
		t.Errorf("FailedDeployments: got %d, want 1 (web skipped)", stats.FailedDeployments)
	}

	var webErr error
	for _, r := range result.DeploymentResults {
		if r.Service == "web" {
			webErr = r.Err
		}
	}
	if webErr == nil || !strings.Contains(webErr.Error(), "proxy install failed") {
		t.Errorf("expected web's deployment result to report the skip reason, got: %v", webErr)
	}
}

func TestResolveImage(t *testing.T) {
	tests := []struct {
		name    string
		image   string
		version string
		want    string
	}{
		{"no version keeps image as-is", "acme/web:v1", "", "acme/web:v1"},
		{"version replaces existing tag", "acme/web:v1", "v2", "acme/web:v2"},
		{"version applied to untagged image", "acme/web", "v2", "acme/web:v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := config.ServiceSpec{Image: tt.image}
			if got := resolveImage(svc, tt.version); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
