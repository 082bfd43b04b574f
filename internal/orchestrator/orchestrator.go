// Package orchestrator sequences a deployment run across every host a
// service targets as four barrier-separated phases: ProxyInstall, Deploy,
// ProxyConfig, Cleanup. Where internal/hostdriver owns one host's state
// machine, this package owns the fan-out, the service-pattern selection,
// and the project-level hooks/history that wrap the whole run.
package orchestrator

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/acidtib/jiji/internal/config"
	"github.com/acidtib/jiji/internal/engine"
	"github.com/acidtib/jiji/internal/history"
	"github.com/acidtib/jiji/internal/hooks"
	"github.com/acidtib/jiji/internal/hostdriver"
	"github.com/acidtib/jiji/internal/orcherr"
	"github.com/acidtib/jiji/internal/output"
	"github.com/acidtib/jiji/internal/proxyctl"
	"github.com/acidtib/jiji/internal/ssh"
)

// DeployOptions controls the scope and behavior of a Deploy run.
type DeployOptions struct {
	// ServicePattern selects which configured services to deploy: an exact
	// name match wins outright, otherwise '*'/'?' glob against service
	// names, otherwise (empty pattern) every service is selected.
	ServicePattern string

	Version         string
	SkipPull        bool
	Destination     string
	RollbackOnError bool
}

// AttemptResult is one component's outcome against one (service, host) pair
// during a Deploy run. ProxyInstallResults carries one entry per host
// instead (Service is "" there).
type AttemptResult struct {
	Service string
	Host    string
	Err     error
	Driver  *hostdriver.Result // nil for ProxyInstallResults entries
}

// DeploymentResult is the Orchestrator's typed report of a Deploy run,
// shaped to match the barrier-separated phase order: ProxyInstall, Deploy,
// ProxyConfig. Cleanup is best-effort and has no result list of its own;
// a cleanup failure surfaces as a Warning, never as an Error.
type DeploymentResult struct {
	ProxyInstallResults []AttemptResult
	DeploymentResults   []AttemptResult
	ProxyConfigResults  []AttemptResult
	Errors              []error
	Warnings            []string
	Success             bool
}

// Failed reports whether the run ended with result.Success == false.
func (r *DeploymentResult) Failed() bool {
	return !r.Success
}

// SummaryStats is the pure, structured report Summary computes from a
// DeploymentResult: counts a caller can render or assert on without
// re-deriving them from the phase result lists.
type SummaryStats struct {
	TotalServices         int
	SuccessfulDeployments int
	FailedDeployments     int
	ProxyInstallations    int
	ProxyConfigurations   int
	HasErrors             bool
	HasWarnings           bool
}

// Summary computes SummaryStats from result. TotalServices counts every
// (service,host) attempt recorded in DeploymentResults, including ones
// skipped because their host's proxy install failed.
func Summary(result *DeploymentResult) SummaryStats {
	var s SummaryStats
	s.TotalServices = len(result.DeploymentResults)
	for _, r := range result.DeploymentResults {
		if r.Err != nil {
			s.FailedDeployments++
		} else {
			s.SuccessfulDeployments++
		}
	}
	for _, r := range result.ProxyInstallResults {
		if r.Err == nil {
			s.ProxyInstallations++
		}
	}
	for _, r := range result.ProxyConfigResults {
		if r.Err == nil {
			s.ProxyConfigurations++
		}
	}
	s.HasErrors = len(result.Errors) > 0 || s.FailedDeployments > 0
	s.HasWarnings = len(result.Warnings) > 0
	return s
}

// Report renders a one-line-per-(service,host) report followed by the
// Summary counts, for CLI display. Summary itself stays a pure data
// function; Report is the only part of this package that formats text.
func Report(result *DeploymentResult) string {
	var b strings.Builder
	for _, r := range result.DeploymentResults {
		status := "ok"
		if r.Err != nil {
			status = fmt.Sprintf("failed: %v", r.Err)
		}
		host := r.Host
		if host == "" {
			host = "-"
		}
		fmt.Fprintf(&b, "%s@%s: %s\n", r.Service, host, status)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	stats := Summary(result)
	fmt.Fprintf(&b, "%d/%d deployments succeeded", stats.SuccessfulDeployments, stats.TotalServices)
	if len(result.ProxyInstallResults) > 0 {
		fmt.Fprintf(&b, ", %d/%d proxy installs", stats.ProxyInstallations, len(result.ProxyInstallResults))
	}
	if len(result.ProxyConfigResults) > 0 {
		fmt.Fprintf(&b, ", %d/%d proxy cut-overs", stats.ProxyConfigurations, len(result.ProxyConfigResults))
	}
	b.WriteString("\n")
	return b.String()
}

// Orchestrator wires together the per-host driver, the proxy controller,
// project hooks and deployment history for a whole project file.
type Orchestrator struct {
	cfg     *config.Config
	ssh     ssh.RemoteShell
	proxy   *proxyctl.Controller
	hooks   *hooks.Runner
	history *history.Store
	log     *output.Logger

	engineBin string
	newDriver func(host string) *hostdriver.Driver
}

func New(cfg *config.Config, sshClient ssh.RemoteShell, eng engine.Engine, proxyImage, historyPath string, retain int, log *output.Logger) *Orchestrator {
	if log == nil {
		log = output.DefaultLogger
	}

	client := engine.NewClient(sshClient, eng)
	containers := engine.NewContainerManager(client)
	proxy := proxyctl.New(sshClient, containers, proxyImage, cfg.SSH.User, log)
	hookRunner := hooks.NewRunner("", 0, log)
	historyStore := history.NewStore(historyPath, retain, log)

	o := &Orchestrator{
		cfg:       cfg,
		ssh:       sshClient,
		proxy:     proxy,
		hooks:     hookRunner,
		history:   historyStore,
		log:       log,
		engineBin: string(eng),
	}
	o.newDriver = func(host string) *hostdriver.Driver {
		return hostdriver.New(sshClient, containers, proxy, hookRunner, o.engineBin, log)
	}
	return o
}

// MatchServices selects configured service names against pattern: an exact
// match always wins even if the pattern also happens to be a valid glob;
// otherwise every name matching the glob is returned; an empty pattern
// selects every service. Matching is case-sensitive.
func MatchServices(pattern string, services map[string]config.ServiceSpec) ([]string, error) {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	if pattern == "" {
		return names, nil
	}
	if _, ok := services[pattern]; ok {
		return []string{pattern}, nil
	}

	var matched []string
	for _, name := range names {
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("invalid service pattern %q: %w", pattern, err)
		}
		if ok {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

// workItem is one (service, host) pair in the work set, with its
// already-resolved image and environment.
type workItem struct {
	server config.ServerRef
	image  string
	env    map[string]string
}

// serviceRun is the per-service bookkeeping built before any phase runs:
// resolved hosts, history record, pre-deploy hook context, and the work
// items it contributes to the fleet-wide phases. configErr, when set, means
// the service never entered the phases at all (unresolvable hosts, a failed
// secrets check, a failed env resolution, or a failed pre-deploy hook).
type serviceRun struct {
	svc         config.ServiceSpec
	hostNames   []string
	record      *history.Record
	hookCtx     *hooks.Context
	deployStart time.Time
	items       []workItem
	configErr   error
}

// pending is one (service, host) pair's progress through the Deploy and
// ProxyConfig phases.
type pending struct {
	run     *serviceRun
	item    workItem
	skip    error // set if this pair never entered Boot (proxy install failed on its host)
	boot    *hostdriver.Result
	sw      *hostdriver.SwapState
	cutover *hostdriver.Result
}

func (p *pending) err() error {
	switch {
	case p.skip != nil:
		return p.skip
	case p.boot != nil:
		return p.boot.Err
	case p.cutover != nil:
		return p.cutover.Err
	default:
		return nil
	}
}

// Deploy runs the four barrier-separated phases — ProxyInstall, Deploy,
// ProxyConfig, Cleanup — across every (service, host) pair matched by
// opts.ServicePattern. Phase N+1 does not start until every task in phase N
// has terminated; within a phase, every targeted host runs concurrently.
func (o *Orchestrator) Deploy(ctx context.Context, opts DeployOptions, resolveEnv func(svc config.ServiceSpec) (map[string]string, error)) (*DeploymentResult, error) {
	names, err := MatchServices(opts.ServicePattern, o.cfg.ResolvedServices())
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no services matched pattern %q", opts.ServicePattern)
	}

	result := &DeploymentResult{}

	runs := make([]*serviceRun, 0, len(names))
	for _, name := range names {
		svc := o.cfg.ResolvedServices()[name]
		run := o.prepareService(ctx, svc, opts, resolveEnv)
		runs = append(runs, run)
		if run.configErr != nil {
			result.Errors = append(result.Errors, orcherr.New(orcherr.KindConfig, svc.Name, "", run.configErr))
			result.DeploymentResults = append(result.DeploymentResults, AttemptResult{Service: svc.Name, Err: run.configErr})
		}
	}

	all := make([]*pending, 0)
	for _, run := range runs {
		for _, item := range run.items {
			all = append(all, &pending{run: run, item: item})
		}
	}

	failedProxyHosts := o.runProxyInstallPhase(all, result)
	o.runDeployPhase(ctx, all, failedProxyHosts, result)
	o.runProxyConfigPhase(ctx, all, result)
	o.runCleanupPhase(all, result)
	o.recordHistory(ctx, runs, all)

	result.Success = len(result.Errors) == 0
	for _, r := range result.DeploymentResults {
		if r.Err != nil {
			result.Success = false
			break
		}
	}
	return result, nil
}

// prepareService resolves svc's hosts and environment, validates its
// required secrets are in place, and runs its pre-deploy hook, all before
// any fleet-wide phase starts. A failure at any of these steps excludes the
// service entirely from the phases that follow.
func (o *Orchestrator) prepareService(ctx context.Context, svc config.ServiceSpec, opts DeployOptions, resolveEnv func(config.ServiceSpec) (map[string]string, error)) *serviceRun {
	run := &serviceRun{svc: svc}

	servers, err := o.resolveHosts(svc)
	if err != nil {
		run.configErr = err
		run.record = history.NewRecord(svc.Name, svc.Project, "", opts.Version, opts.Destination, nil)
		run.record.Start()
		return run
	}
	hostNames := make([]string, len(servers))
	for i, s := range servers {
		hostNames[i] = s.Host
	}
	run.hostNames = hostNames

	image := resolveImage(svc, opts.Version)
	run.record = history.NewRecord(svc.Name, svc.Project, image, opts.Version, opts.Destination, hostNames)
	run.record.Start()
	run.deployStart = time.Now()

	if svc.Env.Secret != nil {
		if err := hostdriver.ValidateRemoteSecrets(o.ssh, hostNames, config.RemoteSecretsPath(o.cfg), svc.Env.Secret); err != nil {
			run.configErr = err
			return run
		}
	}

	env, err := resolveEnv(svc)
	if err != nil {
		run.configErr = err
		return run
	}

	run.hookCtx = &hooks.Context{Service: svc.Name, Project: svc.Project, Image: image, Version: opts.Version, Hosts: strings.Join(hostNames, ","), Destination: opts.Destination, Performer: hooks.CurrentUser(), RecordedAt: run.deployStart.Format(time.RFC3339)}
	if err := o.hooks.Run(ctx, "pre-deploy", run.hookCtx); err != nil {
		run.configErr = err
		return run
	}

	for _, server := range servers {
		run.items = append(run.items, workItem{server: server, image: image, env: env})
	}
	return run
}

// runProxyInstallPhase is phase 1: ensure EdgeProxy is present on every host
// that carries at least one proxy-enabled service in this run, in parallel
// across hosts. It returns the set of hosts whose install failed.
func (o *Orchestrator) runProxyInstallPhase(all []*pending, result *DeploymentResult) map[string]bool {
	hostSet := make(map[string]bool)
	for _, p := range all {
		if hostdriver.UsesProxy(p.run.svc) {
			hostSet[p.item.server.Host] = true
		}
	}
	failed := make(map[string]bool)
	if len(hostSet) == 0 {
		return failed
	}

	hosts := make([]string, 0, len(hostSet))
	for h := range hostSet {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	installed := make([]AttemptResult, len(hosts))
	var wg sync.WaitGroup
	for i, host := range hosts {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			err := o.proxy.Install(host)
			installed[i] = AttemptResult{Host: host, Err: err}
		}(i, host)
	}
	wg.Wait()

	for _, r := range installed {
		result.ProxyInstallResults = append(result.ProxyInstallResults, r)
		if r.Err != nil {
			failed[r.Host] = true
			result.Errors = append(result.Errors, orcherr.New(orcherr.KindProxyInstall, "", r.Host, r.Err))
		}
	}
	return failed
}

// runDeployPhase is phase 2: boot every (service, host) pair concurrently,
// skipping pairs whose service needs proxying on a host whose install
// failed (unproxied work on other hosts still proceeds). Every pair —
// booted, skipped, or failed — gets exactly one DeploymentResults entry.
func (o *Orchestrator) runDeployPhase(ctx context.Context, all []*pending, failedProxyHosts map[string]bool, result *DeploymentResult) {
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range all {
		if hostdriver.UsesProxy(p.run.svc) && failedProxyHosts[p.item.server.Host] {
			p.skip = fmt.Errorf("skipped: proxy install failed on host %s", p.item.server.Host)
			mu.Lock()
			result.DeploymentResults = append(result.DeploymentResults, AttemptResult{Service: p.run.svc.Name, Host: p.item.server.Host, Err: p.skip})
			result.Errors = append(result.Errors, orcherr.New(orcherr.KindProxyInstall, p.run.svc.Name, p.item.server.Host, p.skip))
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(p *pending) {
			defer wg.Done()
			driver := o.newDriver(p.item.server.Host)
			req := hostdriver.Request{Server: p.item.server, Service: p.run.svc, Image: p.item.image, Env: p.item.env, Network: o.cfg.Network.Name}
			sw, res := driver.Boot(ctx, req)

			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				p.boot = res
				result.DeploymentResults = append(result.DeploymentResults, AttemptResult{Service: p.run.svc.Name, Host: p.item.server.Host, Err: res.Err, Driver: res})
				return
			}
			p.sw = sw
			result.DeploymentResults = append(result.DeploymentResults, AttemptResult{Service: p.run.svc.Name, Host: p.item.server.Host})
		}(p)
	}
	wg.Wait()
}

// runProxyConfigPhase is phase 3: cut over every successfully booted pair,
// which performs the host's own health gate and is the only phase after
// Deploy that can trigger a rollback. Only proxy-enabled pairs get a ProxyConfigResults
// entry, matching the summary contract's proxyConfigurations count; a
// non-proxy pair's health gate still runs (and can still roll it back) as
// part of the same Cutover call, it's just not counted as a proxy
// configuration.
func (o *Orchestrator) runProxyConfigPhase(ctx context.Context, all []*pending, result *DeploymentResult) {
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range all {
		if p.sw == nil {
			continue
		}
		wg.Add(1)
		go func(p *pending) {
			defer wg.Done()
			driver := o.newDriver(p.item.server.Host)
			res := driver.Cutover(ctx, p.sw)

			mu.Lock()
			defer mu.Unlock()
			p.cutover = res
			for i := range result.DeploymentResults {
				dr := &result.DeploymentResults[i]
				if dr.Service == p.run.svc.Name && dr.Host == p.item.server.Host && dr.Driver == nil {
					dr.Err = res.Err
					dr.Driver = res
					break
				}
			}
			if hostdriver.UsesProxy(p.run.svc) {
				result.ProxyConfigResults = append(result.ProxyConfigResults, AttemptResult{Service: p.run.svc.Name, Host: p.item.server.Host, Err: res.Err, Driver: res})
			}
			if res.Err != nil {
				result.Errors = append(result.Errors, res.Err)
			}
		}(p)
	}
	wg.Wait()
}

// runCleanupPhase is phase 4: best-effort removal of retired generations
// beyond each service's retain count. It never affects result.Success —
// a failure here only adds a Warning.
func (o *Orchestrator) runCleanupPhase(all []*pending, result *DeploymentResult) {
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range all {
		if p.cutover == nil || p.cutover.FinalState != hostdriver.StateDone {
			continue
		}
		wg.Add(1)
		go func(p *pending) {
			defer wg.Done()
			driver := o.newDriver(p.item.server.Host)
			if err := driver.Finalize(p.sw); err != nil {
				mu.Lock()
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s@%s: cleanup: %v", p.run.svc.Name, p.item.server.Host, err))
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
}

// recordHistory aggregates every pair's outcome back to its service's
// history record and fires the post-deploy hook for services that
// succeeded on every host.
func (o *Orchestrator) recordHistory(ctx context.Context, runs []*serviceRun, all []*pending) {
	byRun := make(map[*serviceRun][]*pending, len(runs))
	for _, p := range all {
		byRun[p.run] = append(byRun[p.run], p)
	}

	for _, run := range runs {
		if run.configErr != nil {
			run.record.Fail(run.configErr)
			if err := o.history.Record(run.record); err != nil {
				o.log.Warn("failed to record deployment history for %s: %v", run.svc.Name, err)
			}
			continue
		}

		failed := false
		for _, p := range byRun[run] {
			if p.err() != nil {
				failed = true
				break
			}
		}

		if failed {
			run.record.Fail(fmt.Errorf("deployment failed on one or more hosts"))
			run.record.MarkRolledBack()
		} else {
			run.record.Complete()
			run.hookCtx.Runtime = elapsed(run.deployStart)
			run.hookCtx.RecordedAt = time.Now().Format(time.RFC3339)
			if err := o.hooks.Run(ctx, "post-deploy", run.hookCtx); err != nil {
				o.log.Warn("post-deploy hook failed for %s: %v", run.svc.Name, err)
			}
		}
		if err := o.history.Record(run.record); err != nil {
			o.log.Warn("failed to record deployment history for %s: %v", run.svc.Name, err)
		}
	}
}

func (o *Orchestrator) resolveHosts(svc config.ServiceSpec) ([]config.ServerRef, error) {
	servers := o.cfg.ResolvedServers()
	var refs []config.ServerRef
	for _, h := range svc.Hosts {
		name := h.Name
		if name == "" {
			continue
		}
		server, ok := servers[name]
		if !ok {
			return nil, fmt.Errorf("service %s references unknown host %q", svc.Name, name)
		}
		refs = append(refs, server)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("service %s has no resolvable hosts", svc.Name)
	}
	return refs, nil
}

func resolveImage(svc config.ServiceSpec, version string) string {
	image := svc.Image
	if version == "" {
		return image
	}
	if idx := strings.LastIndex(image, ":"); idx > 0 && !strings.Contains(image[idx:], "/") {
		image = image[:idx]
	}
	return fmt.Sprintf("%s:%s", image, version)
}

// elapsed formats the whole seconds since a time for the hook context's
// Runtime field.
func elapsed(since time.Time) string {
	return fmt.Sprintf("%.0f", time.Since(since).Seconds())
}
