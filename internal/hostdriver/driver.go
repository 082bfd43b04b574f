// Package hostdriver runs one service's deployment state machine against a
// single host: Prepare -> ArchiveOld -> BootNew -> HealthGate -> Finalize,
// with a Rollback path out of BootNew/HealthGate back to the previous
// generation.
package hostdriver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/acidtib/jiji/internal/config"
	"github.com/acidtib/jiji/internal/engine"
	"github.com/acidtib/jiji/internal/hooks"
	"github.com/acidtib/jiji/internal/orcherr"
	"github.com/acidtib/jiji/internal/output"
	"github.com/acidtib/jiji/internal/proxyctl"
	"github.com/acidtib/jiji/internal/ssh"
	"github.com/acidtib/jiji/internal/state"
)

// rollbackLogTail bounds how many lines of a failed container's logs are
// captured and attached to the error a rolled-back Boot/Cutover returns.
const rollbackLogTail = "200"

// lockTimeout bounds how long a deploy waits for another deploy of the same
// service on the same host to release the remote flock before giving up.
const lockTimeout = 5 * time.Minute

// State is a step in the per-host deployment state machine.
type State string

const (
	StatePrepare    State = "prepare"
	StateArchiveOld State = "archive_old"
	StateBootNew    State = "boot_new"
	StateHealthGate State = "health_gate"
	StateFinalize   State = "finalize"
	StateDone       State = "done"
	StateRollback   State = "rollback"
	StateRolledBack State = "rolled_back"
	StateFailed     State = "failed"
)

// Request is everything the driver needs to deploy one service generation
// onto one host. Env must already be fully resolved (clear values merged
// with secrets) — the driver has no knowledge of where values come from.
type Request struct {
	Server  config.ServerRef
	Service config.ServiceSpec
	Image   string
	Env     map[string]string
	Network string
}

// Result reports the outcome of a Run, including which state it ended in
// and the generation that is now canonical (or was restored on rollback).
type Result struct {
	Host            string
	Service         string
	FinalState      State
	NewContainer    string
	PreviousArchive string // "" if this was the first generation
	Err             error
}

// Driver executes the per-host state machine against a single container
// engine endpoint.
type Driver struct {
	ssh        ssh.RemoteShell
	containers *engine.ContainerManager
	proxy      *proxyctl.Controller
	hooks      *hooks.Runner
	engineBin  string
	log        *output.Logger
}

func New(sshClient ssh.RemoteShell, containers *engine.ContainerManager, proxy *proxyctl.Controller, hookRunner *hooks.Runner, engineBin string, log *output.Logger) *Driver {
	if log == nil {
		log = output.DefaultLogger
	}
	return &Driver{ssh: sshClient, containers: containers, proxy: proxy, hooks: hookRunner, engineBin: engineBin, log: log}
}

// SwapState is the handoff between Boot and Cutover: a new container is
// running under its canonical name and any previous generation has been
// renamed out of the way. Cutover picks up from here to either finalize the
// swap or roll it back.
type SwapState struct {
	Host         string
	Service      config.ServiceSpec
	Canonical    string
	Archived     string
	HadPrevious  bool
	NewContainer string
	Req          Request
}

// Run drives one host through the full deployment state machine in one
// call: Boot immediately followed by Cutover. Callers that need a fleet-wide
// barrier between the two (so every host finishes booting before any host
// starts its cut-over) call Boot and Cutover directly instead.
func (d *Driver) Run(ctx context.Context, req Request) *Result {
	sw, res := d.Boot(ctx, req)
	if res != nil {
		return res
	}
	res = d.Cutover(ctx, sw)
	if res.FinalState == StateDone {
		_ = d.Finalize(sw)
	}
	return res
}

// Boot prepares the image, archives any previous generation, and starts the
// new container, all under a remote flock keyed by the service's canonical
// name so two concurrent deploys of the same service on the same host
// serialize instead of racing on the same container name. If starting the
// new container fails it rolls back immediately; a failed image prepare,
// archive or lock acquisition returns StateFailed without a rollback. On any
// failure it returns a populated Result (sw is nil); on success it releases
// the lock and returns a SwapState for Cutover.
func (d *Driver) Boot(ctx context.Context, req Request) (*SwapState, *Result) {
	host := req.Server.Host
	svc := req.Service
	canonical := CanonicalName(svc.Project, svc.Name)

	if err := d.prepare(host, req); err != nil {
		return nil, &Result{Host: host, Service: svc.Name, FinalState: StateFailed, Err: orcherr.New(orcherr.KindImage, svc.Name, host, err)}
	}

	var sw *SwapState
	var res *Result
	lockFile := state.LockFile(req.Server.User, canonical)
	lockErr := d.ssh.WithRemoteLock(host, lockFile, lockTimeout, func() error {
		archived, hadPrevious, err := d.archiveOld(host, svc, canonical)
		if err != nil {
			res = &Result{Host: host, Service: svc.Name, FinalState: StateFailed, Err: orcherr.New(orcherr.KindContainerStart, svc.Name, host, fmt.Errorf("archiving previous generation: %w", err))}
			return err
		}

		newName, bootErr := d.bootNew(host, req, canonical)
		if bootErr != nil {
			tail := d.captureLogs(host, canonical)
			d.rollback(host, svc, canonical, archived, hadPrevious, "")
			res = &Result{Host: host, Service: svc.Name, PreviousArchive: archived, FinalState: StateRolledBack, Err: orcherr.New(orcherr.KindContainerStart, svc.Name, host, withLogTail(bootErr, tail))}
			return bootErr
		}

		sw = &SwapState{Host: host, Service: svc, Canonical: canonical, Archived: archived, HadPrevious: hadPrevious, NewContainer: newName, Req: req}
		return nil
	})
	if lockErr != nil && res == nil && sw == nil {
		res = &Result{Host: host, Service: svc.Name, FinalState: StateFailed, Err: orcherr.New(orcherr.KindContainerStart, svc.Name, host, fmt.Errorf("acquiring deployment lock: %w", lockErr))}
	}
	return sw, res
}

// Cutover waits for the new generation's own health gate and performs the
// proxy's health-gated cut-over if the service has one configured, rolling
// back to the previous generation on either failure. After Boot, this is the
// only step that can trigger a rollback; retired-generation cleanup is a separate,
// best-effort step (see Finalize) that runs after every host has reached a
// cut-over verdict. Cutover re-acquires the remote lock Boot used rather
// than holding it across the gap, so a concurrent Boot of the same service
// on the same host could in principle interleave between a Boot and its
// Cutover; the gap is bounded by whatever barrier the caller enforces
// between the two phases.
func (d *Driver) Cutover(ctx context.Context, sw *SwapState) *Result {
	host, svc := sw.Host, sw.Service
	res := &Result{Host: host, Service: svc.Name, PreviousArchive: sw.Archived, NewContainer: sw.NewContainer}

	if d.hooks != nil {
		_ = d.hooks.Run(ctx, "pre-app-boot", &hooks.Context{Service: svc.Name, Project: svc.Project})
	}

	lockFile := state.LockFile(sw.Req.Server.User, sw.Canonical)
	lockErr := d.ssh.WithRemoteLock(host, lockFile, lockTimeout, func() error {
		if err := d.healthGate(ctx, host, svc, sw.NewContainer, sw.Req); err != nil {
			tail := d.captureLogs(host, sw.NewContainer)
			d.rollback(host, svc, sw.Canonical, sw.Archived, sw.HadPrevious, sw.NewContainer)
			kind := orcherr.KindHealthTimeout
			if _, ok := err.(*proxyInstallError); ok {
				kind = orcherr.KindProxyInstall
			}
			res.FinalState = StateRolledBack
			res.Err = orcherr.New(kind, svc.Name, host, withLogTail(err, tail))
			return err
		}

		if d.hooks != nil {
			_ = d.hooks.Run(ctx, "post-app-boot", &hooks.Context{Service: svc.Name, Project: svc.Project})
		}

		res.FinalState = StateDone
		return nil
	})
	if lockErr != nil && res.Err == nil {
		res.FinalState = StateFailed
		res.Err = orcherr.New(orcherr.KindContainerStart, svc.Name, host, fmt.Errorf("acquiring cut-over lock: %w", lockErr))
	}
	return res
}

// Finalize removes retired generations of sw's service beyond its retain
// count. It is best-effort and never triggers a rollback: cleanup of an old
// generation doesn't threaten the new one's correctness, so a failure here
// is a warning, not a deployment failure.
func (d *Driver) Finalize(sw *SwapState) error {
	if err := d.finalize(sw.Host, sw.Service, sw.Canonical, sw.Archived, sw.HadPrevious); err != nil {
		d.log.Warn("finalize cleanup on %s failed: %v", sw.Host, err)
		return err
	}
	return nil
}

// UsesProxy reports whether svc's proxy cut-over step runs at all, so
// fleet-wide phases can tell which (service, host) pairs belong in the
// ProxyConfig phase without duplicating healthGate's own check.
func UsesProxy(svc config.ServiceSpec) bool {
	return svc.Proxy != nil && svc.Proxy.Enabled
}

// captureLogs returns the tail of a container's logs for attaching to a
// rollback error, or "" if the container never existed or logs couldn't be
// fetched (e.g. the engine failed before creating it).
func (d *Driver) captureLogs(host, container string) string {
	if container == "" {
		return ""
	}
	result, err := d.containers.Logs(host, container, rollbackLogTail, false)
	if err != nil || result == nil {
		return ""
	}
	out := strings.TrimSpace(result.Stdout)
	if errOut := strings.TrimSpace(result.Stderr); errOut != "" {
		if out != "" {
			out += "\n"
		}
		out += errOut
	}
	return out
}

func withLogTail(err error, tail string) error {
	if tail == "" {
		return err
	}
	return fmt.Errorf("%w\ncontainer logs (tail):\n%s", err, tail)
}

func (d *Driver) prepare(host string, req Request) error {
	if req.Network != "" {
		if err := d.containers.EnsureNetwork(host, req.Network); err != nil {
			return err
		}
	}
	if err := d.containers.Pull(host, req.Image); err != nil {
		return err
	}
	return nil
}

// archiveOld renames any existing canonical container out of the way,
// freeing the canonical name for the new generation. Returns the archived
// name ("" if there was no previous generation).
func (d *Driver) archiveOld(host string, svc config.ServiceSpec, canonical string) (string, bool, error) {
	exists, err := d.containers.Exists(host, canonical)
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, nil
	}

	archived := ArchivedName(svc.Project, svc.Name, time.Now())
	if err := d.containers.Rename(host, canonical, archived); err != nil {
		return "", false, err
	}
	return archived, true, nil
}

func (d *Driver) bootNew(host string, req Request, canonical string) (string, error) {
	svc := req.Service
	spec := &engine.RunSpec{
		Name:           canonical,
		Image:          req.Image,
		Command:        commandArgv(svc),
		Env:            req.Env,
		Ports:          svc.Ports,
		Volumes:        svc.Volumes,
		Network:        req.Network,
		NetworkAliases: []string{svc.Name},
		Memory:         svc.Memory,
		CPUs:           svc.CPUs,
		Devices:        svc.Devices,
		CapAdd:         svc.CapAdd,
		Privileged:     svc.Privileged,
		Restart:        "unless-stopped",
		Detach:         true,
		Labels: map[string]string{
			"jiji.managed": "true",
			"jiji.project": svc.Project,
			"jiji.service": svc.Name,
		},
	}

	if _, err := d.containers.Run(host, spec); err != nil {
		return "", err
	}
	return canonical, nil
}

func commandArgv(svc config.ServiceSpec) []string {
	if svc.Command.IsSet() {
		return svc.Command.Argv
	}
	return nil
}

type proxyInstallError struct{ err error }

func (e *proxyInstallError) Error() string { return e.err.Error() }
func (e *proxyInstallError) Unwrap() error { return e.err }

// healthGate waits for the new container to answer its own readiness probe,
// then performs the proxy's own health-gated cut-over if the service has a
// proxy target configured.
func (d *Driver) healthGate(ctx context.Context, host string, svc config.ServiceSpec, container string, req Request) error {
	port, path, interval, timeout, deployTimeout := healthcheckParams(svc)

	if err := waitReady(d.ssh, d.engineBin, host, container, port, path, deployTimeout); err != nil {
		return err
	}

	if svc.Proxy == nil || !svc.Proxy.Enabled {
		return nil
	}

	if err := d.proxy.Install(host); err != nil {
		return &proxyInstallError{err}
	}

	target := proxyctl.Target{
		Addr:           fmt.Sprintf("%s:%d", host, port),
		HealthPath:     path,
		HealthInterval: interval,
		HealthTimeout:  timeout,
		DeployTimeout:  deployTimeout,
	}
	for _, t := range svc.Proxy.Targets {
		if !containsHost(t.Hosts, host) {
			continue
		}
		target.TLS = t.SSL
		if t.Healthcheck.Path != "" {
			target.HealthPath = t.Healthcheck.Path
		}
	}

	if err := d.proxy.Deploy(host, svc.Name, target); err != nil {
		return &proxyInstallError{err}
	}
	return nil
}

func containsHost(hosts []string, host string) bool {
	for _, h := range hosts {
		if h == host {
			return true
		}
	}
	return false
}

func healthcheckParams(svc config.ServiceSpec) (port int, path string, interval, timeout, deployTimeout time.Duration) {
	port = firstPort(svc.Ports)
	interval, timeout, deployTimeout = 5*time.Second, 5*time.Second, 30*time.Second

	if svc.Proxy == nil {
		return
	}
	for _, t := range svc.Proxy.Targets {
		hc := t.Healthcheck
		if hc.Path != "" {
			path = hc.Path
		}
		if hc.Interval.Duration() > 0 {
			interval = hc.Interval.Duration()
		}
		if hc.Timeout.Duration() > 0 {
			timeout = hc.Timeout.Duration()
		}
		if hc.DeployTimeout.Duration() > 0 {
			deployTimeout = hc.DeployTimeout.Duration()
		}
	}
	return
}

func firstPort(ports []string) int {
	for _, p := range ports {
		proto := "tcp"
		raw := p
		if idx := indexByte(raw, '/'); idx >= 0 {
			proto = raw[idx+1:]
			raw = raw[:idx]
		}
		if proto != "tcp" {
			continue
		}
		parts := splitColon(raw)
		containerPort := parts[len(parts)-1]
		n := 0
		for _, c := range containerPort {
			if c < '0' || c > '9' {
				n = 0
				break
			}
			n = n*10 + int(c-'0')
		}
		if n > 0 {
			return n
		}
	}
	return 0
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func splitColon(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// rollback restores the host to its pre-deploy state: removes the failed
// new container (if it was created) and renames the archived generation
// back to the canonical name (if one existed).
func (d *Driver) rollback(host string, svc config.ServiceSpec, canonical, archived string, hadPrevious bool, newContainer string) {
	if newContainer != "" {
		if err := d.containers.Remove(host, newContainer, true); err != nil {
			d.log.Warn("rollback: failed to remove new container on %s: %v", host, err)
		}
	}
	if hadPrevious && archived != "" {
		if err := d.containers.Rename(host, archived, canonical); err != nil {
			d.log.Warn("rollback: failed to restore previous generation on %s: %v", host, err)
		}
	}
}

// finalize removes retired generations beyond the service's retain count.
func (d *Driver) finalize(host string, svc config.ServiceSpec, canonical, archived string, hadPrevious bool) error {
	if !hadPrevious {
		return nil
	}

	retain := svc.Retain
	if retain < 1 {
		retain = 1
	}

	containers, err := d.containers.List(host, true, map[string]string{"name": archivedPrefix(svc.Project, svc.Name)})
	if err != nil {
		return err
	}

	var names []string
	for _, c := range containers {
		if _, ok := ParseArchivedEpoch(svc.Project, svc.Name, c.Name); ok {
			names = append(names, c.Name)
		}
	}

	newestFirst := SortArchivedNewestFirst(svc.Project, svc.Name, names)
	if len(newestFirst) <= retain {
		return nil
	}

	var lastErr error
	for _, old := range newestFirst[retain:] {
		if err := d.containers.Stop(host, old, 10); err != nil {
			d.log.Debug("finalize: stop %s on %s: %v", old, host, err)
		}
		if err := d.containers.Remove(host, old, true); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
