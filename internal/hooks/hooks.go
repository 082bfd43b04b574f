// Package hooks runs user-supplied lifecycle scripts (pre-deploy,
// post-app-boot, and so on) around an orchestrator run, passing deployment
// context through JIJI_* environment variables.
package hooks

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/acidtib/jiji/internal/output"
)

// Context carries the values exposed to a hook script as JIJI_* env vars.
type Context struct {
	Service     string
	Project     string
	Image       string
	Version     string
	Hosts       string // comma-separated
	Destination string
	Performer   string
	HookName    string
	RecordedAt  string // RFC3339
	Runtime     string // seconds, post-deploy only
}

// Environ returns os.Environ() with JIJI_* entries appended, omitting empty fields.
func (ctx *Context) Environ() []string {
	var env []string
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, "JIJI_") {
			env = append(env, e)
		}
	}

	add := func(key, val string) {
		if val != "" {
			env = append(env, key+"="+val)
		}
	}

	add("JIJI_SERVICE", ctx.Service)
	add("JIJI_PROJECT", ctx.Project)
	add("JIJI_IMAGE", ctx.Image)
	add("JIJI_VERSION", ctx.Version)
	add("JIJI_HOSTS", ctx.Hosts)
	add("JIJI_DESTINATION", ctx.Destination)
	add("JIJI_PERFORMER", ctx.Performer)
	add("JIJI_HOOK", ctx.HookName)
	add("JIJI_RECORDED_AT", ctx.RecordedAt)
	add("JIJI_RUNTIME", ctx.Runtime)

	return env
}

// CurrentUser returns the current username from $USER, $LOGNAME, or "unknown".
func CurrentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("LOGNAME"); u != "" {
		return u
	}
	return "unknown"
}

// Runner executes lifecycle hooks found under hooksPath.
type Runner struct {
	hooksPath string
	timeout   time.Duration
	log       *output.Logger
}

func NewRunner(hooksPath string, timeout time.Duration, log *output.Logger) *Runner {
	if hooksPath == "" {
		hooksPath = ".jiji/hooks"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if log == nil {
		log = output.DefaultLogger
	}
	return &Runner{hooksPath: hooksPath, timeout: timeout, log: log}
}

// insideHooksDir reports whether name resolves to a path inside hooksPath,
// rejecting traversal attempts like "../foo".
func (r *Runner) insideHooksDir(name string) bool {
	hookPath := filepath.Join(r.hooksPath, name)
	absHooksPath, err := filepath.Abs(r.hooksPath)
	if err != nil {
		return false
	}
	absHookPath, err := filepath.Abs(hookPath)
	if err != nil {
		return false
	}
	return strings.HasPrefix(absHookPath, absHooksPath+string(filepath.Separator))
}

// resolveHook validates that a hook exists and is executable, returning the
// resolved path or ("", nil) when the hook should be silently skipped.
//
// The file is opened with O_NOFOLLOW and checked via Fstat on the open fd,
// closing the TOCTOU race between stat and exec: if the file is swapped for
// a symlink between the path check and open, the open fails with ELOOP
// instead of silently following the link.
func (r *Runner) resolveHook(name string) (string, error) {
	hookPath := filepath.Join(r.hooksPath, name)

	if !r.insideHooksDir(name) {
		return "", fmt.Errorf("hook name %q escapes hooks directory", name)
	}

	f, err := os.OpenFile(hookPath, os.O_RDONLY|oNofollow, 0)
	if os.IsNotExist(err) {
		r.log.Debug("Hook %s not found, skipping", name)
		return "", nil
	}
	if err != nil {
		if isSymlinkError(err) {
			r.log.Warn("Hook %s is a symlink, skipping", name)
			return "", nil
		}
		return "", fmt.Errorf("failed to open hook: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat hook: %w", err)
	}
	if info.IsDir() {
		r.log.Debug("Hook %s is a directory, skipping", name)
		return "", nil
	}
	if info.Mode()&0111 == 0 {
		r.log.Warn("Hook %s is not executable, skipping", name)
		return "", nil
	}

	return hookPath, nil
}

type hookCmd struct {
	*exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc
}

func (r *Runner) prepareCmd(parent context.Context, hookPath, name string, hctx *Context) *hookCmd {
	if hctx != nil {
		hctx.HookName = name
	}

	runCtx, cancel := context.WithTimeout(parent, r.timeout)
	cmd := exec.CommandContext(runCtx, hookPath)

	if hctx != nil {
		cmd.Env = hctx.Environ()
	} else {
		var env []string
		for _, e := range os.Environ() {
			if !strings.HasPrefix(e, "JIJI_") {
				env = append(env, e)
			}
		}
		cmd.Env = env
	}

	return &hookCmd{Cmd: cmd, ctx: runCtx, cancel: cancel}
}

func (r *Runner) wrapError(name string, hc *hookCmd, err error) error {
	switch hc.ctx.Err() {
	case context.DeadlineExceeded:
		return fmt.Errorf("hook %s timed out after %s", name, r.timeout)
	case context.Canceled:
		return fmt.Errorf("hook %s cancelled", name)
	default:
		return fmt.Errorf("hook %s failed: %w", name, err)
	}
}

// Run executes a hook by name, blocking until it completes, times out, or
// the parent context is cancelled.
func (r *Runner) Run(parent context.Context, name string, hctx *Context) error {
	hookPath, err := r.resolveHook(name)
	if hookPath == "" || err != nil {
		return err
	}

	r.log.Info("Running hook: %s", name)

	hc := r.prepareCmd(parent, hookPath, name, hctx)
	defer hc.cancel()

	hc.Stdout = os.Stdout
	hc.Stderr = os.Stderr

	if err := hc.Run(); err != nil {
		return r.wrapError(name, hc, err)
	}

	r.log.Success("Hook %s completed", name)
	return nil
}

// RunWithOutput executes a hook and returns its combined output.
func (r *Runner) RunWithOutput(parent context.Context, name string, hctx *Context) (string, error) {
	hookPath, err := r.resolveHook(name)
	if hookPath == "" || err != nil {
		return "", err
	}

	r.log.Info("Running hook: %s", name)

	hc := r.prepareCmd(parent, hookPath, name, hctx)
	defer hc.cancel()

	out, err := hc.CombinedOutput()
	if err != nil {
		return string(out), r.wrapError(name, hc, err)
	}

	r.log.Success("Hook %s completed", name)
	return string(out), nil
}

// Exists reports whether a hook is present, not a directory, not a symlink,
// and executable.
func (r *Runner) Exists(name string) bool {
	if !r.insideHooksDir(name) {
		return false
	}
	hookPath := filepath.Join(r.hooksPath, name)
	f, err := os.OpenFile(hookPath, os.O_RDONLY|oNofollow, 0)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Mode()&0111 != 0
}

// List returns all available hook file names.
func (r *Runner) List() ([]string, error) {
	entries, err := os.ReadDir(r.hooksPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") && entry.Type()&os.ModeSymlink == 0 {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// StandardHooks lists the recognised hook names. A deploy runs pre-deploy and
// post-deploy (orchestrator) and pre-app-boot and post-app-boot (host
// driver); nothing runs pre-connect, pre-proxy-cutover, post-proxy-cutover
// or post-rollback.
var StandardHooks = []string{
	"pre-connect",
	"pre-deploy",
	"pre-app-boot",
	"post-app-boot",
	"post-deploy",
	"pre-proxy-cutover",
	"post-proxy-cutover",
	"post-rollback",
}
