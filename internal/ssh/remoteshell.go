package ssh

import (
	"io"
	"time"
)

// RemoteShell is the subset of Client's behavior that the rest of jiji
// depends on to run commands against hosts and to serialize around a remote
// lock file. Callers take this interface instead of *Client so tests can
// substitute a fake transport instead of dialing real SSH connections.
type RemoteShell interface {
	Execute(host, cmd string) (*Result, error)
	ExecuteWithStdin(host, cmd string, stdin io.Reader) (*Result, error)
	ExecuteParallel(hosts []string, cmd string) []*Result
	WithRemoteLock(host, lockFile string, timeout time.Duration, fn func() error) error
}

var _ RemoteShell = (*Client)(nil)
