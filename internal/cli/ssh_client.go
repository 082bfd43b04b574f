package cli

import (
	"github.com/acidtib/jiji/internal/config"
	"github.com/acidtib/jiji/internal/ssh"
)

// newSSHClient builds the project's shared SSH client from its top-level ssh
// defaults. The client dials every host with the top-level user, port and
// keys; the per-server values that config.Resolve places in each
// config.ServerRef are not applied to SSH connections.
func newSSHClient(c *config.Config) *ssh.Client {
	sshCfg := &ssh.Config{
		User:           c.SSH.User,
		Port:           c.SSH.Port,
		Keys:           c.SSH.Keys,
		ConnectTimeout: c.SSH.ConnectTimeout.Duration(),
		KnownHostsFile: c.SSH.KnownHostsFile,
		TrustedHostFingerprints: c.SSH.Fingerprints,
	}
	if c.SSH.Proxy.Host != "" {
		sshCfg.Proxy = &ssh.ProxyConfig{
			Host: c.SSH.Proxy.Host,
			User: c.SSH.Proxy.User,
			Port: c.SSH.Proxy.Port,
			Keys: c.SSH.Proxy.Keys,
		}
	}
	return ssh.NewClient(sshCfg)
}
