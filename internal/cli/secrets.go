package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acidtib/jiji/internal/config"
	"github.com/acidtib/jiji/internal/orchestrator"
	"github.com/acidtib/jiji/internal/shell"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage secrets on target hosts",
}

var secretsPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the local secrets file to every host a service targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSecretsPush()
	},
}

func init() {
	secretsCmd.AddCommand(secretsPushCmd)
	rootCmd.AddCommand(secretsCmd)
}

func runSecretsPush() error {
	c := GetConfig()
	sshClient := newSSHClient(c)
	defer sshClient.Close()

	local := c.SecretsPath
	if local == "" {
		local = ".jiji/secrets"
	}
	if _, err := os.Stat(local); err != nil {
		return fmt.Errorf("local secrets file %s: %w", local, err)
	}

	names, err := orchestrator.MatchServices("", c.ResolvedServices())
	if err != nil {
		return err
	}

	servers := c.ResolvedServers()
	seen := make(map[string]bool)
	var hosts []string
	for _, name := range names {
		svc := c.ResolvedServices()[name]
		for _, h := range svc.Hosts {
			server, ok := servers[h.Name]
			if !ok || seen[server.Host] {
				continue
			}
			seen[server.Host] = true
			hosts = append(hosts, server.Host)
		}
	}

	remotePath := config.RemoteSecretsPath(c)
	remoteDir := parentDir(remotePath)
	mkdirCmd := fmt.Sprintf("mkdir -p %s && chmod 700 %s", shell.Quote(remoteDir), shell.Quote(remoteDir))
	for _, r := range sshClient.ExecuteParallel(hosts, mkdirCmd) {
		if !r.Success() {
			return fmt.Errorf("preparing secrets directory on %s: %s", r.Host, r.Stderr)
		}
	}

	for _, host := range hosts {
		if err := sshClient.Upload(host, local, remotePath); err != nil {
			return fmt.Errorf("uploading secrets to %s: %w", host, err)
		}
		chmodCmd := fmt.Sprintf("chmod 600 %s", shell.Quote(remotePath))
		if r, err := sshClient.Execute(host, chmodCmd); err != nil || !r.Success() {
			return fmt.Errorf("setting secrets file permissions on %s", host)
		}
	}

	fmt.Printf("Uploaded secrets to %d host(s)\n", len(hosts))
	return nil
}

func parentDir(path string) string {
	idx := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return "."
	}
	return path[:idx]
}
