package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acidtib/jiji/internal/engine"
	"github.com/acidtib/jiji/internal/hostdriver"
	"github.com/acidtib/jiji/internal/orchestrator"
)

var statusEngine string

var statusCmd = &cobra.Command{
	Use:   "status [service-pattern]",
	Short: "Show the running containers for each host of a service",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}
		return runStatus(pattern)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusEngine, "engine", "podman", "container engine to query (docker|podman)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(pattern string) error {
	c := GetConfig()
	sshClient := newSSHClient(c)
	defer sshClient.Close()

	client := engine.NewClient(sshClient, engine.Engine(statusEngine))
	containers := engine.NewContainerManager(client)

	names, err := orchestrator.MatchServices(pattern, c.ResolvedServices())
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no services matched pattern %q", pattern)
	}

	servers := c.ResolvedServers()
	for _, name := range names {
		svc := c.ResolvedServices()[name]
		canonical := hostdriver.CanonicalName(svc.Project, svc.Name)
		for _, h := range svc.Hosts {
			server, ok := servers[h.Name]
			if !ok {
				continue
			}
			list, err := containers.List(server.Host, true, map[string]string{"name": canonical})
			if err != nil {
				fmt.Printf("%s@%s: error: %v\n", svc.Name, server.Host, err)
				continue
			}
			if len(list) == 0 {
				fmt.Printf("%s@%s: not running\n", svc.Name, server.Host)
				continue
			}
			for _, ctr := range list {
				fmt.Printf("%s@%s: %s (%s)\n", svc.Name, server.Host, ctr.Status, ctr.Image)
			}
		}
	}
	return nil
}
