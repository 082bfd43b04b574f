package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acidtib/jiji/internal/config"
	"github.com/acidtib/jiji/internal/engine"
	"github.com/acidtib/jiji/internal/history"
	"github.com/acidtib/jiji/internal/orchestrator"
	"github.com/acidtib/jiji/internal/output"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <service>",
	Short: "Redeploy a service's last successful version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRollback(args[0])
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&deployEngine, "engine", "podman", "container engine to drive (docker|podman)")
	rollbackCmd.Flags().StringVar(&deployProxyImage, "proxy-image", "", "EdgeProxy image to install on hosts that need it")
	rollbackCmd.Flags().StringVar(&deployHistoryPath, "history-path", ".", "directory under which .jiji/history is stored")
	rollbackCmd.Flags().IntVar(&deployRetain, "retain", 5, "number of past deployment records to retain per service")
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(service string) error {
	c := GetConfig()
	log := output.NewLogger(os.Stdout, os.Stderr, IsVerbose())

	store := history.NewStore(deployHistoryPath, deployRetain, log)
	last, err := store.LastSuccessful(service)
	if err != nil {
		return err
	}

	sshClient := newSSHClient(c)
	defer sshClient.Close()

	secretStore, err := config.LoadFileEnvStore(c.SecretsPath, config.OSEnv{})
	if err != nil {
		return err
	}

	orch := orchestrator.New(c, sshClient, engine.Engine(deployEngine), deployProxyImage, deployHistoryPath, deployRetain, log)

	result, err := orch.Deploy(context.Background(), orchestrator.DeployOptions{
		ServicePattern: service,
		Version:        last.Version,
		Destination:    "rollback",
	}, resolveServiceEnv(c, secretStore))
	if err != nil {
		return err
	}

	fmt.Print(orchestrator.Report(result))
	if result.Failed() {
		return fmt.Errorf("rollback failed")
	}
	log.Success("Rolled back %s to %s", service, last.Version)
	return nil
}
