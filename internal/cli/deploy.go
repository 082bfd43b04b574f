package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acidtib/jiji/internal/config"
	"github.com/acidtib/jiji/internal/engine"
	"github.com/acidtib/jiji/internal/orchestrator"
	"github.com/acidtib/jiji/internal/output"
	"github.com/acidtib/jiji/internal/proxyctl"
)

var (
	deployVersion     string
	deploySkipPull    bool
	deployEngine      string
	deployProxyImage  string
	deployHistoryPath string
	deployRetain      int
)

var deployCmd = &cobra.Command{
	Use:   "deploy [service-pattern]",
	Short: "Deploy one or more services",
	Long: `Deploy runs the deployment state machine against every host of every
service matching the given pattern (an exact name, a '*'/'?' glob, or, if
omitted, every configured service).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}
		return runDeploy(pattern)
	},
}

func init() {
	deployCmd.Flags().StringVar(&deployVersion, "version", "", "image tag to deploy (default: image tag from config)")
	deployCmd.Flags().BoolVar(&deploySkipPull, "skip-pull", false, "assume the image is already present on every host")
	deployCmd.Flags().StringVar(&deployEngine, "engine", "podman", "container engine to drive (docker|podman)")
	deployCmd.Flags().StringVar(&deployProxyImage, "proxy-image", proxyctl.DefaultImage, "EdgeProxy image to install on hosts that need it")
	deployCmd.Flags().StringVar(&deployHistoryPath, "history-path", ".", "directory under which .jiji/history is stored")
	deployCmd.Flags().IntVar(&deployRetain, "retain", 5, "number of past deployment records to retain per service")
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(pattern string) error {
	c := GetConfig()
	log := output.NewLogger(os.Stdout, os.Stderr, IsVerbose())

	sshClient := newSSHClient(c)
	defer sshClient.Close()

	store, err := config.LoadFileEnvStore(c.SecretsPath, config.OSEnv{})
	if err != nil {
		return err
	}

	orch := orchestrator.New(c, sshClient, engine.Engine(deployEngine), deployProxyImage, deployHistoryPath, deployRetain, log)

	result, err := orch.Deploy(context.Background(), orchestrator.DeployOptions{
		ServicePattern: pattern,
		Version:        deployVersion,
		SkipPull:       deploySkipPull,
		Destination:    GetDestination(),
	}, resolveServiceEnv(c, store))
	if err != nil {
		return err
	}

	fmt.Print(orchestrator.Report(result))
	if result.Failed() {
		return fmt.Errorf("one or more services failed to deploy")
	}
	return nil
}
