package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acidtib/jiji/internal/history"
	"github.com/acidtib/jiji/internal/output"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <service>",
	Short: "List past deployments of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := history.NewStore(deployHistoryPath, deployRetain, output.DefaultLogger)
		records, err := store.List(args[0], historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Printf("no deployment history for %s\n", args[0])
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  %-10s  %-20s  %s  %s\n", r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, r.Version, r.ID, r.Destination)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "maximum number of records to show")
	historyCmd.Flags().StringVar(&deployHistoryPath, "history-path", ".", "directory under which .jiji/history is stored")
	rootCmd.AddCommand(historyCmd)
}
