package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/iambrandonn/bmoffice/internal/officesim"
	"github.com/spf13/cobra"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the simulated office backend",
	Long: `Serve the office backend API from an in-process simulator. Companies come
from --scenario when it defines any, otherwise from the built-in seeds. The
scenario's steps are played back while the server runs.`,
	RunE: runSim,
}

func init() {
	simCmd.Flags().String("addr", "127.0.0.1:3000", "Listen address")
	simCmd.Flags().String("db", "", "SQLite file for the event log (default: in memory)")
	simCmd.Flags().String("scenario", "", "YAML scenario to play back")
}

func runSim(cmd *cobra.Command, args []string) error {
	_, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	addr, _ := flags.GetString("addr")
	db, _ := flags.GetString("db")
	scenario, _ := flags.GetString("scenario")

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return officesim.Run(ctx, officesim.RunOptions{
		Addr:     addr,
		DBPath:   db,
		Scenario: scenario,
		Logger:   logger,
	})
}
