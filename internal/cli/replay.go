package cli

import (
	"github.com/iambrandonn/bmoffice/internal/engine"
	"github.com/iambrandonn/bmoffice/internal/eventlog"
	"github.com/iambrandonn/bmoffice/internal/transcript"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <recording>",
	Short: "Print the transcript of a recorded session",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().BoolP("verbose", "v", false, "Include movement progress milestones")
}

func runReplay(cmd *cobra.Command, args []string) error {
	_, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}

	printer := transcript.NewPrinter(cmd.OutOrStdout())
	printer.Verbose = verbose
	return eventlog.Read(args[0], logger, func(evt engine.Event) error {
		printer.Emit(evt)
		return nil
	})
}
