package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/iambrandonn/bmoffice/internal/remote"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print a company's event log, newest first",
	RunE:  runLogs,
}

func init() {
	addConnectionFlags(logsCmd)
	logsCmd.Flags().IntP("limit", "n", 20, "Number of entries to fetch")
	logsCmd.Flags().Int("offset", 0, "Entries to skip")
	logsCmd.Flags().String("agent", "", "Only entries for this agent")
	logsCmd.Flags().String("type", "", "Only entries of this event type")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if cfg.API.CompanyID == "" {
		return fmt.Errorf("no company given\n\nHint: pass --company or set api.company_id")
	}

	var q protocol.LogQuery
	if q.Limit, err = cmd.Flags().GetInt("limit"); err != nil {
		return err
	}
	if q.Offset, err = cmd.Flags().GetInt("offset"); err != nil {
		return err
	}
	if q.AgentID, err = cmd.Flags().GetString("agent"); err != nil {
		return err
	}
	if q.EventType, err = cmd.Flags().GetString("type"); err != nil {
		return err
	}

	client, err := remote.New(cfg.API.BaseURL, cfg.Timeout(), remote.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	page, err := client.FetchLogs(ctx, cfg.API.CompanyID, q)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, entry := range page.Logs {
		agent := entry.AgentID
		if agent == "" {
			agent = "-"
		}
		fmt.Fprintf(out, "%s  %-12s %-20s %s\n", entry.Timestamp.UTC().Format(time.DateTime), agent, entry.EventType, entry.Message)
	}
	fmt.Fprintf(out, "Showing %d of %d entries\n", len(page.Logs), page.Total)
	return nil
}
