package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/iambrandonn/bmoffice/internal/officesim"
	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/iambrandonn/bmoffice/internal/remote"
	"github.com/spf13/cobra"
)

var injectCmd = &cobra.Command{
	Use:   "inject <event-type> <agent-id>",
	Short: "Post an operator event to the backend",
	Long: `Post an operator event for one agent. Event types are status_changed,
task_assigned, handoff, break and error. The event is checked against the
injection schema before anything is sent.

Examples:
  bmoffice inject handoff dev-1 --to qa-1 --artifact story-1.1.md
  bmoffice inject status_changed pm-1 --status reviewing`,
	Args: cobra.ExactArgs(2),
	RunE: runInject,
}

func init() {
	addConnectionFlags(injectCmd)
	injectCmd.Flags().String("to", "", "Recipient agent (handoff)")
	injectCmd.Flags().String("status", "", "New raw status (status_changed)")
	injectCmd.Flags().String("task", "", "Task description (task_assigned, error)")
	injectCmd.Flags().String("artifact", "", "Artifact handed over (handoff)")
	injectCmd.Flags().String("topic", "", "Discussion topic (handoff)")
}

func runInject(cmd *cobra.Command, args []string) error {
	req := protocol.InjectRequest{
		EventType: strings.TrimSpace(args[0]),
		AgentID:   strings.TrimSpace(args[1]),
	}
	for name, dst := range map[string]*string{
		"to":       &req.ToAgentID,
		"status":   &req.Status,
		"task":     &req.Task,
		"artifact": &req.Artifact,
		"topic":    &req.Topic,
	} {
		v, err := cmd.Flags().GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	// pre-flight with the same schema the backend enforces
	if err := officesim.ValidateInject(req); err != nil {
		return err
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if cfg.API.CompanyID == "" {
		return fmt.Errorf("no company given\n\nHint: pass --company or set api.company_id")
	}

	client, err := remote.New(cfg.API.BaseURL, cfg.Timeout(), remote.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := client.InjectEvent(ctx, cfg.API.CompanyID, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Event logged: %s\n", resp.LogID)
	if resp.MovementID != "" {
		fmt.Fprintf(out, "Movement queued: %s\n", resp.MovementID)
	}
	return nil
}
