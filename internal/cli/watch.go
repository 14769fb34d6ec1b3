package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/iambrandonn/bmoffice/internal/config"
	"github.com/iambrandonn/bmoffice/internal/engine"
	"github.com/iambrandonn/bmoffice/internal/eventlog"
	"github.com/iambrandonn/bmoffice/internal/feed"
	"github.com/iambrandonn/bmoffice/internal/motion"
	"github.com/iambrandonn/bmoffice/internal/remote"
	"github.com/iambrandonn/bmoffice/internal/runstate"
	"github.com/iambrandonn/bmoffice/internal/transcript"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconcile with the backend and print what happens in the office",
	Long: `Poll the backend for one company, keep the local actors in sync, and walk
them through handoffs and returns. Every change is printed as a transcript
line; --record also writes the events to an NDJSON file (zstd-compressed
for a .zst suffix) and --feed serves them to websocket clients.`,
	RunE: runWatch,
}

func init() {
	addWatchFlags(watchCmd)
}

func addWatchFlags(cmd *cobra.Command) {
	addConnectionFlags(cmd)
	cmd.Flags().Duration("interval", 0, "Poll interval (overrides poll.interval_ms)")
	cmd.Flags().String("feed", "", "Serve the websocket feed on this address (enables feed)")
	cmd.Flags().String("record", "", "Record session events to this file (.ndjson or .ndjson.zst)")
	cmd.Flags().BoolP("verbose", "v", false, "Print movement progress milestones")
	cmd.Flags().String("state", runstate.DefaultPath("."), "Where to keep the watch state (empty disables)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}
	statePath, err := cmd.Flags().GetString("state")
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := remote.New(cfg.API.BaseURL, cfg.Timeout(), remote.WithLogger(logger))
	if err != nil {
		return err
	}

	companyID, err := resolveCompany(ctx, cfg, client, statePath, logger)
	if err != nil {
		return err
	}

	printer := transcript.NewPrinter(cmd.OutOrStdout())
	printer.Verbose = verbose
	sinks := engine.MultiSink{printer}

	if cfg.Record.Path != "" {
		recorder, err := eventlog.NewEventLog(cfg.Record.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open recording: %w", err)
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Warn("failed to close recording", "path", cfg.Record.Path, "error", err)
			}
			logger.Info("recording saved", "path", cfg.Record.Path, "events", recorder.Count())
		}()
		sinks = append(sinks, recorder)
	}

	var tracker *runstate.Tracker
	if statePath != "" {
		tracker = runstate.NewTracker(statePath, logger)
		sinks = append(sinks, tracker)
	}

	var hub *feed.Hub
	if cfg.Feed.Enabled {
		hub = feed.NewHub(logger, 0)
		sinks = append(sinks, hub)
	}

	session, err := newSession(cfg, client, sinks, logger)
	if err != nil {
		return err
	}
	defer session.Dispose()
	if tracker != nil {
		tracker.Begin(session.ID())
	}

	feedErr := make(chan error, 1)
	if hub != nil {
		go func() { feedErr <- hub.Serve(ctx, cfg.Feed.Addr, session, nil) }()
	}

	if err := session.SwitchCompany(ctx, companyID); err != nil {
		return fmt.Errorf("failed to switch to company %s: %w", companyID, err)
	}
	if tracker != nil {
		if err := tracker.Save(); err != nil {
			logger.Warn("failed to save watch state", "path", statePath, "error", err)
		}
	}

	err = engine.NewPollLoop(session, cfg.PollInterval()).Run(ctx)
	if hub != nil {
		if ferr := <-feedErr; ferr != nil {
			logger.Warn("feed stopped with error", "error", ferr)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if tracker != nil {
		if serr := tracker.Finish(err); serr != nil {
			logger.Warn("failed to save watch state", "path", statePath, "error", serr)
		}
	}
	return err
}

func newSession(cfg *config.Config, source engine.RemoteStateSource, sink engine.EventSink, logger *slog.Logger) (*engine.Session, error) {
	dwell := cfg.HandoffDwell()
	if dwell == 0 {
		// the session reads zero as "use the default"
		dwell = -1
	}
	return engine.NewSession(engine.Options{
		Source:         source,
		Animator:       motion.NewAnimator(cfg.Movement.SpeedUnitsPerS, cfg.Tick(), logger),
		Sink:           sink,
		Logger:         logger,
		RequestTimeout: cfg.Timeout(),
		HandoffDwell:   dwell,
		CleanupEvery:   cfg.Poll.CleanupEvery,
		LogLimit:       cfg.Poll.LogLimit,
	})
}

// resolveCompany returns the configured company, else the one the previous
// watch ended on, else the backend's first one
func resolveCompany(ctx context.Context, cfg *config.Config, client *remote.Client, statePath string, logger *slog.Logger) (string, error) {
	if cfg.API.CompanyID != "" {
		return cfg.API.CompanyID, nil
	}
	if statePath != "" {
		if last := runstate.LastCompany(statePath); last != "" {
			logger.Info("resuming last watched company", "company", last, "state", statePath)
			return last, nil
		}
	}

	lctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()
	companies, err := client.ListCompanies(lctx)
	if err != nil {
		return "", fmt.Errorf("no company configured and listing failed: %w", err)
	}
	if len(companies) == 0 {
		return "", fmt.Errorf("no company configured and the backend has none\n\nHint: pass --company or set api.company_id")
	}
	logger.Info("no company configured, watching the first one", "company", companies[0].ID, "available", len(companies))
	return companies[0].ID, nil
}
