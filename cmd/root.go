// Package cmd defines the scraper command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/buildingbit-scraper/internal/app"
	"github.com/JakeFAU/buildingbit-scraper/internal/config"
	"github.com/JakeFAU/buildingbit-scraper/internal/logging"
	"github.com/JakeFAU/buildingbit-scraper/internal/metrics"
	"github.com/JakeFAU/buildingbit-scraper/internal/report"
	"github.com/JakeFAU/buildingbit-scraper/internal/state"
)

// Modes is the run-mode surface of the orchestrator.
type Modes interface {
	RunAll(ctx context.Context) error
	Resume(ctx context.Context) error
	RunSingle(ctx context.Context, name string, force bool) error
	Report() state.Report
	Reset() error
}

// session is one initialized scraper.
type session struct {
	modes Modes
	now   func() time.Time
	close func()
}

// newSession builds the services. It is a variable so tests can inject fakes.
var newSession = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*session, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &session{modes: a.Orchestrator(), now: a.Clock().Now, close: a.Close}, nil
}

type options struct {
	cfgFile string
	all     bool
	phase   string
	resume  bool
	report  bool
	reset   bool
	force   bool
}

// mode names the single selected action.
func (o options) mode() (string, error) {
	var selected []string
	if o.all {
		selected = append(selected, "all")
	}
	if o.phase != "" {
		selected = append(selected, "phase")
	}
	if o.resume {
		selected = append(selected, "resume")
	}
	if o.report {
		selected = append(selected, "report")
	}
	if o.reset {
		selected = append(selected, "reset")
	}
	switch len(selected) {
	case 0:
		return "", nil
	case 1:
		if o.force && selected[0] != "phase" {
			return "", errors.New("--force only applies to --phase")
		}
		return selected[0], nil
	default:
		return "", fmt.Errorf("choose one of --all, --phase, --resume, --report, --reset (got %v)", selected)
	}
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "buildingbit-scraper",
		Short: "Scrapes Building:bit tutorial content into the gallery data files.",
		Long: `buildingbit-scraper walks a static catalog of remote lesson identifiers,
resolves each to its embedded lesson page, extracts structured content and
downloads images. Progress is checkpointed after every item so an
interrupted run can resume where it stopped.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := opts.mode()
			if err != nil {
				return err
			}
			if mode == "" {
				return cmd.Help()
			}
			return run(cmd, opts, mode)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (defaults and SCRAPER_* env vars apply)")
	flags.BoolVar(&opts.all, "all", false, "run every phase in order")
	flags.StringVar(&opts.phase, "phase", "", "run a single phase: discover, makecode, python, sensors, wiring, images, integrate")
	flags.BoolVar(&opts.resume, "resume", false, "resume from the last recorded phase")
	flags.BoolVar(&opts.report, "report", false, "print and save the progress report")
	flags.BoolVar(&opts.reset, "reset", false, "discard all checkpointed progress")
	flags.BoolVar(&opts.force, "force", false, "with --phase, run even if dependencies have not completed")
	return cmd
}

func run(cmd *cobra.Command, opts options, mode string) error {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.Build(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	sess, err := newSession(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize scraper: %w", err)
	}
	defer sess.close()

	switch mode {
	case "report":
		return writeReport(cmd, cfg, sess)
	case "reset":
		return sess.modes.Reset()
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	if cfg.Metrics.Addr != "" {
		server := metrics.NewServer(cfg.Metrics.Addr, logger.Named("metrics"))
		g.Go(func() error { return server.Run(runCtx) })
	}
	g.Go(func() error {
		defer cancel()
		switch mode {
		case "all":
			return sess.modes.RunAll(runCtx)
		case "resume":
			return sess.modes.Resume(runCtx)
		default:
			return sess.modes.RunSingle(runCtx, opts.phase, opts.force)
		}
	})
	runErr := g.Wait()
	cancel()

	if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
		logger.Warn("Interrupted; progress is checkpointed, rerun with --resume")
	}
	if err := writeReport(cmd, cfg, sess); err != nil {
		logger.Warn("Failed to write report", zap.Error(err))
	}
	return runErr
}

func writeReport(cmd *cobra.Command, cfg config.Config, sess *session) error {
	r := sess.modes.Report()
	report.Render(cmd.OutOrStdout(), r, sess.now())
	if err := report.Write(cfg.Paths.Report, r); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Report saved to %s\n", cfg.Paths.Report)
	return nil
}

// Execute is the main entry point. Any fatal error exits with status 1.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "buildingbit-scraper: %v\n", err)
		os.Exit(1)
	}
}
