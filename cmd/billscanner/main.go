// Package main provides the billscanner binary entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"BillScanner/internal/app"
	"BillScanner/internal/config"
	"BillScanner/internal/logging"
	"BillScanner/internal/usecase"
)

const (
	Version = "0.1.0"
	appName = "billscanner"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	run        string
	dataRoot   string
	logLevel   string
	force      bool
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Scrape, convert and analyze legislative bills",
		Long: `billscanner collects the bills of one legislative session, converts
their documents to HTML that keeps insertions and deletions visible, asks a
language model for potential constitutional issues and merges everything into
one dataset per run.

Each stage can be run on its own; every stage skips work whose output already
exists unless --force is given.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	pf.StringVar(&flags.run, "run", "", "Run identifier; defaults to today as MM_DD_YYYY")
	pf.StringVar(&flags.dataRoot, "data-root", "", "Directory holding run artifacts")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolVar(&flags.force, "force", false, "Redo work whose output already exists")

	for _, s := range []struct{ name, short string }{
		{usecase.StageScrape, "Scrape the listing, resolve sponsors and download documents"},
		{usecase.StageConvert, "Convert downloaded PDFs to HTML"},
		{usecase.StageAnalyze, "Analyze converted bills for constitutional issues"},
		{usecase.StageReconcile, "Resubmit failed analyses with the reconcile model"},
		{usecase.StageMerge, "Join bills and analyses into the enriched dataset"},
		{usecase.StagePublish, "Publish the enriched dataset to the configured outputs"},
	} {
		cmd.AddCommand(stageCmd(&flags, s.name, s.short))
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run every stage in order",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), &flags, func(ctx context.Context, a *app.Application) error {
					reports, err := a.RunAll(ctx)
					for _, rep := range reports {
						printReport(cmd, rep)
					}
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Repeat the whole pipeline on the configured interval",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), &flags, func(ctx context.Context, a *app.Application) error {
					return a.Watch(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "report",
			Short: "Print the enriched dataset of a run",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), &flags, func(ctx context.Context, a *app.Application) error {
					return a.Report(cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the enriched dataset of a run over HTTP",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), &flags, func(ctx context.Context, a *app.Application) error {
					return a.Serve(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s\n", appName, Version)
			},
		},
	)

	return cmd
}

func stageCmd(flags *globalFlags, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app.Application) error {
				rep, err := a.Stage(ctx, name)
				printReport(cmd, rep)
				return err
			})
		},
	}
}

// withApp loads configuration, applies flag overrides and runs fn until
// SIGINT or SIGTERM.
func withApp(parent context.Context, flags *globalFlags, fn func(context.Context, *app.Application) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.run != "" {
		cfg.Data.Run = flags.run
	}
	if flags.dataRoot != "" {
		cfg.Data.Root = flags.dataRoot
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.force {
		cfg.Data.Force = true
	}

	application, err := app.New(ctx, cfg, logging.New(cfg.Logging.Level))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			application.Logger().Warn("close failed", "error", cerr)
		}
	}()

	return fn(ctx, application)
}

func printReport(cmd *cobra.Command, rep usecase.StageReport) {
	if rep.Stage == "" {
		return
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-10s total=%d processed=%d skipped=%d failed=%d\n",
		rep.Stage, rep.Total, rep.Processed, rep.Skipped, rep.Failed)
}
