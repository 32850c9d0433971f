package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/internal/app"
	"github.com/fastygo/iamcleaner/internal/config"
	"github.com/fastygo/iamcleaner/internal/services/lifecycle"
	"github.com/fastygo/iamcleaner/pkg/logger"
	"github.com/fastygo/iamcleaner/usecase/orchestrate"
)

// Exit codes.
const (
	exitCompleted  = 0
	exitWithErrors = 1
	exitRejected   = 2
)

type options struct {
	mode     string
	accounts []string
	dryRun   bool
	state    string
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) (int, error) {
	code := exitCompleted
	opts := &options{}

	root := &cobra.Command{
		Use:           "cleaner",
		Short:         "Reconcile IAM principal lifecycles across accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one sync, deactivate or delete pass and print the run summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, stderr, opts, func(ctx context.Context, a *app.App) error {
				summary := a.Orchestrator.Run(ctx, orchestrate.Request{Mode: opts.mode, Accounts: opts.accounts})
				code = exitCode(summary.Status)
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	runCmd.Flags().StringVar(&opts.mode, "mode", "", "pipeline to run: sync, deactivate or delete")
	runCmd.Flags().StringSliceVar(&opts.accounts, "accounts", nil, "account IDs (defaults to ACCOUNTS)")
	runCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "report flagged principals without mutating anything")
	_ = runCmd.MarkFlagRequired("mode")

	ledgerCmd := &cobra.Command{
		Use:   "ledger <account>",
		Short: "List ledger rows of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, stderr, opts, func(ctx context.Context, a *app.App) error {
				var (
					rows []domain.LedgerRecord
					err  error
				)
				switch state := strings.ToLower(opts.state); state {
				case "pending_delete":
					rows, err = a.Reconciler.Candidates(ctx, args[0])
				case "", "all":
					rows, err = a.Reconciler.List(ctx, args[0], "")
				case string(domain.StateActive), string(domain.StateInactive), string(domain.StateDeleted):
					rows, err = a.Reconciler.List(ctx, args[0], domain.LifecycleState(state))
				default:
					return fmt.Errorf("unsupported state %q", opts.state)
				}
				if err != nil {
					return err
				}
				if rows == nil {
					rows = []domain.LedgerRecord{}
				}
				return printJSON(cmd.OutOrStdout(), rows)
			})
		},
	}
	ledgerCmd.Flags().StringVar(&opts.state, "state", "", "active, inactive, deleted or pending_delete")

	root.AddCommand(runCmd, ledgerCmd)

	if err := root.Execute(); err != nil {
		if code == exitCompleted {
			code = exitRejected
		}
		return code, err
	}
	return code, nil
}

// withApp loads configuration, builds the components and releases them afterwards.
func withApp(cmd *cobra.Command, stderr io.Writer, opts *options, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.LoadOneShot()
	if err != nil {
		return err
	}
	if opts.dryRun {
		cfg.Lifecycle.DryRun = true
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
		Output:   zapcore.Lock(zapcore.AddSync(stderr)),
	})
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)
	defer func() {
		if err := manager.Shutdown(context.Background()); err != nil {
			zapLogger.Error("shutdown error", zap.Error(err))
		}
	}()

	started := time.Now()
	a, err := app.Build(ctx, cfg, zapLogger, manager)
	if err != nil {
		return err
	}
	defer func() {
		zapLogger.Debug("command finished", zap.String("command", cmd.Name()), zap.Duration("took", time.Since(started)))
	}()
	return fn(ctx, a)
}

func exitCode(status domain.RunStatus) int {
	switch status {
	case domain.RunCompleted:
		return exitCompleted
	case domain.RunRejected:
		return exitRejected
	default:
		return exitWithErrors
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
