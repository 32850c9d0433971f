// Package app assembles the ledger, identity backend, run store and use cases
// from configuration. Both the daemon and the one-shot command build on it.
package app

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/internal/config"
	awsInfra "github.com/fastygo/iamcleaner/internal/infrastructure/aws"
	"github.com/fastygo/iamcleaner/internal/infrastructure/memory"
	"github.com/fastygo/iamcleaner/internal/infrastructure/monitor"
	pgInfra "github.com/fastygo/iamcleaner/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/iamcleaner/internal/infrastructure/redis"
	"github.com/fastygo/iamcleaner/internal/resilience"
	"github.com/fastygo/iamcleaner/internal/retry"
	"github.com/fastygo/iamcleaner/internal/services/lifecycle"
	"github.com/fastygo/iamcleaner/repository"
	boltRepo "github.com/fastygo/iamcleaner/repository/boltdb"
	dynamoRepo "github.com/fastygo/iamcleaner/repository/dynamodb"
	pgRepo "github.com/fastygo/iamcleaner/repository/postgres"
	redisRepo "github.com/fastygo/iamcleaner/repository/redis"
	"github.com/fastygo/iamcleaner/usecase"
	"github.com/fastygo/iamcleaner/usecase/activity"
	"github.com/fastygo/iamcleaner/usecase/classify"
	"github.com/fastygo/iamcleaner/usecase/deactivate"
	"github.com/fastygo/iamcleaner/usecase/deletion"
	"github.com/fastygo/iamcleaner/usecase/orchestrate"
	"github.com/fastygo/iamcleaner/usecase/reconcile"
)

// App holds the wired components.
type App struct {
	Ledger       repository.LedgerRepository
	Runs         repository.RunRepository
	Sessions     usecase.SessionProvider
	Reconciler   *reconcile.UseCase
	Orchestrator *orchestrate.UseCase
	// Probes feed the health monitor.
	Probes []monitor.Probe
}

// Build connects every store the configuration names and registers their
// shutdown on manager. The ledger table is created when missing.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, manager *lifecycle.Manager) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{}

	var awsCfg *awssdk.Config
	loadAWS := func() (awssdk.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		loaded, err := awsInfra.LoadConfig(ctx, cfg.AWS)
		if err != nil {
			return awssdk.Config{}, err
		}
		awsCfg = &loaded
		return loaded, nil
	}

	if err := a.buildLedger(ctx, cfg, logger, manager, loadAWS); err != nil {
		return nil, err
	}
	if err := a.Ledger.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger table: %w", err)
	}

	accounts := cfg.Lifecycle.Accounts
	switch cfg.Backend.Driver {
	case config.BackendMemory:
		dir := memory.NewDirectory()
		if cfg.Backend.SeedPath != "" {
			loaded, err := memory.LoadFile(cfg.Backend.SeedPath)
			if err != nil {
				return nil, fmt.Errorf("load directory seed: %w", err)
			}
			dir = loaded
		}
		if len(accounts) == 0 {
			accounts = dir.Accounts()
		}
		a.Sessions = dir
	default:
		base, err := loadAWS()
		if err != nil {
			return nil, err
		}
		a.Sessions = awsInfra.NewSessionProvider(base, cfg.AWS, logger)
	}
	runner := retry.New(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		MinInterval: cfg.Retry.MinInterval,
		MaxInterval: cfg.Retry.MaxInterval,
		Jitter:      cfg.Retry.Jitter,
		CallTimeout: cfg.Retry.CallTimeout,
	}, logger)
	a.Sessions = resilience.NewProvider(a.Sessions, runner)

	if cfg.Redis.Enabled {
		client, err := redisInfra.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		manager.Register("redis", func(ctx context.Context) error {
			return client.Close()
		})
		a.Runs = redisRepo.NewRunRepository(client, cfg.Redis.RunRetention)
		a.Probes = append(a.Probes, monitor.Probe{Name: "redis", Check: redisInfra.Probe(client)})
	}

	clock := usecase.Clock(usecase.SystemClock)
	classifier := classify.New(cfg.Lifecycle.InactiveDays, cfg.Lifecycle.DeleteDays, clock)
	a.Reconciler = reconcile.New(a.Ledger, clock, logger).WithDeletePolicy(classifier)
	a.Orchestrator = orchestrate.New(orchestrate.Deps{
		Sessions:   a.Sessions,
		Ledger:     a.Ledger,
		Runs:       a.Runs,
		Activity:   activity.New(logger),
		Classifier: classifier,
		Reconciler: a.Reconciler,
		Deactivate: deactivate.New(a.Reconciler, logger),
		Deletion:   deletion.New(a.Reconciler, logger),
		Clock:      clock,
	}, orchestrate.Config{
		Accounts:          accounts,
		WorkersAccounts:   cfg.Workers.Accounts,
		WorkersPrincipals: cfg.Workers.Principals,
		DryRun:            cfg.Lifecycle.DryRun,
		LockTTL:           cfg.Redis.LockTTL,
	}, logger)

	logger.Info("components ready",
		zap.String("ledger", cfg.Ledger.Driver),
		zap.String("backend", cfg.Backend.Driver),
		zap.Bool("redis", a.Runs != nil),
		zap.Strings("accounts", accounts),
		zap.Bool("dry_run", cfg.Lifecycle.DryRun))
	return a, nil
}

func (a *App) buildLedger(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	manager *lifecycle.Manager,
	loadAWS func() (awssdk.Config, error),
) error {
	switch cfg.Ledger.Driver {
	case config.LedgerPostgres:
		pool, err := pgInfra.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("postgres connection failed: %w", err)
		}
		manager.Register("postgres", func(ctx context.Context) error {
			pgInfra.Close(pool, logger)
			return nil
		})
		a.Ledger = pgRepo.NewLedgerRepository(pool, pgInfra.Migrator(cfg, logger), cfg.Ledger.PageSize)
		a.Probes = append(a.Probes, monitor.Probe{Name: "ledger", Check: pool.Ping})
	case config.LedgerBolt:
		store, err := boltRepo.Open(cfg.Ledger.BoltPath, cfg.Ledger.Table)
		if err != nil {
			return fmt.Errorf("open bolt ledger: %w", err)
		}
		manager.Register("bolt", func(ctx context.Context) error {
			return store.Close()
		})
		a.Ledger = store
		a.Probes = append(a.Probes, monitor.PingProbe("ledger", store))
	case config.LedgerDynamoDB:
		base, err := loadAWS()
		if err != nil {
			return err
		}
		client := awsInfra.NewDynamoDBClient(base, cfg.AWS.DynamoDBEndpoint)
		a.Ledger = dynamoRepo.NewLedgerRepository(client, cfg.Ledger.Table, logger)
		if p, ok := a.Ledger.(monitor.Pinger); ok {
			a.Probes = append(a.Probes, monitor.PingProbe("ledger", p))
		}
	case config.LedgerMemory:
		a.Ledger = memory.NewLedger()
	default:
		return fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
	return nil
}
