package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/guardianbot/guardian/protect/settings"
	"github.com/guardianbot/guardian/protect/warn"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "guardian",
		Usage:   "community abuse protection daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "settings database (sqlite:// or postgres://)",
			Value:   "sqlite://data/guardian/guardian.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.BoolFlag{
			Name:    "dbtracing",
			Usage:   "enable OpenTelemetry tracing of database queries",
			EnvVars: []string{"GUARDIAN_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"GUARDIAN_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format: json or text",
			Value:   "json",
			EnvVars: []string{"GUARDIAN_LOG_FORMAT"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		sweepCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cctx.String("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cctx.String("log-format")) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cctx.String("log-format"))
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func configDatabase(cctx *cli.Context, logger *slog.Logger) (*gorm.DB, error) {
	db, err := settings.OpenDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"), logger)
	if err != nil {
		return nil, err
	}
	if cctx.Bool("dbtracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	return db, nil
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "discord-token",
			Usage:    "bot token for the Discord gateway and REST API",
			Required: true,
			EnvVars:  []string{"GUARDIAN_DISCORD_TOKEN", "DISCORD_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for counters and caches; in-process stores if empty",
			EnvVars: []string{"GUARDIAN_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook for violation notifications",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3989",
			EnvVars: []string{"GUARDIAN_METRICS_LISTEN"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "number of event processing workers",
			Value:   16,
			EnvVars: []string{"GUARDIAN_WORKERS"},
		},
		&cli.IntFlag{
			Name:    "dispatch-workers",
			Usage:   "number of workers executing punishments, separate from event processing",
			Value:   8,
			EnvVars: []string{"GUARDIAN_DISPATCH_WORKERS"},
		},
		&cli.IntFlag{
			Name:    "max-queue",
			Usage:   "events queued per detector and community before dropping; 0 for unbounded",
			Value:   1000,
			EnvVars: []string{"GUARDIAN_MAX_QUEUE"},
		},
		&cli.DurationFlag{
			Name:    "action-timeout",
			Usage:   "time limit for each individual moderation call",
			Value:   10 * time.Second,
			EnvVars: []string{"GUARDIAN_ACTION_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "max-parallel-actions",
			Usage:   "concurrent moderation calls for a single violation",
			Value:   8,
			EnvVars: []string{"GUARDIAN_MAX_PARALLEL_ACTIONS"},
		},
		&cli.IntFlag{
			Name:    "quota-actions-day",
			Usage:   "automatic punishments per community per day (circuit breaker); 0 disables",
			Value:   500,
			EnvVars: []string{"GUARDIAN_QUOTA_ACTIONS_DAY"},
		},
		&cli.DurationFlag{
			Name:    "warn-sweep-interval",
			Usage:   "how often expired warnings are swept",
			Value:   warn.DefaultSweepInterval,
			EnvVars: []string{"GUARDIAN_WARN_SWEEP_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "janitor-interval",
			Usage:   "how often expired detector state is compacted",
			Value:   time.Minute,
			EnvVars: []string{"GUARDIAN_JANITOR_INTERVAL"},
		},
		&cli.StringFlag{
			Name:    "mute-role-name",
			Usage:   "name of the role applied by chat mutes",
			Value:   "Muted",
			EnvVars: []string{"GUARDIAN_MUTE_ROLE_NAME"},
		},
		&cli.Float64Flag{
			Name:    "executor-rate-limit",
			Usage:   "max moderation API requests per second",
			Value:   20,
			EnvVars: []string{"GUARDIAN_EXECUTOR_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "admin-bind",
			Usage:   "IP or address, and port, for the admin HTTP API; disabled if empty",
			Value:   "127.0.0.1:3990",
			EnvVars: []string{"GUARDIAN_ADMIN_BIND"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token required by the admin HTTP API",
			EnvVars: []string{"GUARDIAN_ADMIN_TOKEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}

		shutdownOTEL, err := configOTEL(logger, "guardian")
		if err != nil {
			return err
		}
		defer shutdownOTEL()

		db, err := configDatabase(cctx, logger)
		if err != nil {
			return err
		}

		srv, err := NewServer(db, Config{
			DiscordToken:       cctx.String("discord-token"),
			RedisURL:           cctx.String("redis-url"),
			SlackWebhookURL:    cctx.String("slack-webhook-url"),
			Workers:            cctx.Int("workers"),
			DispatchWorkers:    cctx.Int("dispatch-workers"),
			MaxQueue:           cctx.Int("max-queue"),
			ActionTimeout:      cctx.Duration("action-timeout"),
			MaxParallelActions: cctx.Int("max-parallel-actions"),
			QuotaActionsDay:    cctx.Int("quota-actions-day"),
			SweepInterval:      cctx.Duration("warn-sweep-interval"),
			JanitorInterval:    cctx.Duration("janitor-interval"),
			MuteRoleName:       cctx.String("mute-role-name"),
			ExecutorRateLimit:  cctx.Float64("executor-rate-limit"),
			AdminBind:          cctx.String("admin-bind"),
			AdminToken:         cctx.String("admin-token"),
			Logger:             logger,
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run guardian service: %w", err)
		}
		return nil
	},
}

var sweepCmd = &cli.Command{
	Name:  "sweep-warnings",
	Usage: "apply warning expiry policies once, then exit",
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		db, err := configDatabase(cctx, logger)
		if err != nil {
			return err
		}
		store := settings.NewGormStore(db)
		if err := store.Migrate(); err != nil {
			return err
		}
		n, err := warn.NewSweeper(store, logger).Sweep(cctx.Context)
		if err != nil {
			return err
		}
		fmt.Printf("expired %d warnings\n", n)
		return nil
	},
}
