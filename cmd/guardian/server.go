package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/guardianbot/guardian/protect/adminapi"
	"github.com/guardianbot/guardian/protect/cachestore"
	"github.com/guardianbot/guardian/protect/countstore"
	"github.com/guardianbot/guardian/protect/discord"
	"github.com/guardianbot/guardian/protect/engine"
	"github.com/guardianbot/guardian/protect/httpclient"
	"github.com/guardianbot/guardian/protect/scheduler"
	"github.com/guardianbot/guardian/protect/settings"
	"github.com/guardianbot/guardian/protect/warn"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Server struct {
	logger  *slog.Logger
	engine  *engine.Engine
	sweeper *warn.Sweeper
	session *discordgo.Session
	exec    *discord.Executor
	admin   *adminapi.Server

	janitorInterval time.Duration
	sweepInterval   time.Duration
	workers         int
	dispatchWorkers int
	maxQueue        int
}

type Config struct {
	DiscordToken       string
	RedisURL           string
	SlackWebhookURL    string
	Workers            int
	DispatchWorkers    int
	MaxQueue           int
	ActionTimeout      time.Duration
	MaxParallelActions int
	QuotaActionsDay    int
	SweepInterval      time.Duration
	JanitorInterval    time.Duration
	MuteRoleName       string
	ExecutorRateLimit  float64
	AdminBind          string
	AdminToken         string
	Logger             *slog.Logger
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := settings.NewGormStore(db)
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("migrating settings database: %w", err)
	}

	var counters countstore.CountStore
	var rules cachestore.CacheStore[[]warn.PunishRule]
	if config.RedisURL != "" {
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		// check redis connection
		if err := rdb.Ping(context.TODO()).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		counters = countstore.NewRedisCountStore(rdb)
		rules = cachestore.NewRedisCacheStore[[]warn.PunishRule](rdb, "guardian/punish-rules/", 30*time.Minute)
	} else {
		counters = countstore.NewMemCountStore()
		rules = cachestore.NewMemCacheStore[[]warn.PunishRule](5_000, 30*time.Minute)
	}

	session, err := discordgo.New("Bot " + config.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Client = httpclient.APIClient(logger)
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildMessages

	exec := discord.NewExecutor(session, config.ExecutorRateLimit, logger)
	if config.MuteRoleName != "" {
		exec.MuteRoleName = config.MuteRoleName
	}

	sweeper := warn.NewSweeper(store, logger)
	warns := warn.NewEscalator(store, rules, logger)
	warns.Sweeper = sweeper

	eng := engine.New(store, exec, warns, logger)
	eng.Counters = counters
	eng.ActionTimeout = config.ActionTimeout
	eng.MaxParallelActions = config.MaxParallelActions
	eng.QuotaActionsDay = config.QuotaActionsDay
	notifiers := engine.MultiNotifier{&engine.LogNotifier{Logger: logger}}
	if config.SlackWebhookURL != "" {
		notifiers = append(notifiers, &engine.SlackNotifier{
			SlackWebhookURL: config.SlackWebhookURL,
			HTTPClient:      httpclient.WebhookClient(logger),
		})
	}
	eng.Notifier = notifiers

	var admin *adminapi.Server
	if config.AdminBind != "" {
		admin = adminapi.NewServer(eng, adminapi.Config{
			Logger: logger,
			Bind:   config.AdminBind,
			Token:  config.AdminToken,
		})
	}

	return &Server{
		logger:          logger,
		engine:          eng,
		admin:           admin,
		sweeper:         sweeper,
		session:         session,
		exec:            exec,
		janitorInterval: config.JanitorInterval,
		sweepInterval:   config.SweepInterval,
		workers:         config.Workers,
		dispatchWorkers: config.DispatchWorkers,
		maxQueue:        config.MaxQueue,
	}, nil
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// Run restores persisted protections, connects to the gateway, and processes events until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if _, err := s.engine.Restore(ctx); err != nil {
		return err
	}

	// detection drains first so that its last violations still reach the dispatcher
	s.engine.Dispatcher = scheduler.NewScheduler(ctx, s.dispatchWorkers, s.maxQueue, "guardian-dispatch", s.logger)
	defer s.engine.Dispatcher.Shutdown()
	s.engine.Scheduler = scheduler.NewScheduler(ctx, s.workers, s.maxQueue, "guardian", s.logger)
	defer s.engine.Scheduler.Shutdown()
	defer s.exec.Close()

	go func() {
		if err := s.sweeper.Run(ctx, s.sweepInterval); err != nil {
			s.logger.Error("warning sweeper exited", "err", err)
		}
	}()
	go func() {
		if err := s.engine.RunJanitor(ctx, s.janitorInterval); err != nil {
			s.logger.Error("janitor exited", "err", err)
		}
	}()

	if s.admin != nil {
		go func() {
			if err := s.admin.RunAPI(); err != nil {
				s.logger.Error("admin API exited", "err", err)
			}
		}()
		defer func() {
			if err := s.admin.Shutdown(); err != nil {
				s.logger.Error("shutting down admin API", "err", err)
			}
		}()
	}

	unbind := discord.Bind(ctx, s.session, s.engine, s.logger)
	defer unbind()

	if err := s.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	defer s.session.Close()
	s.logger.Info("connected to discord gateway")

	<-ctx.Done()
	s.logger.Info("shutting down")
	return nil
}
