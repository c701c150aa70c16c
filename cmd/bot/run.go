package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/spf13/cobra"

	"github.com/edgard/marketbot/internal/admission"
	"github.com/edgard/marketbot/internal/bot"
	"github.com/edgard/marketbot/internal/bot/handlers"
	"github.com/edgard/marketbot/internal/bot/tasks"
	"github.com/edgard/marketbot/internal/cache/redis"
	"github.com/edgard/marketbot/internal/config"
	"github.com/edgard/marketbot/internal/conversation"
	"github.com/edgard/marketbot/internal/database"
	"github.com/edgard/marketbot/internal/gemini"
	"github.com/edgard/marketbot/internal/intent"
	"github.com/edgard/marketbot/internal/logger"
	"github.com/edgard/marketbot/internal/market"
	"github.com/edgard/marketbot/internal/media"
	"github.com/edgard/marketbot/internal/telegram"
	"github.com/edgard/marketbot/internal/twitter"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), configPath(cmd))
		},
	}
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		slog.Error("Failed to load configuration", "path", path, "error", err)
		return nil, nil, err
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)
	return cfg, log, nil
}

func openStore(cfg *config.Config, log *slog.Logger) (database.Store, error) {
	store, err := database.Open(cfg.Database.Driver, cfg.Database.Path, cfg.Database.ProcessedCapacity, log)
	if err != nil {
		log.Error("Failed to open store", "driver", cfg.Database.Driver, "path", cfg.Database.Path, "error", err)
		return nil, err
	}
	return store, nil
}

func newUploader(ctx context.Context, cfg config.ImagesConfig, log *slog.Logger) (conversation.ImageUploader, error) {
	if cfg.Backend != "s3" {
		return media.NewIPFSUploader(cfg.UploadURL, cfg.Timeout, log), nil
	}
	return media.NewS3Uploader(ctx, media.S3Config{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		ForcePathStyle: cfg.S3.ForcePathStyle,
		PublicBaseURL:  cfg.S3.PublicBaseURL,
	}, log)
}

func newDetector(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (intent.Detector, error) {
	if !cfg.Enabled {
		return intent.RegexDetector{}, nil
	}
	gem, err := gemini.NewClient(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}
	return intent.NewFallbackDetector(gem, log), nil
}

func runBot(ctx context.Context, path string) error {
	cfg, log, err := loadConfig(path)
	if err != nil {
		return err
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	closers := []func() error{store.Close}
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	tw := twitter.NewClient(twitter.Credentials{
		ConsumerKey:    cfg.Twitter.ConsumerKey,
		ConsumerSecret: cfg.Twitter.ConsumerSecret,
		AccessToken:    cfg.Twitter.AccessToken,
		AccessSecret:   cfg.Twitter.AccessSecret,
	}, cfg.Twitter.BotUserID, cfg.Twitter.BaseURL, cfg.Twitter.Timeout, log)

	var (
		locker  tasks.Locker
		pruner  tasks.Pruner
		limiter admission.Limiter
	)
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLS,
		})
		if err != nil {
			log.Error("Failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			closeAll()
			return err
		}
		closers = append(closers, rc.Close)
		locker = redis.NewLocker(rc)
		limiter = redis.NewRateLimiter(rc, cfg.Admission.MaxRequestsPerHour, time.Hour)
	} else {
		local := admission.NewRateLimiter(cfg.Admission.MaxRequestsPerHour, time.Hour, time.Now)
		limiter, pruner = local, local
	}

	filter := admission.NewFilter(limiter, tw, admission.Policy{
		MinFollowers:    cfg.Admission.MinFollowers,
		MinTweets:       cfg.Admission.MinTweets,
		RequireVerified: cfg.Admission.RequireVerified,
	}, log)

	uploader, err := newUploader(ctx, cfg.Images, log)
	if err != nil {
		log.Error("Failed to initialize image uploader", "backend", cfg.Images.Backend, "error", err)
		closeAll()
		return err
	}

	detector, err := newDetector(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize intent detector", "error", err)
		closeAll()
		return err
	}

	var (
		tg       *tgbot.Bot
		notifier conversation.Notifier
	)
	if cfg.Telegram.Enabled() {
		tg, err = telegram.NewTelegramBot(cfg.Telegram.Token, log, tgbot.WithMiddlewares(logger.Middleware(log)))
		if err != nil {
			closeAll()
			return err
		}
		notifier = handlers.NewNotifier(tg, cfg.Telegram.NotifyChatID, log)
	} else {
		log.Info("Telegram console disabled")
	}

	manager := conversation.NewManager(conversation.ManagerDeps{
		Logger:        log,
		Store:         store,
		Replier:       twitter.NewReplier(tw, log),
		Admission:     filter,
		Images:        media.NewDownloader(cfg.Images.AllowedPrefixes, cfg.Images.MaxBytes, cfg.Images.Timeout, log),
		Uploader:      uploader,
		Markets:       market.NewHTTPClient(cfg.Market.APIURL, cfg.Market.APIKey, cfg.Market.Timeout, log),
		Intent:        detector,
		Notifier:      notifier,
		MarketBaseURL: cfg.Market.BaseURL,
		TTL:           cfg.Conversation.TTL,
	})

	var listener bot.Listener
	if tg != nil {
		cmdHandlers := handlers.RegisterAllCommands(handlers.HandlerDeps{
			Logger:  log,
			Config:  cfg,
			Store:   store,
			Sweeper: manager,
		})
		if err := telegram.RegisterHandlers(tg, log, cmdHandlers); err != nil {
			log.Error("Failed to register Telegram handlers", "error", err)
			closeAll()
			return err
		}
		listener = tg
	}

	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:    log,
		Config:    cfg,
		Store:     store,
		Mentions:  tw,
		Processor: manager,
		Locker:    locker,
		Pruner:    pruner,
	})
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, taskMap)
	if err != nil {
		closeAll()
		return err
	}

	app := bot.NewBot(log, listener, sched, closers...)

	log.Info("Starting bot...", "bot_user_id", tw.BotUserID(), "store", cfg.Database.Driver, "images", cfg.Images.Backend)
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Bot stopped due to error", "error", err)
		return err
	}

	log.Info("Bot stopped gracefully.")
	return nil
}
