package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	migrations "github.com/sorulabs/tgbridge/db"
	"github.com/sorulabs/tgbridge/internal/bot"
	"github.com/sorulabs/tgbridge/internal/config"
	"github.com/sorulabs/tgbridge/internal/db"
	"github.com/sorulabs/tgbridge/internal/handlers"
	"github.com/sorulabs/tgbridge/internal/identity"
	"github.com/sorulabs/tgbridge/internal/logger"
	"github.com/sorulabs/tgbridge/internal/logintoken"
	"github.com/sorulabs/tgbridge/internal/reconcile"
	"github.com/sorulabs/tgbridge/internal/server"
	"github.com/sorulabs/tgbridge/internal/session"
	"github.com/sorulabs/tgbridge/internal/sweep"
	"github.com/sorulabs/tgbridge/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		if runCommand(os.Args[1], os.Args[2:]) {
			return
		}
	}

	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,

			logintoken.NewService,
			provideIdentityClient,
			provideReconciler,
			provideSessionIssuer,
			provideBotService,
			provideSweeper,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideTgAuthHandler),
			provideServerHandler(provideTelegramHandler),

			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

// runCommand handles one-shot argv commands (migrate, sweep, version) before
// the fx application starts. Returns false for unknown args so "serve" style
// invocations fall through.
func runCommand(command string, args []string) bool {
	switch command {
	case "version":
		fmt.Printf("tgbridge %s\n", version.GetInfo())
		return true
	case "migrate", "sweep":
	default:
		return false
	}

	cfg, err := provideConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := provideLogger(cfg)

	switch command {
	case "migrate":
		subcommand := "up"
		if len(args) > 0 {
			subcommand = args[0]
			args = args[1:]
		}
		if err := db.RunMigrate(log, cfg.Postgres, mustMigrationsFS(), subcommand, args); err != nil {
			log.Error("migrate failed", slog.Any("error", err))
			os.Exit(1)
		}
	case "sweep":
		ctx := context.Background()
		pool, err := db.Open(ctx, cfg.Postgres)
		if err != nil {
			log.Error("db connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		tokens := logintoken.NewService(log, pool)
		deleted, err := tokens.SweepExpired(ctx, cfg.Sweep.RetentionDuration())
		if err != nil {
			log.Error("sweep failed", slog.Any("error", err))
			os.Exit(1)
		}
		log.Info("sweep complete", slog.Int64("deleted", deleted))
	}
	return true
}

func mustMigrationsFS() fs.FS {
	sub, err := fs.Sub(migrations.MigrationsFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideIdentityClient(log *slog.Logger, cfg config.Config) *identity.Client {
	return identity.NewClient(log, cfg.Identity.BaseURL, cfg.Identity.ServiceKey, cfg.Identity.Timeout())
}

func provideReconciler(log *slog.Logger, client *identity.Client, cfg config.Config) *reconcile.Reconciler {
	return reconcile.NewReconciler(log, client, cfg.Site.ReservedDomain)
}

func provideSessionIssuer(log *slog.Logger, client *identity.Client) *session.Issuer {
	return session.NewIssuer(log, client)
}

func provideBotService(log *slog.Logger, tokens *logintoken.Service, cfg config.Config) (*bot.Service, error) {
	var sender bot.Sender
	if cfg.Telegram.BotToken != "" {
		api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}
		sender = api
	} else {
		log.Warn("telegram bot token not configured; login links cannot be delivered")
	}
	return bot.NewService(log, tokens, sender, cfg.Site.BaseURL,
		bot.RetryConfig{
			MaxAttempts: cfg.Issuance.MaxAttempts,
			Delay:       cfg.Issuance.RetryDelayDuration(),
		},
		bot.RateConfig{
			PerMinute: cfg.Issuance.RatePerMinute,
			Burst:     cfg.Issuance.RateBurst,
		},
	), nil
}

func provideSweeper(log *slog.Logger, tokens *logintoken.Service, cfg config.Config) *sweep.Sweeper {
	return sweep.NewSweeper(log, tokens, cfg.Sweep.Schedule, cfg.Sweep.RetentionDuration())
}

func provideTgAuthHandler(log *slog.Logger, tokens *logintoken.Service, reconciler *reconcile.Reconciler, issuer *session.Issuer, cfg config.Config) *handlers.TgAuthHandler {
	return handlers.NewTgAuthHandler(log, tokens, reconciler, issuer, cfg.Site.BaseURL, cfg.Site.ReservedDomain)
}

func provideTelegramHandler(log *slog.Logger, botService *bot.Service, cfg config.Config) *handlers.TelegramHandler {
	return handlers.NewTelegramHandler(log, botService, cfg.Telegram.WebhookSecret)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startSweeper(lc fx.Lifecycle, sweeper *sweep.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sweeper.Start()
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting tgbridge %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop(ctx)
		},
	})
}
