package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"github.com/sptube-go/sptube/bot/api"
	"github.com/sptube-go/sptube/bot/config"
	"github.com/sptube-go/sptube/bot/db"
	"github.com/sptube-go/sptube/bot/download"
	"github.com/sptube-go/sptube/bot/httpclient"
	"github.com/sptube-go/sptube/bot/linkcache"
	logpkg "github.com/sptube-go/sptube/bot/logger"
	"github.com/sptube-go/sptube/bot/pipeline"
	"github.com/sptube-go/sptube/bot/remux"
	"github.com/sptube-go/sptube/bot/tags"
	"github.com/sptube-go/sptube/bot/telegram"
	"github.com/sptube-go/sptube/bot/telegram/handler"
	"github.com/sptube-go/sptube/bot/worker"
)

// App wires all application dependencies.
type App struct {
	Config   *config.Config
	Logger   *logpkg.Logger
	Links    *linkcache.Cache
	HTTP     *httpclient.Client
	Pool     *worker.Pool
	Telegram *telegram.Bot
	Service  *Service
	Router   *handler.Router
	Build    BuildInfo

	handler *th.BotHandler
}

// BuildInfo provides build-time metadata.
type BuildInfo struct {
	RuntimeVer string
	BinVersion string
	CommitSHA  string
	BuildTime  string
	BuildArch  string
}

// New builds the application container. The link cache must be reachable;
// the bot does not start without it.
func New(ctx context.Context, configPath string, build BuildInfo) (*App, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	log, err := logpkg.New(logpkg.Options{
		Level:     conf.GetString("LogLevel"),
		Format:    conf.GetString("LogFormat"),
		AddSource: conf.GetBool("LogSource"),
		Dir:       conf.GetString("LogDir"),
	})
	if err != nil {
		return nil, err
	}

	store, err := openLinkStore(ctx, conf, log)
	if err != nil {
		return nil, err
	}
	links := linkcache.New(store, log.With("component", "linkcache"))
	if err := links.Connect(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	httpc := httpclient.New(httpclient.Options{
		ConnectTimeout:  conf.GetSeconds("ConnectTimeout"),
		DownloadTimeout: conf.GetSeconds("DownloadTimeout"),
		MaxConnsPerHost: conf.GetInt("MaxConcurrentDownloads"),
	})
	pool := worker.New(conf.GetInt("WorkerPoolSize"))

	apiClient, err := api.New(api.Options{
		BaseURL:    conf.GetString("API_URL"),
		APIKey:     conf.GetString("API_KEY"),
		HTTPClient: &http.Client{Transport: httpc.RoundTripper(), Timeout: httpc.Options().DownloadTimeout},
		MaxRetries: conf.GetInt("APIMaxRetries"),
		Logger:     log.With("component", "api"),
	})
	if err != nil {
		return nil, fmt.Errorf("init api client: %w", err)
	}

	downloadDir := conf.GetString("DownloadPath")
	ffmpeg := remux.New(remux.Options{
		Binary:  conf.GetString("FFmpegPath"),
		Timeout: conf.GetSeconds("FFmpegTimeout"),
		Comment: conf.GetString("TagComment"),
		Logger:  log,
	})
	if !ffmpeg.Available() {
		log.Warn("ffmpeg not found, encrypted tracks will fail to remux", "binary", conf.GetString("FFmpegPath"))
	}
	downloader := pipeline.New(
		download.NewFetcher(httpc, download.FetcherOptions{Dir: downloadDir, Logger: log}),
		ffmpeg,
		tags.NewService(log, conf.GetString("TagComment")),
		pipeline.Options{
			Dir:                 downloadDir,
			MaxCoverSize:        int64(conf.GetInt("MaxCoverSizeMB")) * 1024 * 1024,
			Timeout:             conf.GetSeconds("ProcessTimeout"),
			Logger:              log.With("component", "pipeline"),
			Pool:                pool,
			Tracks:              apiClient,
			PlaylistConcurrency: conf.GetInt("PlaylistConcurrency"),
		},
	)

	tele, err := telegram.New(conf, log)
	if err != nil {
		return nil, fmt.Errorf("init telegram: %w", err)
	}
	limiter := telegram.NewRateLimiter(conf.GetFloat64("RateLimitPerSecond"), conf.GetInt("RateLimitBurst"), log)
	channel := telegram.NewChannel(tele.UploadClient(), ffmpeg, telegram.ChannelOptions{
		StorageChatID: conf.GetInt64("LOGGER_ID"),
		Limiter:       limiter,
		Pool:          pool,
		Logger:        log.With("component", "delivery"),
	})

	service := NewService(apiClient, links, downloader, channel, log, conf.GetSeconds("UploadTimeout"))
	router := &handler.Router{
		Service:   service,
		Messenger: channel,
		Shortener: api.NewShortener(),
		Logger:    log,
	}

	return &App{
		Config:   conf,
		Logger:   log,
		Links:    links,
		HTTP:     httpc,
		Pool:     pool,
		Telegram: tele,
		Service:  service,
		Router:   router,
		Build:    build,
	}, nil
}

func openLinkStore(ctx context.Context, conf *config.Config, log *logpkg.Logger) (linkcache.Store, error) {
	switch strings.ToLower(strings.TrimSpace(conf.GetString("LinkStore"))) {
	case "sqlite":
		gormLogger := logpkg.NewGormLogger(log.Slog(), logpkg.GormLevel(conf.GetString("GormLogLevel")))
		repo, err := db.NewSQLiteRepository(conf.GetString("Database"), gormLogger)
		if err != nil {
			return nil, fmt.Errorf("init db: %w", err)
		}
		if err := repo.ConfigurePool(
			conf.GetInt("DBMaxOpenConns"),
			conf.GetInt("DBMaxIdleConns"),
			conf.GetSeconds("DBConnMaxLifetimeSec"),
		); err != nil {
			return nil, fmt.Errorf("configure db pool: %w", err)
		}
		return repo, nil
	default:
		connectCtx, cancel := context.WithTimeout(ctx, conf.GetSeconds("ConnectTimeout"))
		defer cancel()
		store, err := linkcache.NewMongoStore(connectCtx, conf.GetString("MONGO_URI"),
			conf.GetString("MongoDatabase"), conf.GetString("MongoCollection"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", linkcache.ErrBackendUnavailable, err)
		}
		return store, nil
	}
}

// Start begins long polling and dispatches updates to the router.
func (a *App) Start(ctx context.Context) error {
	client := a.Telegram.Client()

	meCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	me, err := a.Telegram.GetMe(meCtx)
	if err != nil {
		return fmt.Errorf("getMe: %w", err)
	}

	if err := client.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: []telego.BotCommand{
			{Command: "start", Description: "Start the bot"},
			{Command: "song", Description: "Search or expand a music link"},
			{Command: "help", Description: "How to use the bot"},
		},
	}); err != nil {
		a.Logger.Warn("failed to set commands", "error", err)
	}

	updates, err := client.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}
	bh, err := th.NewBotHandler(client, updates)
	if err != nil {
		return fmt.Errorf("create update handler: %w", err)
	}
	a.Router.Register(bh)
	a.handler = bh

	go bh.Start()
	a.Logger.Info("bot started",
		"username", me.Username,
		"version", a.Build.BinVersion,
		"commit", a.Build.CommitSHA,
		"runtime", a.Build.RuntimeVer,
	)
	return nil
}

// Shutdown releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error

	if a.handler != nil {
		a.handler.Stop()
	}

	if a.Pool != nil {
		if err := a.Pool.Shutdown(ctx); err != nil {
			a.Pool.StopNow()
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown worker pool: %w", err)
			}
		}
	}

	if a.Links != nil {
		if err := a.Links.Close(ctx); err != nil {
			if a.Logger != nil {
				a.Logger.Error("failed to close link store", "error", err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("close link store: %w", err)
			}
		}
	}

	if a.HTTP != nil {
		if err := a.HTTP.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close http client: %w", err)
		}
	}

	if a.Logger != nil {
		if err := a.Logger.Close(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("close logger: %w", err)
			}
		}
	}

	return firstErr
}
