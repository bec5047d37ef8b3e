package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AndradeTK/ofertassertao/app/affiliate"
	"github.com/AndradeTK/ofertassertao/app/api"
	"github.com/AndradeTK/ofertassertao/app/cfg"
	"github.com/AndradeTK/ofertassertao/app/classify"
	"github.com/AndradeTK/ofertassertao/app/database"
	"github.com/AndradeTK/ofertassertao/app/dedup"
	"github.com/AndradeTK/ofertassertao/app/delivery"
	"github.com/AndradeTK/ofertassertao/app/message"
	"github.com/AndradeTK/ofertassertao/app/monitor"
	"github.com/AndradeTK/ofertassertao/app/pipeline"
	"github.com/AndradeTK/ofertassertao/app/ratelimit"
	"github.com/AndradeTK/ofertassertao/app/telegram"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was requested.
		return
	}

	setupLogger(appCfg.Debug)

	slog.Info("Starting Ofertas Sertão", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBHost, appCfg.DBPort, appCfg.DBUser,
		appCfg.DBPassword, appCfg.DBName)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	redisClient, err := dedup.NewRedisClient(appCfg.RedisAddr)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Repositories
	historyRepo := database.NewHistoryRepository(db)
	pendingRepo := database.NewPendingRepository(db)
	categoryRepo := database.NewCategoryRepository(db)
	forbiddenRepo := database.NewForbiddenWordRepository(db)
	settingRepo := database.NewSettingRepository(db)

	// Core components
	gate := dedup.NewGate(redisClient, time.Duration(appCfg.DedupTTL)*time.Second)
	limiter := ratelimit.NewLimiter(appCfg.RateLimitMax, time.Duration(appCfg.RateLimitWindow)*time.Second)

	resolver := affiliate.NewResolver(
		affiliate.NewClient(appCfg.UserAgent),
		settingRepo,
		affiliate.NewShopeeAdapter(appCfg.ShopeeAppID, appCfg.ShopeeAppSecret),
		affiliate.NewMeliAdapter(appCfg.MeliTag, meliCookies(settingRepo)),
		affiliate.NewAliExpressAdapter(appCfg.AliExpressAppKey, appCfg.AliExpressAppSecret),
		affiliate.NewAmazonAdapter(appCfg.AmazonTag),
	)

	keywords, err := classify.LoadKeywordTable(appCfg.KeywordsFile)
	if err != nil {
		slog.Warn("Keyword table not loaded, using built-in categories", "path", appCfg.KeywordsFile, "error", err)
		keywords = classify.NewKeywordTable()
	}
	classifier := classify.NewClassifier(
		classify.NewOpenAIClient(appCfg.AIEndpoint, appCfg.AIModel, appCfg.AIKey),
		keywords,
		appCfg.ReviewConfidence,
	)

	queue := delivery.NewQueue(telegram.NewSender(appCfg.BotToken), limiter, delivery.Options{
		MaxAttempts: appCfg.MaxRetryAttempts,
		SendDelay:   time.Duration(appCfg.SendDelay) * time.Second,
		RatePause:   time.Duration(appCfg.RateLimitPause) * time.Second,
	})

	hub := pipeline.NewHub()

	pipe := pipeline.New(pipeline.Deps{
		Gate:       gate,
		Forbidden:  forbiddenRepo,
		Resolver:   resolver,
		Classifier: classifier,
		Formatter:  message.NewFormatter(appCfg.FooterURL),
		Limiter:    limiter,
		Queue:      queue,
		History:    historyRepo,
		Pending:    pendingRepo,
		Categories: categoryRepo,
		Hub:        hub,
	}, pipeline.Options{
		DestinationID: appCfg.DestinationID,
		SendToGeneral: appCfg.SendToGeneral,
	})

	queue.OnChange(func(int) {
		hub.Publish(pipeline.EventQueueStatus, pipe.QueueStatus())
	})

	// Monitored sources
	sources, err := monitor.LoadSources(appCfg.SourcesFile)
	if err != nil {
		slog.Error("Failed to load sources file", "path", appCfg.SourcesFile, "error", err)
		os.Exit(1)
	}

	clients := []monitor.SourceClient{
		telegram.NewListener(appCfg.BotToken, sources.TelegramChats()),
	}
	for _, feed := range sources.Feeds {
		clients = append(clients, monitor.NewFeedSource(feed.Name, feed.URL, appCfg.UserAgent))
	}

	manager := monitor.NewManager(clients, pipe.Ingest, monitor.Options{
		PollInterval:      time.Duration(appCfg.PollInterval) * time.Second,
		HeartbeatInterval: time.Duration(appCfg.HeartbeatInterval) * time.Second,
		ReconnectBase:     time.Duration(appCfg.ReconnectBase) * time.Second,
		MaxReconnects:     appCfg.MaxReconnects,
	})
	manager.OnStatus(func(ev monitor.StatusEvent) {
		hub.Publish(pipeline.EventConnectionStatus, ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue.Start()
	defer queue.Stop()

	go pipe.Run(ctx)
	go manager.Run(ctx)
	slog.Info("Monitoring started", "sources", len(clients))

	// HTTP server
	apiHandler := api.NewHandler(historyRepo, pendingRepo, categoryRepo, settingRepo,
		pipe, manager, hub, appCfg.Version)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:        ":" + appCfg.Port,
		Handler:     server,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error, shutting down", "error", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// meliCookies reads the operator-maintained Mercado Livre session cookies on
// every call so a settings update takes effect without a restart.
func meliCookies(settings database.SettingRepository) func() string {
	return func() string {
		cookies, err := settings.Get(database.SettingMeliCookies)
		if err != nil {
			return ""
		}
		return cookies
	}
}
