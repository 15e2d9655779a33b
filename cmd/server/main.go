package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/time/rate"

	"confluencebot/internal/api"
	"confluencebot/internal/api/handlers"
	"confluencebot/internal/bot"
	"confluencebot/internal/config"
	"confluencebot/internal/exchange"
	"confluencebot/internal/feed"
	"confluencebot/internal/models"
	"confluencebot/internal/notify"
	"confluencebot/internal/repository"
	"confluencebot/internal/service"
	"confluencebot/internal/websocket"
	"confluencebot/pkg/retry"
	"confluencebot/pkg/utils"
)

// statePublishInterval - период рассылки позиций и состояния гейта в UI
const statePublishInterval = 2 * time.Second

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitGlobalLogger(cfg.Logging.LogConfig())
	defer func() { _ = logger.Sync() }()

	exchange.ConfigureGlobalHTTPClient(exchange.DefaultHTTPClientConfig())
	defer exchange.CloseGlobalClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализация базы данных
	db, err := initDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database",
			utils.String("dsn", cfg.Database.DSNWithoutPassword()), utils.Err(err))
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		logger.Fatal("failed to migrate schema", utils.Err(err))
	}
	logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Инициализация репозиториев
	ledgerRepo := repository.NewLedgerRepository(db)
	riskRepo := repository.NewRiskStateRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	symbolRepo := repository.NewSymbolRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Площадка исполнения
	venue, err := initVenue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to init venue", utils.String("venue", cfg.Exchange.Name), utils.Err(err))
	}
	defer venue.Close()

	adapterCfg := exchange.DefaultAdapterConfig()
	adapterCfg.Leverage = cfg.Exchange.Leverage
	futures := exchange.NewFuturesAdapter(venue, adapterCfg, logger)

	// Торговое ядро
	loc := cfg.Location()
	gate := bot.NewRiskGate(cfg.Trading.RiskConfig(loc), time.Now, logger)
	matcher := bot.NewMatcher(cfg.Trading.MatcherConfig(), logger)
	ledger := bot.NewLedger(cfg.Engine.LedgerCapacity, ledgerRepo, 0, logger)
	ingestor := bot.NewIngestor(bot.IngestorConfig{
		StaleAge:   cfg.Engine.AlertStaleAge,
		QuoteAsset: cfg.Engine.QuoteAsset,
	}, ledger, matcher, time.Now, logger)

	// Уведомления и WebSocket
	hub := websocket.NewHub(logger)
	notifCfg := service.DefaultNotificationConfig()
	notifCfg.PushMinSeverity = cfg.Notify.PushMinSeverity
	notifCfg.PushTimeout = cfg.Notify.PushTimeout
	notifCfg.KeepRecent = cfg.Engine.NotificationLimit
	notificationService := service.NewNotificationService(notificationRepo, notifCfg, logger)
	notificationService.SetWebSocketHub(hub)
	initPushers(ctx, cfg, notificationService, logger)

	engine := bot.NewEngine(bot.EngineConfig{
		MarkPricePoll: cfg.Engine.MarkPricePoll,
		Location:      loc,
	}, bot.EngineDeps{
		Ingestor:  ingestor,
		Matcher:   matcher,
		Gate:      gate,
		Exchange:  futures,
		Tickers:   venue,
		Equity:    futures,
		Positions: positionRepo,
		Trades:    tradeRepo,
		Sink:      notificationService,
		Position:  cfg.Trading.PositionConfig(cfg.Engine),
		Clock:     time.Now,
		Logger:    logger,
	})

	// Снимки гейта пишутся в БД асинхронно
	persister := bot.NewRiskPersister(riskRepo, logger)
	gate.OnChange(persister.Submit)
	go persister.Run(ctx)

	notifCtx, stopNotifications := context.WithCancel(context.Background())
	notifDone := make(chan struct{})
	go func() {
		defer close(notifDone)
		notificationService.Run(notifCtx)
	}()

	if err := engine.Start(ctx); err != nil {
		logger.Fatal("failed to start engine", utils.Err(err))
	}

	// Восстановление до подключения фида алертов
	recovery := bot.NewRecoveryManager(bot.RecoveryConfig{
		RecoveryTimeout: cfg.Engine.RecoveryTimeout,
	}, engine, ledger, riskRepo, positionRepo, futures, logger).WithTradeHistory(tradeRepo)
	if _, err := recovery.Recover(ctx); err != nil {
		// Без журнала алертов нельзя исключить повторные сделки
		logger.Fatal("recovery failed", utils.Err(err))
	}

	symbolService := service.NewSymbolService(symbolRepo, gate, cfg.Engine.QuoteAsset, logger)
	if err := symbolService.Load(ctx, symbolSeeds(cfg.Trading.Symbols)); err != nil {
		logger.Fatal("failed to load symbol registry", utils.Err(err))
	}

	hub.SetStateProvider(engine)
	go hub.Run()
	go hub.RunStatePublisher(ctx, statePublishInterval)

	var source *feed.WSSource
	if cfg.Feed.URL != "" {
		feedCfg := feed.DefaultConfig()
		feedCfg.URL = cfg.Feed.URL
		feedCfg.Token = cfg.Feed.Token
		if cfg.Feed.PingInterval > 0 {
			feedCfg.PingInterval = cfg.Feed.PingInterval
		}
		if cfg.Feed.ReadTimeout > 0 {
			feedCfg.ReadTimeout = cfg.Feed.ReadTimeout
		}
		if cfg.Feed.ReconnectDelay > 0 {
			feedCfg.ReconnectDelay = cfg.Feed.ReconnectDelay
		}
		source = feed.NewWSSource(feedCfg, engine, logger)
		go func() {
			if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("alert feed stopped", utils.Err(err))
			}
		}()
	} else {
		logger.Info("alert feed disabled, accepting alerts via HTTP only")
	}

	// Настройка зависимостей для API
	var alertLimiter *rate.Limiter
	if cfg.Security.AlertRateLimit > 0 {
		alertLimiter = rate.NewLimiter(rate.Limit(cfg.Security.AlertRateLimit), cfg.Security.AlertBurst)
	}

	deps := &api.Dependencies{
		Alerts:         engine,
		Control:        service.NewControlService(engine, cfg.Engine.QuoteAsset, logger),
		Symbols:        symbolService,
		Notifications:  notificationService,
		Stats:          service.NewStatsService(tradeRepo, engine, loc),
		Stream:         websocket.NewStreamHandler(hub, cfg.Server.AllowedOrigins),
		HealthChecks:   healthChecks(db, engine, source),
		TokenHash:      cfg.Security.APITokenHash,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AlertLimiter:   alertLimiter,
		Logger:         logger,
	}

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("starting server", utils.String("addr", server.Addr), utils.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", utils.Err(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Сначала перестаем принимать алерты, потом останавливаем ядро
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", utils.Err(err))
	}

	cancel()
	engine.Stop()

	select {
	case <-persister.Done():
	case <-shutdownCtx.Done():
		logger.Warn("risk state flush timed out")
	}

	// Уведомления движка уже в очереди сервиса: досылаем push
	stopNotifications()
	select {
	case <-notifDone:
	case <-shutdownCtx.Done():
		logger.Warn("notification drain timed out")
	}

	hub.Stop()
	logger.Info("server exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// initVenue создает площадку и проверяет ключи
func initVenue(ctx context.Context, cfg *config.Config, logger *utils.Logger) (exchange.Venue, error) {
	venue, err := exchange.NewVenue(exchange.VenueConfig{
		Name: cfg.Exchange.Name,
		Bybit: exchange.BybitConfig{
			BaseURL:     cfg.Exchange.BaseURL,
			WSPublicURL: cfg.Exchange.WSURL,
			RPS:         cfg.Exchange.RPS,
			Burst:       cfg.Exchange.Burst,
		},
		Paper: exchange.PaperConfig{
			InitialBalance: cfg.Exchange.PaperBalance,
			FeePercent:     cfg.Exchange.PaperFeePercent,
		},
		PaperMarketData: cfg.Exchange.PaperMarketData,
	}, logger)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err = retry.Do(connectCtx, func(ctx context.Context) error {
		return venue.Connect(ctx, cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	}, retry.NetworkConfig())
	if err != nil {
		venue.Close()
		return nil, fmt.Errorf("connect %s: %w", venue.GetName(), err)
	}
	return venue, nil
}

// initPushers подключает внешние каналы, заданные в конфиге.
// Ошибка канала не мешает запуску: уведомления остаются в журнале и UI.
func initPushers(ctx context.Context, cfg *config.Config, svc *service.NotificationService, logger *utils.Logger) {
	if cfg.Notify.FCMCredentialsFile != "" {
		pusher, err := notify.NewFCMPusher(ctx, cfg.Notify.FCMCredentialsFile, cfg.Notify.FCMTopic)
		if err != nil {
			logger.Error("fcm push disabled", utils.Err(err))
		} else {
			svc.AddPusher(pusher)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		svc.AddPusher(notify.NewDiscordPusher(cfg.Notify.DiscordWebhookURL, exchange.GetGlobalHTTPClient().GetClient()))
	}
}

func symbolSeeds(settings []config.SymbolSettings) []models.SymbolEntry {
	seeds := make([]models.SymbolEntry, 0, len(settings))
	for _, s := range settings {
		seeds = append(seeds, models.SymbolEntry{
			Symbol:   s.Symbol,
			Category: s.Category,
			Excluded: s.Excluded,
			Reason:   s.Reason,
		})
	}
	return seeds
}

func healthChecks(db *sql.DB, engine *bot.Engine, source *feed.WSSource) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"database": db.PingContext,
		"engine": func(context.Context) error {
			if !engine.Running() {
				return errors.New("engine is not running")
			}
			return nil
		},
	}
	if source != nil {
		checks["feed"] = func(context.Context) error {
			if !source.Connected() {
				return errors.New("alert feed disconnected")
			}
			return nil
		}
	}
	return checks
}
