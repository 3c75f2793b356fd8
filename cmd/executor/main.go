package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"statarb/internal/api"
	"statarb/internal/bot"
	"statarb/internal/broker"
	"statarb/internal/config"
	"statarb/internal/deadletter"
	"statarb/internal/models"
	"statarb/internal/repository"
	"statarb/internal/websocket"
	"statarb/pkg/crypto"
	"statarb/pkg/ratelimit"
	"statarb/pkg/utils"
)

func main() {
	once := flag.Bool("once", false, "выполнить один прогон и выйти")
	hashToken := flag.String("hash-token", "", "напечатать bcrypt хэш токена для API_TOKEN_HASH и выйти")
	flag.Parse()

	if *hashToken != "" {
		hash, err := crypto.HashToken(*hashToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализация базы данных
	db, err := initDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database",
			utils.Event("db_connect_failed"),
			utils.String("dsn", cfg.Database.DSNWithoutPassword()),
			utils.Err(err),
		)
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		logger.Fatal("failed to migrate schema", utils.Event("db_migrate_failed"), utils.Err(err))
	}
	logger.Info("connected to database", utils.Event("db_ready"), utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Репозитории
	orderRepo := repository.NewOrderRepository(db)
	pairRepo := repository.NewPairRepository(db)
	signalRepo := repository.NewSignalRepository(db)
	priceRepo := repository.NewPriceRepository(db)
	positionRepo := repository.NewPositionRepository(db)

	// Dead letter: таблица или JSONL файл
	var (
		sink        broker.DeadLetterSink
		deadLetters *repository.DeadLetterRepository
	)
	if cfg.DeadLetter.Sink == "file" {
		sink = deadletter.NewFileSink(cfg.DeadLetter.Path)
	} else {
		deadLetters = repository.NewDeadLetterRepository(db)
		sink = deadLetters
	}

	// Клиент брокера
	maxRetries := cfg.Broker.MaxRetries
	if maxRetries == 0 {
		maxRetries = broker.NoRetries
	}
	client := broker.NewClient(broker.ClientConfig{
		BaseURL:        cfg.Broker.BaseURL,
		Timeout:        cfg.Broker.Timeout,
		MaxRetries:     maxRetries,
		BaseBackoff:    cfg.Broker.BaseBackoff,
		DefaultHeaders: broker.AuthHeaders(cfg.Broker.APIKey, cfg.Broker.APISecret),
	}, nil, ratelimit.NewRateLimiter(cfg.Broker.MinInterval), sink, logger)
	alpaca := broker.NewAlpaca(client)

	hub := websocket.NewHub(logger, cfg.Server.AllowedOrigins)
	go hub.Run()
	defer hub.Stop()

	runner := bot.NewRunner(bot.RunnerDeps{
		Broker:    func(run models.RunInfo) broker.Broker { return alpaca.WithRun(run) },
		Ledger:    orderRepo,
		Pairs:     pairRepo,
		Signals:   signalRepo,
		Prices:    priceRepo,
		Positions: positionRepo,
		Events:    hub,
	}, cfg.Risk, cfg.Execution, logger)

	// Итоги прогона пишет сам раннер (exec_run_done)
	if *once {
		if _, err := runner.RunOnce(ctx); err != nil {
			logger.Error("execution run failed", utils.Event("exec_run_failed"), utils.Err(err))
			os.Exit(1)
		}
		return
	}

	if cfg.Security.APITokenHash == "" {
		logger.Warn("API_TOKEN_HASH is empty, kill switch endpoint is disabled", utils.Event("api_token_missing"))
	} else if crypto.NeedsRehash(cfg.Security.APITokenHash, crypto.DefaultCost) {
		logger.Warn("API_TOKEN_HASH uses a weak bcrypt cost", utils.Event("api_token_weak"))
	}

	deps := &api.Dependencies{
		Orders:         orderRepo,
		KillSwitch:     runner,
		Notifier:       hub,
		WebSocket:      hub.ServeWS,
		APITokenHash:   cfg.Security.APITokenHash,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	}
	if deadLetters != nil {
		deps.DeadLetters = deadLetters
	}

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.Handler(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting ops server", utils.Event("server_start"), utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", utils.Event("server_failed"), utils.Err(err))
			stop()
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Start(ctx, cfg.Execution.Interval)
	}()

	<-ctx.Done()
	logger.Info("shutting down", utils.Event("shutdown"))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", utils.Event("server_shutdown_failed"), utils.Err(err))
	}

	// Текущий прогон доводит пары до конца
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("runner did not stop in time", utils.Event("runner_stop_timeout"))
	}

	logger.Info("executor exited", utils.Event("shutdown_done"))
}

// initDatabase создает подключение к базе данных
func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
