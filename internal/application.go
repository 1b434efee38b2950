package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/tictactoe-sync/internal/config"
	"github.com/rocketscienceinc/tictactoe-sync/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-sync/internal/repository"
	"github.com/rocketscienceinc/tictactoe-sync/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-sync/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-sync/transport/rest"
	"github.com/rocketscienceinc/tictactoe-sync/transport/websocket"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the application.
func RunApp(parent context.Context, logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, closeStore, err := openMatchRepository(ctx, logger, conf)
	if err != nil {
		return err
	}

	defer func() {
		if err = repo.Close(); err != nil {
			log.Error("could not close match repository", "error", err)
		}

		if err = closeStore(); err != nil {
			log.Error("could not close storage", "error", err)
		}
	}()

	sessions := usecase.NewSessionManager(logger, repo, pkg.GeneratePlayerToken)

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.New(logger, sessions).Start(ctx, conf.HTTPPort); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		if wsErr := websocket.New(logger, sessions).Start(ctx, conf.SocketPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err = <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}

// openMatchRepository connects the configured store backend.
func openMatchRepository(ctx context.Context, logger *slog.Logger, conf *config.Config) (repository.MatchRepository, func() error, error) {
	log := logger.With("component", "app", "store", conf.Store)

	switch conf.Store {
	case config.StoreRedis:
		redisAddrString := conf.Redis.GetRedisAddr()
		if redisAddrString == "" {
			return nil, nil, ErrAddrNotFound
		}

		redisStorage, err := storage.NewRedisStorage(ctx, redisAddrString)
		if err != nil {
			return nil, nil, fmt.Errorf("could not connect to redis storage: %w", err)
		}

		log.Info("using redis store", "addr", redisAddrString, "match_ttl", conf.Redis.MatchTTL)

		repo := repository.NewRedisMatchRepository(logger, redisStorage.Connection, pkg.GenerateMatchID, conf.Redis.MatchTTL)

		return repo, redisStorage.Close, nil
	case config.StoreSQLite:
		sqliteStorage, err := storage.NewSQLiteStorage(conf.SQLiteStoragePath)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open sqlite storage: %w", err)
		}

		if err = sqliteStorage.Init(ctx); err != nil {
			_ = sqliteStorage.Close()
			return nil, nil, fmt.Errorf("could not init sqlite storage: %w", err)
		}

		log.Info("using sqlite store", "path", conf.SQLiteStoragePath)

		repo := repository.NewSQLiteMatchRepository(sqliteStorage.Connection, pkg.GenerateMatchID)

		return repo, sqliteStorage.Close, nil
	case config.StoreMemory:
		log.Warn("using in-memory store, matches are lost on restart")

		return repository.NewMemoryMatchRepository(pkg.GenerateMatchID), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownStore, conf.Store)
	}
}
