package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

const shutdownTimeout = 5 * time.Second

type sessionManager interface {
	Snapshot(ctx context.Context, matchID string) (*entity.MatchState, error)
}

type Server struct {
	logger   *slog.Logger
	sessions sessionManager
}

func New(logger *slog.Logger, sessions sessionManager) *Server {
	return &Server{
		logger:   logger.With("component", "rest"),
		sessions: sessions,
	}
}

func (that *Server) Handler() http.Handler {
	router := httprouter.New()

	router.GET("/ping", pingHandler)
	router.GET("/matches/:id", that.matchHandler)
	router.GET("/matches/:id/qr", that.qrHandler)

	return router
}

// Start - starts HTTP server and stops it when ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      that.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}
