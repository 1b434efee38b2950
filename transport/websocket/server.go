package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/repository"
)

const (
	sendBufferSize  = 16
	writeWait       = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

type sessionManager interface {
	CreateMatch(ctx context.Context) (string, entity.Mark, *entity.MatchState, error)
	JoinMatch(ctx context.Context, matchID string) (entity.Mark, *entity.MatchState, error)
	ApplyMove(ctx context.Context, matchID string, state *entity.MatchState, seat entity.Mark, index int) (*entity.MatchState, error)
	Restart(ctx context.Context, matchID string, state *entity.MatchState) (*entity.MatchState, error)
	Watch(ctx context.Context, matchID string, listener repository.Listener) (func(), error)
}

type handlerFunc func(ctx context.Context, client *client, message *Message) error

type Server struct {
	logger   *slog.Logger
	sessions sessionManager
	upgrader websocket.Upgrader

	handlers map[string]handlerFunc
}

func New(logger *slog.Logger, sessions sessionManager) *Server {
	server := &Server{
		logger:   logger.With("component", "websocket"),
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},

		handlers: make(map[string]handlerFunc),
	}

	server.handlers[actionCreate] = server.handleCreate
	server.handlers[actionJoin] = server.handleJoin
	server.handlers[actionMove] = server.handleMove
	server.handlers[actionRestart] = server.handleRestart
	server.handlers[actionLeave] = server.handleLeave

	return server
}

// Handler - returns the HTTP handler serving the /ws endpoint.
func (that *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		that.serveWS(ctx, w, r)
	})

	return mux
}

// Start - starts WebSocket server and stops it when ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
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

// serveWS - upgrades the connection to WebSocket and serves it until it closes.
func (that *Server) serveWS(ctx context.Context, writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "serveWS")

	conn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := newClient(conn)
	defer c.close()

	log.Info("WebSocket connection established", "remote", req.RemoteAddr)

	go c.writePump(connCtx, that.logger)

	if err = that.handleMessages(connCtx, c); err != nil {
		log.Info("connection closed", "error", err)
	}
}

// handleMessages - processes messages from the client.
func (that *Server) handleMessages(ctx context.Context, c *client) error {
	log := that.logger.With("method", "handleMessages")

	for {
		var message Message
		if err := c.conn.ReadJSON(&message); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				log.Error("failed to unmarshal message", "error", err)
				c.sendError(ctx, actionError, fmt.Errorf("%w: %w", errBadRequest, err))
				continue
			}

			return err
		}

		handler, ok := that.handlers[message.Action]
		if !ok {
			log.Error("unknown action", "action", message.Action)
			c.sendError(ctx, message.Action, fmt.Errorf("%w: unknown action %q", errBadRequest, message.Action))
			continue
		}

		if err := handler(ctx, c, &message); err != nil {
			log.Info("action rejected", "action", message.Action, "error", err)
			c.sendError(ctx, message.Action, err)
		}
	}
}

// client is one websocket connection and the seat it holds. The seat lives
// only as long as the connection.
type client struct {
	conn *websocket.Conn
	send chan Message
	done chan struct{}
	once sync.Once

	mu          sync.Mutex
	matchID     string
	seat        entity.Mark
	state       *entity.MatchState
	unsubscribe func()
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan Message, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (that *client) writePump(ctx context.Context, logger *slog.Logger) {
	log := logger.With("method", "writePump")

	for {
		select {
		case <-ctx.Done():
			return
		case <-that.done:
			return
		case message := <-that.send:
			_ = that.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := that.conn.WriteJSON(message); err != nil {
				log.Error("failed to write message", "error", err)
				_ = that.conn.Close()
				return
			}
		}
	}
}

func (that *client) sendMessage(ctx context.Context, action string, payload Payload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}

	select {
	case that.send <- Message{Action: action, Payload: raw}:
	case <-that.done:
	case <-ctx.Done():
	}
}

func (that *client) sendError(ctx context.Context, action string, err error) {
	code := errorCode(err)

	that.sendMessage(ctx, action, Payload{
		Error: errorText[code],
		Code:  code,
	})
}

// session returns the match the client currently plays in.
func (that *client) session() (string, entity.Mark, *entity.MatchState) {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.matchID, that.seat, that.state
}

// enter switches the client to a match. The previous subscription, if any, is dropped.
func (that *client) enter(matchID string, seat entity.Mark, state *entity.MatchState) {
	that.mu.Lock()
	previous := that.unsubscribe
	that.matchID = matchID
	that.seat = seat
	that.state = state
	that.unsubscribe = nil
	that.mu.Unlock()

	if previous != nil {
		previous()
	}
}

func (that *client) watching(matchID string, unsubscribe func()) {
	that.mu.Lock()
	if that.matchID != matchID {
		that.mu.Unlock()
		unsubscribe()
		return
	}
	that.unsubscribe = unsubscribe
	that.mu.Unlock()
}

// observe caches a pushed snapshot if it belongs to the current match.
func (that *client) observe(matchID string, state *entity.MatchState) (entity.Mark, bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.matchID != matchID {
		return entity.MarkEmpty, false
	}

	that.state = state

	return that.seat, true
}

func (that *client) update(matchID string, state *entity.MatchState) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.matchID == matchID {
		that.state = state
	}
}

func (that *client) leave() {
	that.enter("", entity.MarkEmpty, nil)
}

func (that *client) close() {
	that.once.Do(func() {
		close(that.done)
		that.leave()
		_ = that.conn.Close()
	})
}
