package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-sync/internal/repository"
	"github.com/rocketscienceinc/tictactoe-sync/internal/usecase"
)

const readTimeout = 2 * time.Second

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	repo := repository.NewMemoryMatchRepository(pkg.GenerateMatchID)
	t.Cleanup(func() { _ = repo.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sessions := usecase.NewSessionManager(logger, repo, pkg.GeneratePlayerToken)
	srv := httptest.NewServer(New(logger, sessions).Handler(ctx))
	t.Cleanup(srv.Close)

	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, action string, payload any) {
	t.Helper()

	message := Message{Action: action}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		message.Payload = raw
	}

	require.NoError(t, conn.WriteJSON(message))
}

// expect reads messages until one satisfies match.
func expect(t *testing.T, conn *websocket.Conn, action string, match func(Payload) bool) Payload {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))

	for {
		var message Message
		require.NoError(t, conn.ReadJSON(&message))

		if message.Action != action {
			continue
		}

		var payload Payload
		require.NoError(t, json.Unmarshal(message.Payload, &payload))

		if match == nil || match(payload) {
			return payload
		}
	}
}

func TestServer_CreateJoinMoveWin(t *testing.T) {
	srv := newTestServer(t)
	playerX := dial(t, srv)
	playerO := dial(t, srv)

	// Given: X created a match and O joined it
	send(t, playerX, actionCreate, nil)
	created := expect(t, playerX, actionCreate, nil)
	require.NotEmpty(t, created.MatchID)
	assert.Equal(t, entity.MarkX, created.Seat)
	assert.True(t, created.View.ShowMatchID)

	send(t, playerO, actionJoin, Payload{MatchID: created.MatchID})
	joined := expect(t, playerO, actionJoin, nil)
	assert.Equal(t, entity.MarkO, joined.Seat)
	assert.False(t, joined.View.ShowMatchID)

	// Then: X is told that O arrived
	expect(t, playerX, actionState, func(p Payload) bool { return p.Match.BothSeatsClaimed() })

	// When: the players alternate until X completes the top row
	moves := []struct {
		conn *websocket.Conn
		cell int
	}{
		{playerX, 0}, {playerO, 3}, {playerX, 1}, {playerO, 4},
	}
	for _, move := range moves {
		cell := move.cell
		send(t, move.conn, actionMove, Payload{Cell: &cell})
		expect(t, move.conn, actionMove, nil)
		// the opponent must see the move before it can answer
		other := playerO
		if move.conn == playerO {
			other = playerX
		}
		expect(t, other, actionState, func(p Payload) bool { return p.Match.Squares[cell] != entity.MarkEmpty })
	}

	cell := 2
	send(t, playerX, actionMove, Payload{Cell: &cell})
	won := expect(t, playerX, actionMove, nil)

	// Then: both sides see the win
	assert.Equal(t, "You are the winner!", won.View.Status)
	pushed := expect(t, playerO, actionState, func(p Payload) bool { return p.Match.HasWinner() })
	assert.Equal(t, "Player X won!", pushed.View.Status)
	require.NotNil(t, pushed.View.WinningLine)
	assert.Equal(t, [3]int{0, 1, 2}, *pushed.View.WinningLine)

	// When: O tries to keep playing
	cell = 8
	send(t, playerO, actionMove, Payload{Cell: &cell})

	// Then
	rejected := expect(t, playerO, actionMove, nil)
	assert.Equal(t, codeGameOver, rejected.Code)

	// When: X restarts
	send(t, playerX, actionRestart, nil)
	restarted := expect(t, playerX, actionRestart, nil)
	assert.Equal(t, [entity.BoardSize]entity.Mark{}, restarted.Match.Squares)
	assert.Equal(t, entity.MarkX, restarted.Seat)

	// Then: O receives the empty board and keeps its seat
	fresh := expect(t, playerO, actionState, func(p Payload) bool { return !p.Match.HasWinner() })
	assert.Equal(t, entity.MarkO, fresh.Seat)
	assert.Equal(t, "Waiting for Player X to make a move.", fresh.View.Turn)
}

func TestServer_Errors(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	tests := []struct {
		name    string
		action  string
		payload any
		code    string
	}{
		{name: "blank id", action: actionJoin, payload: Payload{MatchID: "  "}, code: codeInvalidID},
		{name: "unknown id", action: actionJoin, payload: Payload{MatchID: "nope"}, code: codeNotFound},
		{name: "move without seat", action: actionMove, payload: map[string]int{"cell": 0}, code: codeNoSeat},
		{name: "move without cell", action: actionMove, payload: Payload{}, code: codeBadRequest},
		{name: "restart without seat", action: actionRestart, code: codeNoSeat},
		{name: "unknown action", action: "match:dance", code: codeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.action, tt.payload)

			payload := expect(t, conn, tt.action, nil)

			assert.Equal(t, tt.code, payload.Code)
			assert.Equal(t, errorText[tt.code], payload.Error)
		})
	}
}

func TestServer_MatchFull(t *testing.T) {
	srv := newTestServer(t)
	host := dial(t, srv)
	guest := dial(t, srv)
	late := dial(t, srv)

	send(t, host, actionCreate, nil)
	created := expect(t, host, actionCreate, nil)

	send(t, guest, actionJoin, Payload{MatchID: created.MatchID})
	expect(t, guest, actionJoin, nil)

	send(t, late, actionJoin, Payload{MatchID: created.MatchID})
	rejected := expect(t, late, actionJoin, nil)

	assert.Equal(t, codeMatchFull, rejected.Code)
	assert.Equal(t, "This game already has two players. Please create a new game.", rejected.Error)
}

func TestServer_NotYourTurn(t *testing.T) {
	srv := newTestServer(t)
	playerX := dial(t, srv)
	playerO := dial(t, srv)

	send(t, playerX, actionCreate, nil)
	created := expect(t, playerX, actionCreate, nil)

	send(t, playerO, actionJoin, Payload{MatchID: created.MatchID})
	expect(t, playerO, actionJoin, nil)

	cell := 4
	send(t, playerO, actionMove, Payload{Cell: &cell})
	rejected := expect(t, playerO, actionMove, nil)

	assert.Equal(t, codeNotYourTurn, rejected.Code)
}

func TestServer_Leave(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	send(t, conn, actionCreate, nil)
	expect(t, conn, actionCreate, nil)

	send(t, conn, actionLeave, nil)
	expect(t, conn, actionLeave, nil)

	// the seat is gone with the session
	cell := 0
	send(t, conn, actionMove, Payload{Cell: &cell})
	rejected := expect(t, conn, actionMove, nil)
	assert.Equal(t, codeNoSeat, rejected.Code)
}

func TestServer_JoinWithPaddedID(t *testing.T) {
	srv := newTestServer(t)
	playerX := dial(t, srv)
	playerO := dial(t, srv)

	send(t, playerX, actionCreate, nil)
	created := expect(t, playerX, actionCreate, nil)

	// Given: O pastes the id with whitespace around it
	send(t, playerO, actionJoin, Payload{MatchID: "  " + created.MatchID + "\n"})
	joined := expect(t, playerO, actionJoin, nil)

	// Then: the reply carries the clean id
	assert.Equal(t, created.MatchID, joined.MatchID)
	assert.Equal(t, entity.MarkO, joined.Seat)

	// When: X moves
	cell := 4
	send(t, playerX, actionMove, Payload{Cell: &cell})
	expect(t, playerX, actionMove, nil)

	// Then: O is notified and can answer
	expect(t, playerO, actionState, func(p Payload) bool { return p.Match.Squares[4] == entity.MarkX })

	cell = 0
	send(t, playerO, actionMove, Payload{Cell: &cell})
	moved := expect(t, playerO, actionMove, nil)

	assert.Empty(t, moved.Code)
	require.NotNil(t, moved.Match)
	assert.Equal(t, entity.MarkO, moved.Match.Squares[0])
}

func TestServer_RestartNotifiesBothSeats(t *testing.T) {
	srv := newTestServer(t)
	playerX := dial(t, srv)
	playerO := dial(t, srv)

	send(t, playerX, actionCreate, nil)
	created := expect(t, playerX, actionCreate, nil)

	send(t, playerO, actionJoin, Payload{MatchID: created.MatchID})
	expect(t, playerO, actionJoin, nil)

	// Given: X has played the center and both sides saw it
	cell := 4
	send(t, playerX, actionMove, Payload{Cell: &cell})
	expect(t, playerX, actionMove, nil)

	played := func(p Payload) bool { return p.Match.Squares[4] == entity.MarkX }
	expect(t, playerX, actionState, played)
	expect(t, playerO, actionState, played)

	// When: O restarts
	send(t, playerO, actionRestart, nil)
	restarted := expect(t, playerO, actionRestart, nil)
	assert.Empty(t, restarted.Code)

	// Then: both connections receive the empty board with the seats kept
	empty := func(p Payload) bool { return p.Match.Squares == [entity.BoardSize]entity.Mark{} }
	for _, tc := range []struct {
		conn *websocket.Conn
		seat entity.Mark
	}{
		{playerX, entity.MarkX},
		{playerO, entity.MarkO},
	} {
		pushed := expect(t, tc.conn, actionState, empty)

		assert.Equal(t, tc.seat, pushed.Seat)
		assert.True(t, pushed.Match.XIsNext)
		assert.Nil(t, pushed.Match.Winner)
		assert.NotEmpty(t, pushed.Match.PlayerX)
		assert.NotEmpty(t, pushed.Match.PlayerO)
		assert.False(t, pushed.View.ShowMatchID)
	}
}
