package websocket

import (
	"encoding/json"
	"errors"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

const (
	actionCreate  = "match:create"
	actionJoin    = "match:join"
	actionMove    = "match:move"
	actionRestart = "match:restart"
	actionLeave   = "match:leave"
	actionState   = "match:state"
	actionError   = "error"
)

// Message represents a WebSocket message with an action type and a payload.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Payload is used both for requests and responses; unused fields are omitted.
type Payload struct {
	MatchID string             `json:"matchId,omitempty"`
	Seat    entity.Mark        `json:"seat,omitempty"`
	Cell    *int               `json:"cell,omitempty"`
	Match   *entity.MatchState `json:"match,omitempty"`
	View    *View              `json:"view,omitempty"`
	Error   string             `json:"error,omitempty"`
	Code    string             `json:"code,omitempty"`
}

// error codes sent to clients.
const (
	codeInvalidID        = "invalid_id"
	codeNotFound         = "not_found"
	codeMatchFull        = "match_full"
	codeOutOfRange       = "out_of_range"
	codeGameOver         = "game_over"
	codeCellOccupied     = "cell_occupied"
	codeNotYourTurn      = "not_your_turn"
	codeStateChanged     = "state_changed"
	codeNoSeat           = "no_seat"
	codeBadRequest       = "bad_request"
	codeStoreUnavailable = "store_unavailable"
	codeInternal         = "internal"
)

// errorCode maps an error to the code sent to the client. StateChanged is
// checked first because it wraps the move error that caused it.
func errorCode(err error) string {
	switch {
	case errors.Is(err, apperror.ErrStateChanged):
		return codeStateChanged
	case errors.Is(err, apperror.ErrInvalidMatchID):
		return codeInvalidID
	case errors.Is(err, apperror.ErrMatchNotFound):
		return codeNotFound
	case errors.Is(err, apperror.ErrMatchFull):
		return codeMatchFull
	case errors.Is(err, apperror.ErrOutOfRange):
		return codeOutOfRange
	case errors.Is(err, apperror.ErrGameFinished):
		return codeGameOver
	case errors.Is(err, apperror.ErrCellOccupied):
		return codeCellOccupied
	case errors.Is(err, apperror.ErrNotYourTurn):
		return codeNotYourTurn
	case errors.Is(err, apperror.ErrNoSeat):
		return codeNoSeat
	case errors.Is(err, errBadRequest):
		return codeBadRequest
	case errors.Is(err, apperror.ErrStoreUnavailable):
		return codeStoreUnavailable
	default:
		return codeInternal
	}
}

// errorText is what the player sees for each code.
var errorText = map[string]string{
	codeInvalidID:        "Please enter a valid game ID.",
	codeNotFound:         "Game ID not found. Please enter a valid game ID.",
	codeMatchFull:        "This game already has two players. Please create a new game.",
	codeOutOfRange:       "That cell does not exist.",
	codeGameOver:         "The game is over.",
	codeCellOccupied:     "That cell is already taken.",
	codeNotYourTurn:      "It's not your turn.",
	codeStateChanged:     "The game changed in the meantime, please try again.",
	codeNoSeat:           "Create or join a game first.",
	codeBadRequest:       "Malformed request.",
	codeStoreUnavailable: "An error occurred while talking to the game server. Please try again.",
	codeInternal:         "Something went wrong. Please try again.",
}
