package apperror

import "errors"

// join errors.
var (
	ErrInvalidMatchID = errors.New("invalid match id")
	ErrMatchNotFound  = errors.New("match not found")
	ErrMatchFull      = errors.New("match already has two players")
)

// move errors.
var (
	ErrOutOfRange   = errors.New("cell index out of range")
	ErrGameFinished = errors.New("game is already finished")
	ErrCellOccupied = errors.New("cell is already occupied")
	ErrNotYourTurn  = errors.New("it's not your turn")
)

var (
	ErrStoreUnavailable = errors.New("match store unavailable")
	ErrStateChanged     = errors.New("match state changed, refresh and try again")
	ErrCorruptState     = errors.New("corrupt match state")
	ErrNoSeat           = errors.New("no seat claimed in this match")
)
