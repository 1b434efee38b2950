package entity

import (
	"errors"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
)

// Mark is the content of a cell, and also the seat a participant holds.
type Mark string

const (
	MarkEmpty Mark = ""
	MarkX     Mark = "X"
	MarkO     Mark = "O"
)

// BoardSize is the number of cells in a match.
const BoardSize = 9

// Outcome classifies a match position.
type Outcome string

const (
	OutcomeOngoing Outcome = "ongoing"
	OutcomeWin     Outcome = "win"
	OutcomeDraw    Outcome = "draw"
)

var (
	ErrInvalidMark = errors.New("invalid mark")

	// WinLines are checked in this order; the first completed line decides the winner.
	WinLines = [8][3]int{
		{0, 1, 2},
		{3, 4, 5},
		{6, 7, 8},
		{0, 3, 6},
		{1, 4, 7},
		{2, 5, 8},
		{0, 4, 8},
		{2, 4, 6},
	}
)

// IsSeat reports whether m is X or O.
func (m Mark) IsSeat() bool {
	return m == MarkX || m == MarkO
}

func (m Mark) Opponent() Mark {
	switch m {
	case MarkX:
		return MarkO
	case MarkO:
		return MarkX
	default:
		return MarkEmpty
	}
}

// ParseMark accepts "", "X" and "O".
func ParseMark(s string) (Mark, error) {
	switch m := Mark(s); m {
	case MarkEmpty, MarkX, MarkO:
		return m, nil
	default:
		return MarkEmpty, fmt.Errorf("%w: %q", ErrInvalidMark, s)
	}
}

// MatchState is the shared document of one match. Field names are fixed by
// the stored wire format.
type MatchState struct {
	Squares     [BoardSize]Mark `json:"squares"`
	XIsNext     bool            `json:"xIsNext"`
	Winner      *Mark           `json:"winner"`
	WinningLine *[3]int         `json:"winningLine"`
	PlayerX     string          `json:"playerX,omitempty"`
	PlayerO     string          `json:"playerO,omitempty"`
}

func NewMatchState() *MatchState {
	return &MatchState{
		XIsNext: true,
	}
}

// NextMark returns the mark that plays next.
func (that *MatchState) NextMark() Mark {
	if that.XIsNext {
		return MarkX
	}

	return MarkO
}

func (that *MatchState) HasWinner() bool {
	return that.Winner != nil && *that.Winner != MarkEmpty
}

// WinnerMark returns the winner or MarkEmpty.
func (that *MatchState) WinnerMark() Mark {
	if !that.HasWinner() {
		return MarkEmpty
	}

	return *that.Winner
}

func (that *MatchState) IsFull() bool {
	for _, cell := range that.Squares {
		if cell == MarkEmpty {
			return false
		}
	}

	return true
}

func (that *MatchState) Outcome() Outcome {
	switch {
	case that.HasWinner():
		return OutcomeWin
	case that.IsFull():
		return OutcomeDraw
	default:
		return OutcomeOngoing
	}
}

// SeatToken returns the player token stored for a seat.
func (that *MatchState) SeatToken(seat Mark) string {
	switch seat {
	case MarkX:
		return that.PlayerX
	case MarkO:
		return that.PlayerO
	default:
		return ""
	}
}

// BothSeatsClaimed reports whether the match has two players.
func (that *MatchState) BothSeatsClaimed() bool {
	return that.PlayerX != "" && that.PlayerO != ""
}

func (that *MatchState) Clone() *MatchState {
	clone := *that

	if that.Winner != nil {
		winner := *that.Winner
		clone.Winner = &winner
	}

	if that.WinningLine != nil {
		line := *that.WinningLine
		clone.WinningLine = &line
	}

	return &clone
}

// DetermineWinner scans WinLines in order and returns the first line holding
// three equal non-empty marks.
func DetermineWinner(squares [BoardSize]Mark) (Mark, [3]int, bool) {
	for _, line := range WinLines {
		a, b, c := squares[line[0]], squares[line[1]], squares[line[2]]
		if a != MarkEmpty && a == b && b == c {
			return a, line, true
		}
	}

	return MarkEmpty, [3]int{}, false
}

// ApplyMove returns the state after seat places its mark at index. The
// receiver is left untouched, also when the move is rejected.
func (that *MatchState) ApplyMove(seat Mark, index int) (*MatchState, error) {
	if index < 0 || index >= BoardSize {
		return nil, fmt.Errorf("%w: cell %d", apperror.ErrOutOfRange, index)
	}

	if that.HasWinner() {
		return nil, apperror.ErrGameFinished
	}

	if that.Squares[index] != MarkEmpty {
		return nil, fmt.Errorf("%w: cell %d", apperror.ErrCellOccupied, index)
	}

	if !seat.IsSeat() || seat != that.NextMark() {
		return nil, apperror.ErrNotYourTurn
	}

	next := that.Clone()
	next.Squares[index] = seat
	next.XIsNext = !that.XIsNext
	next.updateWinner()

	return next, nil
}

// Restart returns a fresh board that keeps both seats.
func (that *MatchState) Restart() *MatchState {
	fresh := NewMatchState()
	fresh.PlayerX = that.PlayerX
	fresh.PlayerO = that.PlayerO

	return fresh
}

// Validate checks a decoded document for shape and winner consistency.
func (that *MatchState) Validate() error {
	for i, cell := range that.Squares {
		if _, err := ParseMark(string(cell)); err != nil {
			return fmt.Errorf("%w: cell %d: %w", apperror.ErrCorruptState, i, err)
		}
	}

	mark, line, won := DetermineWinner(that.Squares)

	switch {
	case won && !that.HasWinner():
		return fmt.Errorf("%w: line %v is complete but winner is unset", apperror.ErrCorruptState, line)
	case !won && that.HasWinner():
		return fmt.Errorf("%w: winner %s without a complete line", apperror.ErrCorruptState, that.WinnerMark())
	case won && (mark != that.WinnerMark() || that.WinningLine == nil || *that.WinningLine != line):
		return fmt.Errorf("%w: winner does not match line %v", apperror.ErrCorruptState, line)
	case !won && that.WinningLine != nil:
		return fmt.Errorf("%w: winning line without a winner", apperror.ErrCorruptState)
	}

	return nil
}

func (that *MatchState) updateWinner() {
	mark, line, won := DetermineWinner(that.Squares)
	if !won {
		that.Winner = nil
		that.WinningLine = nil

		return
	}

	that.Winner = &mark
	that.WinningLine = &line
}
