package websocket

import (
	"fmt"

	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

// View is everything a client needs to render a match for one seat.
type View struct {
	Outcome      entity.Outcome         `json:"outcome"`
	Status       string                 `json:"status"`
	Turn         string                 `json:"turn,omitempty"`
	CellsEnabled [entity.BoardSize]bool `json:"cellsEnabled"`
	WinningLine  *[3]int                `json:"winningLine"`
	ShowMatchID  bool                   `json:"showMatchId"`
}

func NewView(state *entity.MatchState, seat entity.Mark) *View {
	view := &View{
		Outcome:     state.Outcome(),
		WinningLine: state.WinningLine,
		ShowMatchID: !state.BothSeatsClaimed(),
	}

	switch view.Outcome {
	case entity.OutcomeWin:
		if state.WinnerMark() == seat {
			view.Status = "You are the winner!"
		} else {
			view.Status = fmt.Sprintf("Player %s won!", state.WinnerMark())
		}
	case entity.OutcomeDraw:
		view.Status = "It's a draw."
	default:
		view.Status = fmt.Sprintf("You are Player %s", seat)

		if seat == state.NextMark() {
			view.Turn = "It's your turn."
		} else {
			view.Turn = fmt.Sprintf("Waiting for Player %s to make a move.", state.NextMark())
		}
	}

	if view.Outcome == entity.OutcomeOngoing && seat == state.NextMark() {
		for i, cell := range state.Squares {
			view.CellsEnabled[i] = cell == entity.MarkEmpty
		}
	}

	return view
}
