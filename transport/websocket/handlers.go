package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

var errBadRequest = errors.New("bad request")

func decodePayload(message *Message) (Payload, error) {
	var payload Payload

	if len(message.Payload) == 0 {
		return payload, nil
	}

	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: failed to unmarshal payload: %w", errBadRequest, err)
	}

	return payload, nil
}

func (that *Server) handleCreate(ctx context.Context, c *client, message *Message) error {
	matchID, seat, state, err := that.sessions.CreateMatch(ctx)
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}

	that.enterMatch(ctx, c, message.Action, matchID, seat, state)

	return nil
}

func (that *Server) handleJoin(ctx context.Context, c *client, message *Message) error {
	payload, err := decodePayload(message)
	if err != nil {
		return err
	}

	// ids are often pasted with surrounding whitespace
	matchID := strings.TrimSpace(payload.MatchID)

	seat, state, err := that.sessions.JoinMatch(ctx, matchID)
	if err != nil {
		return fmt.Errorf("failed to join match: %w", err)
	}

	that.enterMatch(ctx, c, message.Action, matchID, seat, state)

	return nil
}

func (that *Server) handleMove(ctx context.Context, c *client, message *Message) error {
	payload, err := decodePayload(message)
	if err != nil {
		return err
	}

	if payload.Cell == nil {
		return fmt.Errorf("%w: cell is required", errBadRequest)
	}

	matchID, seat, state, err := currentSession(c)
	if err != nil {
		return err
	}

	next, err := that.sessions.ApplyMove(ctx, matchID, state, seat, *payload.Cell)
	if err != nil {
		return fmt.Errorf("failed to apply move: %w", err)
	}

	c.update(matchID, next)
	c.sendMessage(ctx, message.Action, Payload{
		MatchID: matchID,
		Seat:    seat,
		Cell:    payload.Cell,
		Match:   next,
		View:    NewView(next, seat),
	})

	return nil
}

func (that *Server) handleRestart(ctx context.Context, c *client, message *Message) error {
	matchID, seat, state, err := currentSession(c)
	if err != nil {
		return err
	}

	fresh, err := that.sessions.Restart(ctx, matchID, state)
	if err != nil {
		return fmt.Errorf("failed to restart match: %w", err)
	}

	c.update(matchID, fresh)
	c.sendMessage(ctx, message.Action, Payload{
		MatchID: matchID,
		Seat:    seat,
		Match:   fresh,
		View:    NewView(fresh, seat),
	})

	return nil
}

func (that *Server) handleLeave(ctx context.Context, c *client, message *Message) error {
	c.leave()
	c.sendMessage(ctx, message.Action, Payload{})

	return nil
}

// enterMatch seats the client, replies to the request and starts pushing
// every committed state of the match to it.
func (that *Server) enterMatch(ctx context.Context, c *client, action, matchID string, seat entity.Mark, state *entity.MatchState) {
	log := that.logger.With("method", "enterMatch", "match_id", matchID)

	c.enter(matchID, seat, state)
	c.sendMessage(ctx, action, Payload{
		MatchID: matchID,
		Seat:    seat,
		Match:   state,
		View:    NewView(state, seat),
	})

	unsubscribe, err := that.sessions.Watch(ctx, matchID, func(pushed *entity.MatchState) {
		current, ok := c.observe(matchID, pushed)
		if !ok {
			return
		}

		c.sendMessage(ctx, actionState, Payload{
			MatchID: matchID,
			Seat:    current,
			Match:   pushed,
			View:    NewView(pushed, current),
		})
	})
	if err != nil {
		log.Error("failed to watch match", "error", err)
		c.sendError(ctx, actionState, err)
		return
	}

	c.watching(matchID, unsubscribe)
}

func currentSession(c *client) (string, entity.Mark, *entity.MatchState, error) {
	matchID, seat, state := c.session()
	if matchID == "" || !seat.IsSeat() || state == nil {
		return "", entity.MarkEmpty, nil, apperror.ErrNoSeat
	}

	return matchID, seat, state, nil
}
