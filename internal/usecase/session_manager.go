package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/repository"
)

// maxJoinAttempts bounds how often a joiner re-reads the match after losing a
// seat race to another joiner.
const maxJoinAttempts = 3

type matchRepo interface {
	Create(ctx context.Context, state *entity.MatchState) (string, int64, error)
	Get(ctx context.Context, id string) (*entity.MatchState, int64, error)
	CompareAndSwap(ctx context.Context, id string, expected int64, state *entity.MatchState) (int64, error)
	Subscribe(ctx context.Context, id string, listener repository.Listener) (func(), error)
}

// SessionManager owns the lifecycle of matches: creation, seat claiming,
// moves and restarts. The store is the only authority; every write is a
// conditional full-document write against the version that was validated.
type SessionManager struct {
	logger   *slog.Logger
	repo     matchRepo
	newToken func() string
}

func NewSessionManager(logger *slog.Logger, repo matchRepo, newToken func() string) *SessionManager {
	return &SessionManager{
		logger:   logger.With("component", "session-manager"),
		repo:     repo,
		newToken: newToken,
	}
}

// CreateMatch persists an empty match and seats the caller as X.
func (that *SessionManager) CreateMatch(ctx context.Context) (string, entity.Mark, *entity.MatchState, error) {
	log := that.logger.With("method", "CreateMatch")

	state := entity.NewMatchState()
	state.PlayerX = that.newToken()

	matchID, _, err := that.repo.Create(ctx, state)
	if err != nil {
		return "", entity.MarkEmpty, nil, fmt.Errorf("failed to create match: %w", err)
	}

	log.Info("match created", "match_id", matchID)

	return matchID, entity.MarkX, state, nil
}

// JoinMatch claims the first free seat, X before O.
func (that *SessionManager) JoinMatch(ctx context.Context, matchID string) (entity.Mark, *entity.MatchState, error) {
	log := that.logger.With("method", "JoinMatch")

	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return entity.MarkEmpty, nil, apperror.ErrInvalidMatchID
	}

	for attempt := 1; ; attempt++ {
		state, version, err := that.repo.Get(ctx, matchID)
		if err != nil {
			return entity.MarkEmpty, nil, fmt.Errorf("failed to get match %s: %w", matchID, err)
		}

		seat, err := that.claimSeat(state)
		if err != nil {
			return entity.MarkEmpty, nil, err
		}

		_, err = that.repo.CompareAndSwap(ctx, matchID, version, state)
		if errors.Is(err, repository.ErrVersionConflict) && attempt < maxJoinAttempts {
			log.Debug("seat claim lost a race, retrying", "match_id", matchID, "attempt", attempt)
			continue
		}

		if errors.Is(err, repository.ErrVersionConflict) {
			return entity.MarkEmpty, nil, fmt.Errorf("failed to claim seat: %w", apperror.ErrStateChanged)
		}

		if err != nil {
			return entity.MarkEmpty, nil, fmt.Errorf("failed to claim seat: %w", err)
		}

		log.Info("player joined", "match_id", matchID, "seat", seat)

		return seat, state, nil
	}
}

// ApplyMove validates the move against the caller's view first, then against
// the latest stored state, and writes only if nobody wrote in between.
func (that *SessionManager) ApplyMove(ctx context.Context, matchID string, state *entity.MatchState, seat entity.Mark, index int) (*entity.MatchState, error) {
	log := that.logger.With("method", "ApplyMove")

	if _, err := state.ApplyMove(seat, index); err != nil {
		return nil, err
	}

	latest, version, err := that.repo.Get(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match %s: %w", matchID, err)
	}

	next, err := latest.ApplyMove(seat, index)
	if err != nil {
		log.Info("move rejected against latest state", "match_id", matchID, "seat", seat, "cell", index, "error", err)

		return nil, fmt.Errorf("%w: %w", apperror.ErrStateChanged, err)
	}

	if _, err = that.repo.CompareAndSwap(ctx, matchID, version, next); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to write move: %w", apperror.ErrStateChanged)
		}

		return nil, fmt.Errorf("failed to write move: %w", err)
	}

	if outcome := next.Outcome(); outcome != entity.OutcomeOngoing {
		log.Info("match finished", "match_id", matchID, "outcome", outcome, "winner", next.WinnerMark())
	}

	return next, nil
}

// Restart clears the board and keeps both seats. It refuses to run when the
// stored seats differ from the caller's view, so seats are never overwritten.
func (that *SessionManager) Restart(ctx context.Context, matchID string, state *entity.MatchState) (*entity.MatchState, error) {
	log := that.logger.With("method", "Restart")

	latest, version, err := that.repo.Get(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match %s: %w", matchID, err)
	}

	if latest.PlayerX != state.PlayerX || latest.PlayerO != state.PlayerO {
		return nil, fmt.Errorf("seats changed: %w", apperror.ErrStateChanged)
	}

	fresh := state.Restart()

	if _, err = that.repo.CompareAndSwap(ctx, matchID, version, fresh); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to restart match: %w", apperror.ErrStateChanged)
		}

		return nil, fmt.Errorf("failed to restart match: %w", err)
	}

	log.Info("match restarted", "match_id", matchID)

	return fresh, nil
}

// Snapshot returns the latest stored state of a match.
func (that *SessionManager) Snapshot(ctx context.Context, matchID string) (*entity.MatchState, error) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, apperror.ErrInvalidMatchID
	}

	state, _, err := that.repo.Get(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match %s: %w", matchID, err)
	}

	return state, nil
}

// Watch subscribes listener to every committed state of the match.
func (that *SessionManager) Watch(ctx context.Context, matchID string, listener repository.Listener) (func(), error) {
	unsubscribe, err := that.repo.Subscribe(ctx, matchID, listener)
	if err != nil {
		return nil, fmt.Errorf("failed to watch match %s: %w", matchID, err)
	}

	return unsubscribe, nil
}

func (that *SessionManager) claimSeat(state *entity.MatchState) (entity.Mark, error) {
	switch {
	case state.PlayerX == "":
		state.PlayerX = that.newToken()
		return entity.MarkX, nil
	case state.PlayerO == "":
		state.PlayerO = that.newToken()
		return entity.MarkO, nil
	default:
		return entity.MarkEmpty, apperror.ErrMatchFull
	}
}
