package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

var ErrVersionConflict = errors.New("match version conflict")

// maxCreateAttempts bounds the retries when a generated key is already taken.
const maxCreateAttempts = 5

// Listener receives match documents pushed by a subscription.
type Listener func(state *entity.MatchState)

// MatchRepository is the external document store holding one document per match.
// Every write replaces the whole document and bumps its version.
type MatchRepository interface {
	// Create stores state under a freshly generated unique key.
	Create(ctx context.Context, state *entity.MatchState) (string, int64, error)
	// Get returns apperror.ErrMatchNotFound when the match does not exist.
	Get(ctx context.Context, id string) (*entity.MatchState, int64, error)
	// Put overwrites the document unconditionally.
	Put(ctx context.Context, id string, state *entity.MatchState) (int64, error)
	// CompareAndSwap overwrites the document only while its version still equals
	// expected, and returns ErrVersionConflict otherwise.
	CompareAndSwap(ctx context.Context, id string, expected int64, state *entity.MatchState) (int64, error)
	// Subscribe calls listener with the current document and then once per
	// committed write, in commit order, until unsubscribe is called or ctx ends.
	Subscribe(ctx context.Context, id string, listener Listener) (func(), error)
	Close() error
}

// snapshot is the payload published on every committed write.
type snapshot struct {
	Version int64              `json:"version"`
	Match   *entity.MatchState `json:"match"`
}

func encodeMatch(state *entity.MatchState) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("could not marshal match: %w", err)
	}

	return data, nil
}

func decodeMatch(data []byte) (*entity.MatchState, error) {
	var state entity.MatchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal match: %w", apperror.ErrCorruptState, err)
	}

	if err := state.Validate(); err != nil {
		return nil, err
	}

	return &state, nil
}

// decodeSnapshot parses a published update and validates the match it carries.
func decodeSnapshot(data []byte) (snapshot, error) {
	var raw struct {
		Version int64           `json:"version"`
		Match   json.RawMessage `json:"match"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return snapshot{}, fmt.Errorf("%w: failed to unmarshal update: %w", apperror.ErrCorruptState, err)
	}

	if len(raw.Match) == 0 || string(raw.Match) == "null" {
		return snapshot{}, fmt.Errorf("%w: update without a match", apperror.ErrCorruptState)
	}

	state, err := decodeMatch(raw.Match)
	if err != nil {
		return snapshot{}, err
	}

	return snapshot{Version: raw.Version, Match: state}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", apperror.ErrStoreUnavailable, op, err)
}
