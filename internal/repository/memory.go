package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

type memoryRecord struct {
	state   *entity.MatchState
	version int64
}

type memoryMatch struct {
	mu      sync.Mutex
	matches map[string]memoryRecord
	newID   func() string
	bus     *broadcaster
}

// NewMemoryMatchRepository keeps matches in process memory. Documents are lost
// on restart.
func NewMemoryMatchRepository(newID func() string) MatchRepository {
	return &memoryMatch{
		matches: make(map[string]memoryRecord),
		newID:   newID,
		bus:     newBroadcaster(),
	}
}

func (that *memoryMatch) Create(ctx context.Context, state *entity.MatchState) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, unavailable("create match", err)
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	for range maxCreateAttempts {
		id := that.newID()
		if _, exists := that.matches[id]; exists {
			continue
		}

		that.matches[id] = memoryRecord{state: state.Clone(), version: 1}
		that.bus.publish(id, 1, state)

		return id, 1, nil
	}

	return "", 0, unavailable("create match", fmt.Errorf("no free key after %d attempts", maxCreateAttempts))
}

func (that *memoryMatch) Get(ctx context.Context, id string) (*entity.MatchState, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, unavailable("get match", err)
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	record, ok := that.matches[id]
	if !ok {
		return nil, 0, apperror.ErrMatchNotFound
	}

	return record.state.Clone(), record.version, nil
}

func (that *memoryMatch) Put(ctx context.Context, id string, state *entity.MatchState) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("put match", err)
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	version := that.matches[id].version + 1
	that.matches[id] = memoryRecord{state: state.Clone(), version: version}
	that.bus.publish(id, version, state)

	return version, nil
}

func (that *memoryMatch) CompareAndSwap(ctx context.Context, id string, expected int64, state *entity.MatchState) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("update match", err)
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	record, ok := that.matches[id]
	if !ok {
		return 0, apperror.ErrMatchNotFound
	}

	if record.version != expected {
		return 0, fmt.Errorf("%w: expected %d, stored %d", ErrVersionConflict, expected, record.version)
	}

	version := record.version + 1
	that.matches[id] = memoryRecord{state: state.Clone(), version: version}
	that.bus.publish(id, version, state)

	return version, nil
}

func (that *memoryMatch) Subscribe(ctx context.Context, id string, listener Listener) (func(), error) {
	sub, unsubscribe := that.bus.subscribe(id, listener)

	state, version, err := that.Get(ctx, id)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	sub.push(version, state)
	stop := context.AfterFunc(ctx, unsubscribe)

	return func() {
		stop()
		unsubscribe()
	}, nil
}

func (that *memoryMatch) Close() error {
	that.bus.closeAll()

	return nil
}
