package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

const waitTimeout = 5 * time.Second

type repoFactory func(t *testing.T) (context.Context, MatchRepository)

// sequenceIDs returns a generator that hands out the given ids in order.
func sequenceIDs(ids ...string) func() string {
	var (
		mu   sync.Mutex
		next int
	)

	return func() string {
		mu.Lock()
		defer mu.Unlock()

		id := ids[next%len(ids)]
		next++

		return id
	}
}

func receive(t *testing.T, updates <-chan *entity.MatchState) *entity.MatchState {
	t.Helper()

	select {
	case state := <-updates:
		return state
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for match update")
		return nil
	}
}

func runMatchRepositoryContract(t *testing.T, newRepo repoFactory) {
	t.Run("Create then Get returns the stored document", func(t *testing.T) {
		ctx, repo := newRepo(t)

		// Given: a new match with X claimed
		state := entity.NewMatchState()
		state.PlayerX = "player-x"

		// When: the match is created and read back
		id, version, err := repo.Create(ctx, state)
		require.NoError(t, err)

		stored, storedVersion, err := repo.Get(ctx, id)

		// Then: the document and version round-trip
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, int64(1), version)
		assert.Equal(t, version, storedVersion)
		assert.Equal(t, state, stored)
	})

	t.Run("Get on a missing match returns ErrMatchNotFound", func(t *testing.T) {
		ctx, repo := newRepo(t)

		// When: reading an unknown id
		state, _, err := repo.Get(ctx, "missing")

		// Then: the match is reported as absent
		require.ErrorIs(t, err, apperror.ErrMatchNotFound)
		assert.Nil(t, state)
	})

	t.Run("Put overwrites the whole document", func(t *testing.T) {
		ctx, repo := newRepo(t)

		// Given: an existing match
		id, _, err := repo.Create(ctx, entity.NewMatchState())
		require.NoError(t, err)

		// When: a move is written with Put
		next, err := entity.NewMatchState().ApplyMove(entity.MarkX, 4)
		require.NoError(t, err)

		version, err := repo.Put(ctx, id, next)
		require.NoError(t, err)

		// Then: the new document is stored under the next version
		stored, storedVersion, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
		assert.Equal(t, version, storedVersion)
		assert.Equal(t, next, stored)
	})

	t.Run("CompareAndSwap rejects a stale version", func(t *testing.T) {
		ctx, repo := newRepo(t)

		// Given: a match that was already updated once
		initial := entity.NewMatchState()
		id, version, err := repo.Create(ctx, initial)
		require.NoError(t, err)

		first, err := initial.ApplyMove(entity.MarkX, 0)
		require.NoError(t, err)
		_, err = repo.CompareAndSwap(ctx, id, version, first)
		require.NoError(t, err)

		// When: a writer still holding the original version tries to write
		clobber, err := initial.ApplyMove(entity.MarkX, 8)
		require.NoError(t, err)
		_, err = repo.CompareAndSwap(ctx, id, version, clobber)

		// Then: the write is rejected and the first move survives
		require.ErrorIs(t, err, ErrVersionConflict)

		stored, storedVersion, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, first, stored)
		assert.Equal(t, version+1, storedVersion)
	})

	t.Run("CompareAndSwap on a missing match returns ErrMatchNotFound", func(t *testing.T) {
		ctx, repo := newRepo(t)

		_, err := repo.CompareAndSwap(ctx, "missing", 1, entity.NewMatchState())

		require.ErrorIs(t, err, apperror.ErrMatchNotFound)
	})

	t.Run("Subscribe delivers the current document and every later write", func(t *testing.T) {
		ctx, repo := newRepo(t)

		// Given: an existing match and a subscriber
		initial := entity.NewMatchState()
		id, version, err := repo.Create(ctx, initial)
		require.NoError(t, err)

		updates := make(chan *entity.MatchState, 8)
		unsubscribe, err := repo.Subscribe(ctx, id, func(state *entity.MatchState) {
			updates <- state
		})
		require.NoError(t, err)
		defer unsubscribe()

		// Then: the current document arrives first
		assert.Equal(t, initial, receive(t, updates))

		// When: two moves are committed
		first, err := initial.ApplyMove(entity.MarkX, 4)
		require.NoError(t, err)
		version, err = repo.CompareAndSwap(ctx, id, version, first)
		require.NoError(t, err)

		second, err := first.ApplyMove(entity.MarkO, 0)
		require.NoError(t, err)
		_, err = repo.CompareAndSwap(ctx, id, version, second)
		require.NoError(t, err)

		// Then: both arrive in commit order
		assert.Equal(t, first, receive(t, updates))
		assert.Equal(t, second, receive(t, updates))
	})

	t.Run("Subscribe stops after unsubscribe", func(t *testing.T) {
		ctx, repo := newRepo(t)

		id, _, err := repo.Create(ctx, entity.NewMatchState())
		require.NoError(t, err)

		updates := make(chan *entity.MatchState, 8)
		unsubscribe, err := repo.Subscribe(ctx, id, func(state *entity.MatchState) {
			updates <- state
		})
		require.NoError(t, err)
		receive(t, updates)

		// When: the subscriber leaves and a write happens afterwards
		unsubscribe()

		next, err := entity.NewMatchState().ApplyMove(entity.MarkX, 1)
		require.NoError(t, err)
		_, err = repo.Put(ctx, id, next)
		require.NoError(t, err)

		// Then: nothing more is delivered
		select {
		case state := <-updates:
			t.Fatalf("unexpected update after unsubscribe: %+v", state)
		case <-time.After(200 * time.Millisecond):
		}
	})

	t.Run("Subscribe on a missing match returns ErrMatchNotFound", func(t *testing.T) {
		ctx, repo := newRepo(t)

		_, err := repo.Subscribe(ctx, "missing", func(*entity.MatchState) {})

		require.ErrorIs(t, err, apperror.ErrMatchNotFound)
	})
}
