package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

const (
	fieldDoc     = "doc"
	fieldVersion = "version"

	// maxPutAttempts bounds the optimistic retries of an unconditional overwrite.
	maxPutAttempts = 5
)

var errKeyTaken = errors.New("match key already taken")

type redisMatch struct {
	logger *slog.Logger
	client *redis.Client
	newID  func() string
	ttl    time.Duration
}

// NewRedisMatchRepository stores each match as a hash {doc, version} under
// "match:<id>" and publishes every committed write on "match:<id>:updates".
// A positive ttl is refreshed on every write.
func NewRedisMatchRepository(logger *slog.Logger, client *redis.Client, newID func() string, ttl time.Duration) MatchRepository {
	return &redisMatch{
		logger: logger.With("component", "redis-match-repository"),
		client: client,
		newID:  newID,
		ttl:    ttl,
	}
}

func matchKey(id string) string {
	return "match:" + id
}

func updatesChannel(id string) string {
	return "match:" + id + ":updates"
}

func (that *redisMatch) Create(ctx context.Context, state *entity.MatchState) (string, int64, error) {
	for range maxCreateAttempts {
		id := that.newID()

		err := that.client.Watch(ctx, func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, matchKey(id)).Result()
			if err != nil {
				return err
			}

			if exists > 0 {
				return errKeyTaken
			}

			return that.commit(ctx, tx, id, 1, state)
		}, matchKey(id))

		switch {
		case err == nil:
			return id, 1, nil
		case errors.Is(err, errKeyTaken), errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return "", 0, unavailable("create match", err)
		}
	}

	return "", 0, unavailable("create match", fmt.Errorf("no free key after %d attempts", maxCreateAttempts))
}

func (that *redisMatch) Get(ctx context.Context, id string) (*entity.MatchState, int64, error) {
	return that.read(ctx, that.client, id)
}

func (that *redisMatch) Put(ctx context.Context, id string, state *entity.MatchState) (int64, error) {
	for range maxPutAttempts {
		var version int64

		err := that.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := that.readVersion(ctx, tx, id)
			if err != nil && !errors.Is(err, apperror.ErrMatchNotFound) {
				return err
			}

			version = current + 1

			return that.commit(ctx, tx, id, version, state)
		}, matchKey(id))

		switch {
		case err == nil:
			return version, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return 0, unavailable("put match", err)
		}
	}

	return 0, unavailable("put match", fmt.Errorf("too much contention after %d attempts", maxPutAttempts))
}

func (that *redisMatch) CompareAndSwap(ctx context.Context, id string, expected int64, state *entity.MatchState) (int64, error) {
	version := expected + 1

	err := that.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := that.readVersion(ctx, tx, id)
		if err != nil {
			return err
		}

		if current != expected {
			return fmt.Errorf("%w: expected %d, stored %d", ErrVersionConflict, expected, current)
		}

		return that.commit(ctx, tx, id, version, state)
	}, matchKey(id))

	switch {
	case err == nil:
		return version, nil
	case errors.Is(err, redis.TxFailedErr):
		return 0, fmt.Errorf("%w: concurrent write", ErrVersionConflict)
	case errors.Is(err, ErrVersionConflict), errors.Is(err, apperror.ErrMatchNotFound):
		return 0, err
	default:
		return 0, unavailable("update match", err)
	}
}

func (that *redisMatch) Subscribe(ctx context.Context, id string, listener Listener) (func(), error) {
	log := that.logger.With("method", "Subscribe", "match_id", id)

	pubsub := that.client.Subscribe(ctx, updatesChannel(id))

	// wait for the subscription to be confirmed before reading the current
	// document, otherwise a write in between would be missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable("subscribe to match", err)
	}

	sub := newSubscriber(listener)

	state, version, err := that.Get(ctx, id)
	if err != nil {
		sub.stop()
		_ = pubsub.Close()
		return nil, err
	}

	sub.push(version, state)

	go func() {
		for msg := range pubsub.Channel() {
			snap, err := decodeSnapshot([]byte(msg.Payload))
			if err != nil {
				log.Error("failed to decode match update", "match_id", id, "error", err)
				continue
			}

			sub.push(snap.Version, snap.Match)
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			sub.stop()

			if err := pubsub.Close(); err != nil {
				log.Error("failed to close subscription", "error", err)
			}
		})
	}

	stop := context.AfterFunc(ctx, unsubscribe)

	return func() {
		stop()
		unsubscribe()
	}, nil
}

func (that *redisMatch) Close() error {
	return nil
}

func (that *redisMatch) read(ctx context.Context, cmd redis.Cmdable, id string) (*entity.MatchState, int64, error) {
	values, err := cmd.HMGet(ctx, matchKey(id), fieldDoc, fieldVersion).Result()
	if err != nil {
		return nil, 0, unavailable("get match", err)
	}

	doc, ok := values[0].(string)
	if !ok {
		return nil, 0, apperror.ErrMatchNotFound
	}

	version, err := parseVersion(values[1])
	if err != nil {
		return nil, 0, err
	}

	state, err := decodeMatch([]byte(doc))
	if err != nil {
		return nil, 0, err
	}

	return state, version, nil
}

func (that *redisMatch) readVersion(ctx context.Context, tx *redis.Tx, id string) (int64, error) {
	value, err := tx.HGet(ctx, matchKey(id), fieldVersion).Result()
	if errors.Is(err, redis.Nil) {
		return 0, apperror.ErrMatchNotFound
	}

	if err != nil {
		return 0, err
	}

	return parseVersion(value)
}

// commit writes the document and publishes it in one MULTI/EXEC, so
// subscribers see writes in the order redis applied them.
func (that *redisMatch) commit(ctx context.Context, tx *redis.Tx, id string, version int64, state *entity.MatchState) error {
	doc, err := encodeMatch(state)
	if err != nil {
		return err
	}

	update, err := json.Marshal(snapshot{Version: version, Match: state})
	if err != nil {
		return fmt.Errorf("could not marshal match update: %w", err)
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, matchKey(id), fieldDoc, doc, fieldVersion, version)
		if that.ttl > 0 {
			pipe.Expire(ctx, matchKey(id), that.ttl)
		}
		pipe.Publish(ctx, updatesChannel(id), update)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit match: %w", err)
	}

	return nil
}

func parseVersion(value any) (int64, error) {
	raw, ok := value.(string)
	if !ok {
		return 0, fmt.Errorf("%w: missing version", apperror.ErrCorruptState)
	}

	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad version %q", apperror.ErrCorruptState, raw)
	}

	return version, nil
}
