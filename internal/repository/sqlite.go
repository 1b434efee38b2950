package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

type sqliteMatch struct {
	conn  *sql.DB
	newID func() string
	bus   *broadcaster
}

// NewSQLiteMatchRepository stores matches in the matches table. Subscriptions
// only observe writes made through this process.
func NewSQLiteMatchRepository(conn *sql.DB, newID func() string) MatchRepository {
	return &sqliteMatch{
		conn:  conn,
		newID: newID,
		bus:   newBroadcaster(),
	}
}

func (that *sqliteMatch) Create(ctx context.Context, state *entity.MatchState) (string, int64, error) {
	doc, err := encodeMatch(state)
	if err != nil {
		return "", 0, err
	}

	query := `INSERT INTO matches (id, doc, version, updated_at) VALUES (?, ?, 1, ?)`

	for range maxCreateAttempts {
		id := that.newID()

		_, err = that.conn.ExecContext(ctx, query, id, string(doc), time.Now().UTC().UnixMilli())
		if isUniqueViolation(err) {
			continue
		}

		if err != nil {
			return "", 0, unavailable("create match", err)
		}

		that.bus.publish(id, 1, state)

		return id, 1, nil
	}

	return "", 0, unavailable("create match", fmt.Errorf("no free key after %d attempts", maxCreateAttempts))
}

func (that *sqliteMatch) Get(ctx context.Context, id string) (*entity.MatchState, int64, error) {
	query := `SELECT doc, version FROM matches WHERE id = ?`

	var (
		doc     string
		version int64
	)

	err := that.conn.QueryRowContext(ctx, query, id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, apperror.ErrMatchNotFound
	}

	if err != nil {
		return nil, 0, unavailable("get match", err)
	}

	state, err := decodeMatch([]byte(doc))
	if err != nil {
		return nil, 0, err
	}

	return state, version, nil
}

func (that *sqliteMatch) Put(ctx context.Context, id string, state *entity.MatchState) (int64, error) {
	doc, err := encodeMatch(state)
	if err != nil {
		return 0, err
	}

	query := `INSERT INTO matches (id, doc, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, version = matches.version + 1, updated_at = excluded.updated_at
		RETURNING version`

	var version int64

	err = that.conn.QueryRowContext(ctx, query, id, string(doc), time.Now().UTC().UnixMilli()).Scan(&version)
	if err != nil {
		return 0, unavailable("put match", err)
	}

	that.bus.publish(id, version, state)

	return version, nil
}

func (that *sqliteMatch) CompareAndSwap(ctx context.Context, id string, expected int64, state *entity.MatchState) (int64, error) {
	doc, err := encodeMatch(state)
	if err != nil {
		return 0, err
	}

	query := `UPDATE matches SET doc = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`

	result, err := that.conn.ExecContext(ctx, query, string(doc), time.Now().UTC().UnixMilli(), id, expected)
	if err != nil {
		return 0, unavailable("update match", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("update match", err)
	}

	if affected == 0 {
		if _, _, err = that.Get(ctx, id); err != nil {
			return 0, err
		}

		return 0, fmt.Errorf("%w: expected version %d", ErrVersionConflict, expected)
	}

	version := expected + 1
	that.bus.publish(id, version, state)

	return version, nil
}

func (that *sqliteMatch) Subscribe(ctx context.Context, id string, listener Listener) (func(), error) {
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

func (that *sqliteMatch) Close() error {
	that.bus.closeAll()

	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}

	return false
}
