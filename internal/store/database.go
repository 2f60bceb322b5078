package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"insurance-assistant/internal/db"
)

// DatabaseStore stores transcripts in SQLite or PostgreSQL.
type DatabaseStore struct {
	db  *db.DB
	now func() time.Time
}

var _ Store = (*DatabaseStore)(nil)

// NewDatabaseStore creates a new database store. Migrations must already be applied.
func NewDatabaseStore(database *db.DB) *DatabaseStore {
	return &DatabaseStore{db: database, now: time.Now}
}

func (ds *DatabaseStore) Create(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	query := ds.db.Rebind(`
		INSERT INTO chat_sessions (id, created_at, expires_at)
		VALUES (?, ?, ?)
	`)
	if _, err := ds.db.ExecContext(ctx, query, sessionID, ds.now().UTC(), expiresAt.UTC()); err != nil {
		return fmt.Errorf("%w: create session: %w", ErrSessionUnavailable, err)
	}
	return nil
}

func (ds *DatabaseStore) Lookup(ctx context.Context, sessionID string) (Session, error) {
	s, err := ds.lookup(ctx, ds.db.DB, sessionID)
	if err != nil {
		return Session{}, err
	}
	if s.Expired(ds.now()) {
		return Session{}, ErrSessionExpired
	}
	return s, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (ds *DatabaseStore) lookup(ctx context.Context, q queryRower, sessionID string) (Session, error) {
	var s Session
	query := ds.db.Rebind(`
		SELECT id, created_at, expires_at
		FROM chat_sessions
		WHERE id = ?
	`)
	err := q.QueryRowContext(ctx, query, sessionID).Scan(&s.ID, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: lookup session: %w", ErrSessionUnavailable, err)
	}
	return s, nil
}

func (ds *DatabaseStore) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	s, err := ds.lookup(ctx, ds.db.DB, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return []Turn{}, nil
	}
	if err != nil {
		return nil, err
	}
	if s.Expired(ds.now()) {
		return nil, ErrSessionExpired
	}

	query := ds.db.Rebind(`
		SELECT role, text, created_at
		FROM chat_turns
		WHERE session_id = ?
		ORDER BY id ASC
	`)
	rows, err := ds.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load turns: %w", ErrSessionUnavailable, err)
	}
	defer rows.Close()

	turns := make([]Turn, 0)
	for rows.Next() {
		var t Turn
		var role string
		if err := rows.Scan(&role, &t.Text, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan turn: %w", ErrSessionUnavailable, err)
		}
		t.Role = Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load turns: %w", ErrSessionUnavailable, err)
	}
	return turns, nil
}

func (ds *DatabaseStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if err := validateTurns(turns); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	now := ds.now()
	stamped := stamp(turns, now)
	insert := ds.db.Rebind(`
		INSERT INTO chat_turns (session_id, role, text, created_at)
		VALUES (?, ?, ?, ?)
	`)

	err := ds.db.InTx(ctx, func(tx *sql.Tx) error {
		s, err := ds.lookup(ctx, tx, sessionID)
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionExpired
		}
		if err != nil {
			return err
		}
		if s.Expired(now) {
			return ErrSessionExpired
		}
		for _, t := range stamped {
			if _, err := tx.ExecContext(ctx, insert, sessionID, string(t.Role), t.Text, t.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("%w: insert turn: %w", ErrSessionUnavailable, err)
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrSessionUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
}

// Destroy removes the session; turns go with it through ON DELETE CASCADE.
func (ds *DatabaseStore) Destroy(ctx context.Context, sessionID string) error {
	err := ds.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ds.db.Rebind(`DELETE FROM chat_turns WHERE session_id = ?`), sessionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, ds.db.Rebind(`DELETE FROM chat_sessions WHERE id = ?`), sessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: destroy session: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (ds *DatabaseStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	var purged int64
	err := ds.db.InTx(ctx, func(tx *sql.Tx) error {
		cutoff := now.UTC()
		if _, err := tx.ExecContext(ctx, ds.db.Rebind(`
			DELETE FROM chat_turns
			WHERE session_id IN (SELECT id FROM chat_sessions WHERE expires_at <= ?)
		`), cutoff); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, ds.db.Rebind(`DELETE FROM chat_sessions WHERE expires_at <= ?`), cutoff)
		if err != nil {
			return err
		}
		purged, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: purge expired sessions: %w", ErrStoreUnavailable, err)
	}
	return int(purged), nil
}
