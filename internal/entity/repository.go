package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists entity states.
type Repository interface {
	// Get returns ErrEntityNotFound when the entity has no stored state.
	Get(ctx context.Context, entityID string) (*State, error)
	List(ctx context.Context) ([]State, error)
	Upsert(ctx context.Context, state *State) error

	// Delete returns ErrEntityNotFound when nothing was removed.
	Delete(ctx context.Context, entityID string) error
}

// SQLiteRepository stores states in the entity_states table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectStates = `SELECT entity_id, state, attributes, last_changed, last_updated FROM entity_states`

// Get retrieves one state.
func (r *SQLiteRepository) Get(ctx context.Context, entityID string) (*State, error) {
	row := r.db.QueryRowContext(ctx, selectStates+` WHERE entity_id = ?`, entityID)
	state, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("querying entity %s: %w", entityID, err)
	}
	return state, nil
}

// List returns all states ordered by entity id.
func (r *SQLiteRepository) List(ctx context.Context) ([]State, error) {
	rows, err := r.db.QueryContext(ctx, selectStates+` ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		state, scanErr := scanState(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning entity: %w", scanErr)
		}
		states = append(states, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return states, nil
}

// Upsert inserts or replaces a state.
func (r *SQLiteRepository) Upsert(ctx context.Context, state *State) error {
	attrs, err := json.Marshal(state.Attributes)
	if err != nil {
		return fmt.Errorf("encoding attributes of %s: %w", state.EntityID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entity_states (entity_id, state, attributes, last_changed, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			state = excluded.state,
			attributes = excluded.attributes,
			last_changed = excluded.last_changed,
			last_updated = excluded.last_updated`,
		state.EntityID,
		state.State,
		string(attrs),
		state.LastChanged.UTC().Format(time.RFC3339Nano),
		state.LastUpdated.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting entity %s: %w", state.EntityID, err)
	}
	return nil
}

// Delete removes a state.
func (r *SQLiteRepository) Delete(ctx context.Context, entityID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM entity_states WHERE entity_id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("deleting entity %s: %w", entityID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrEntityNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*State, error) {
	var (
		s                        State
		attrs                    string
		lastChanged, lastUpdated string
	)
	if err := row.Scan(&s.EntityID, &s.State, &attrs, &lastChanged, &lastUpdated); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(attrs), &s.Attributes); err != nil {
		return nil, fmt.Errorf("decoding attributes of %s: %w", s.EntityID, err)
	}
	if s.Attributes == nil {
		s.Attributes = Attributes{}
	}

	var err error
	if s.LastChanged, err = time.Parse(time.RFC3339Nano, lastChanged); err != nil {
		return nil, fmt.Errorf("parsing last_changed of %s: %w", s.EntityID, err)
	}
	if s.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated); err != nil {
		return nil, fmt.Errorf("parsing last_updated of %s: %w", s.EntityID, err)
	}
	return &s, nil
}
