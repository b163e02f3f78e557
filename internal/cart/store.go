package cart

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/padifield/ricemart/internal/domain"
)

// SnapshotStore persists one serialized cart per session under a well-known
// key. The cart is written after every mutation and rehydrated on every
// read; derived totals are recomputed on load and never trusted from the
// stored payload.
type SnapshotStore interface {
	Load(ctx context.Context, sessionID string) (*domain.Cart, error)
	Save(ctx context.Context, sessionID string, cart *domain.Cart) error
	Delete(ctx context.Context, sessionID string) error
}

type PostgresSnapshotStore struct {
	db *sql.DB
}

func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

func (s *PostgresSnapshotStore) Load(ctx context.Context, sessionID string) (*domain.Cart, error) {
	var payload []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT payload
		FROM cart_snapshots
		WHERE session_id = $1
	`, sessionID).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	cart := &domain.Cart{}
	if err := json.Unmarshal(payload, cart); err != nil {
		return nil, fmt.Errorf("decode cart snapshot for session %s: %w", sessionID, err)
	}
	cart.Recalculate()

	return cart, nil
}

func (s *PostgresSnapshotStore) Save(ctx context.Context, sessionID string, cart *domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart snapshot for session %s: %w", sessionID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cart_snapshots (session_id, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()
	`, sessionID, payload)
	return err
}

func (s *PostgresSnapshotStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cart_snapshots
		WHERE session_id = $1
	`, sessionID)
	return err
}
