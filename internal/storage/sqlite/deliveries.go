package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/dot-do/todo/internal/storage"
)

// SeenDelivery reports whether a webhook delivery id has been recorded.
func (s *Store) SeenDelivery(ctx context.Context, deliveryID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM webhook_deliveries WHERE delivery_id = ?
	`, deliveryID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check delivery %s: %w", deliveryID, err)
	}
	return count > 0, nil
}

// MarkDelivery records a delivery id in the dedup set. Recording the same
// id twice returns ErrDuplicateDelivery, which serializes racing handlers
// for one delivery: exactly one wins the insert.
func (s *Store) MarkDelivery(ctx context.Context, deliveryID string, receivedAt time.Time) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO webhook_deliveries (delivery_id, received_at, processed_at)
		VALUES (?, ?, ?)
	`, deliveryID, receivedAt.UTC(), now)
	if err != nil {
		return fmt.Errorf("failed to mark delivery %s: %w", deliveryID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrDuplicateDelivery
	}
	return nil
}

// PruneDeliveries removes dedup rows older than the cutoff and returns the
// number pruned. Called opportunistically on ingest (30-day TTL).
func (s *Store) PruneDeliveries(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM webhook_deliveries WHERE received_at < ?
	`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
