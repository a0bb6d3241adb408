package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/ibeckermayer/newsdigest/internal/types"
)

// RecordDelivery appends one delivery attempt. Retries add rows; existing
// rows are never updated.
func (s *Store) RecordDelivery(ctx context.Context, rec types.DeliveryRecord) (types.DeliveryRecord, error) {
	rec.Identity = types.NormalizeIdentity(rec.Identity)
	if rec.AttemptedAt.IsZero() {
		rec.AttemptedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_records (summary_id, identity, outcome, detail, attempted_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.SummaryID, rec.Identity, string(rec.Outcome), rec.Detail, toMillis(rec.AttemptedAt))
	if err != nil {
		return types.DeliveryRecord{}, fmt.Errorf("record delivery: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return types.DeliveryRecord{}, fmt.Errorf("record delivery id: %w", err)
	}
	return rec, nil
}

// ListDeliveries returns every attempt for a summary in insertion order.
func (s *Store) ListDeliveries(ctx context.Context, summaryID int64) ([]types.DeliveryRecord, error) {
	query, args, err := sq.Select("id", "summary_id", "identity", "outcome", "detail", "attempted_at").
		From("delivery_records").
		Where(sq.Eq{"summary_id": summaryID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []types.DeliveryRecord
	for rows.Next() {
		var rec types.DeliveryRecord
		var outcome string
		var attempted int64
		if err := rows.Scan(&rec.ID, &rec.SummaryID, &rec.Identity, &outcome, &rec.Detail, &attempted); err != nil {
			return nil, err
		}
		rec.Outcome = types.DeliveryOutcome(outcome)
		rec.AttemptedAt = fromMillis(attempted)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delivered reports whether identity already has a successful delivery
// for the summary.
func (s *Store) Delivered(ctx context.Context, summaryID int64, identity string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM delivery_records
			WHERE summary_id = ? AND identity = ? AND outcome = ?
		)
	`, summaryID, types.NormalizeIdentity(identity), string(types.Delivered)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check delivered: %w", err)
	}
	return exists, nil
}
