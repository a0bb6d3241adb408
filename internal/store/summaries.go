package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ibeckermayer/newsdigest/internal/errs"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// PutSummary inserts the summary for (Date, Slot). A second write for the
// same key returns a conflict error and leaves the stored row untouched.
func (s *Store) PutSummary(ctx context.Context, sum types.Summary) (types.Summary, error) {
	if sum.Date == "" || sum.Slot == "" {
		return types.Summary{}, errs.Validation("put_summary", errors.New("date and slot are required"))
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (summary_date, slot, title, summary_text, item_count, theme, blob_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(summary_date, slot) DO NOTHING
	`, sum.Date, string(sum.Slot), sum.Title, sum.Text, sum.ItemCount, sum.Theme, sum.BlobRef, toMillis(sum.CreatedAt))
	if err != nil {
		return types.Summary{}, fmt.Errorf("insert summary: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return types.Summary{}, fmt.Errorf("insert summary: %w", err)
	}
	if n == 0 {
		return types.Summary{}, errs.Conflict("put_summary",
			fmt.Errorf("summary for %s/%s already exists", sum.Date, sum.Slot))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return types.Summary{}, fmt.Errorf("insert summary id: %w", err)
	}
	sum.ID = id
	sum.CreatedAt = fromMillis(toMillis(sum.CreatedAt))
	return sum, nil
}

// GetSummary loads the summary for (date, slot).
func (s *Store) GetSummary(ctx context.Context, date string, slot types.Slot) (types.Summary, bool, error) {
	var sum types.Summary
	var created int64
	var slotName string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, summary_date, slot, title, summary_text, item_count, theme, blob_ref, created_at
		FROM summaries
		WHERE summary_date = ? AND slot = ?
	`, date, string(slot)).Scan(&sum.ID, &sum.Date, &slotName, &sum.Title, &sum.Text,
		&sum.ItemCount, &sum.Theme, &sum.BlobRef, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Summary{}, false, nil
	}
	if err != nil {
		return types.Summary{}, false, fmt.Errorf("get summary: %w", err)
	}

	sum.Slot = types.Slot(slotName)
	sum.CreatedAt = fromMillis(created)
	return sum, true, nil
}
