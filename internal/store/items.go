package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ibeckermayer/newsdigest/internal/errs"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// PutResult reports what PutItem did.
type PutResult string

const (
	Inserted       PutResult = "inserted"
	AlreadyPresent PutResult = "already_present"
)

var itemColumns = []string{
	"id", "url", "source", "title", "body", "published_at",
	"collected_at", "processed", "blob_ref",
}

// PutItem inserts an item keyed by URL. Re-submitting a stored URL performs
// no write and reports AlreadyPresent.
func (s *Store) PutItem(ctx context.Context, item types.ContentItem) (PutResult, error) {
	if item.URL == "" {
		return "", errs.Validation("put_item", fmt.Errorf("url is required"))
	}
	collected := item.CollectedAt
	if collected.IsZero() {
		collected = s.now()
	}
	var published sql.NullInt64
	if !item.PublishedAt.IsZero() {
		published = sql.NullInt64{Int64: toMillis(item.PublishedAt), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO content_items (url, source, title, body, published_at, collected_at, processed, blob_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING
	`, item.URL, item.Source, item.Title, item.Body, published, toMillis(collected),
		boolInt(item.Processed), item.BlobRef)
	if err != nil {
		return "", fmt.Errorf("insert item %s: %w", item.URL, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("insert item %s: %w", item.URL, err)
	}
	if n == 0 {
		return AlreadyPresent, nil
	}
	return Inserted, nil
}

// ItemExists checks if a URL is already stored
func (s *Store) ItemExists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM content_items WHERE url = ?)`, url).Scan(&exists)
	return exists, err
}

// GetRecentItems returns unprocessed items collected within maxAge, oldest
// first, capped at limit. A non-positive limit means no cap.
func (s *Store) GetRecentItems(ctx context.Context, maxAge time.Duration, limit int) ([]types.ContentItem, error) {
	q := sq.Select(itemColumns...).
		From("content_items").
		Where(sq.Eq{"processed": 0}).
		OrderBy("collected_at ASC", "id ASC")
	if maxAge > 0 {
		q = q.Where(sq.GtOrEq{"collected_at": toMillis(s.now().Add(-maxAge))})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent items query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// GetItemByURL loads one item.
func (s *Store) GetItemByURL(ctx context.Context, url string) (types.ContentItem, error) {
	query, args, err := sq.Select(itemColumns...).From("content_items").Where(sq.Eq{"url": url}).ToSql()
	if err != nil {
		return types.ContentItem{}, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return types.ContentItem{}, err
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return types.ContentItem{}, err
	}
	if len(items) == 0 {
		return types.ContentItem{}, sql.ErrNoRows
	}
	return items[0], nil
}

// CountItems returns the number of stored items.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_items`).Scan(&n)
	return n, err
}

// MarkProcessed flips the processed flag for the given item IDs.
func (s *Store) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sq.Update("content_items").
		Set("processed", 1).
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark processed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func scanItems(rows *sql.Rows) ([]types.ContentItem, error) {
	var items []types.ContentItem
	for rows.Next() {
		var it types.ContentItem
		var published sql.NullInt64
		var collected int64
		var processed int

		if err := rows.Scan(&it.ID, &it.URL, &it.Source, &it.Title, &it.Body, &published,
			&collected, &processed, &it.BlobRef); err != nil {
			return nil, err
		}
		if published.Valid {
			it.PublishedAt = fromMillis(published.Int64)
		}
		it.CollectedAt = fromMillis(collected)
		it.Processed = processed != 0
		items = append(items, it)
	}
	return items, rows.Err()
}
