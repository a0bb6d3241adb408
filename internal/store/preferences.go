package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/ibeckermayer/newsdigest/internal/errs"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// PreferenceUpdate carries the fields to change; nil leaves a field as is.
type PreferenceUpdate struct {
	Subscribed    *bool
	PreferredSlot *types.Slot
}

var preferenceColumns = []string{"identity", "subscribed", "preferred_slot", "created_at", "updated_at"}

// GetPreference returns the stored preference, or the default one
// (subscribed, default slot, zero timestamps) when none exists.
func (s *Store) GetPreference(ctx context.Context, identity string) (types.Preference, error) {
	identity = types.NormalizeIdentity(identity)
	prefs, err := s.LookupPreferences(ctx, []string{identity})
	if err != nil {
		return types.Preference{}, err
	}
	if p, ok := prefs[identity]; ok {
		return p, nil
	}
	return s.defaultPreference(identity), nil
}

// LookupPreferences returns the stored rows for the given identities.
// Identities without a row are absent from the map.
func (s *Store) LookupPreferences(ctx context.Context, identities []string) (map[string]types.Preference, error) {
	out := make(map[string]types.Preference, len(identities))
	if len(identities) == 0 {
		return out, nil
	}

	keys := make([]string, len(identities))
	for i, id := range identities {
		keys[i] = types.NormalizeIdentity(id)
	}

	query, args, err := sq.Select(preferenceColumns...).
		From("preferences").
		Where(sq.Eq{"identity": keys}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build preference query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		out[p.Identity] = p
	}
	return out, rows.Err()
}

// EnsurePreference creates the default row when none exists and returns
// the stored preference.
func (s *Store) EnsurePreference(ctx context.Context, identity string) (types.Preference, error) {
	identity = types.NormalizeIdentity(identity)
	if identity == "" {
		return types.Preference{}, errs.Validation("ensure_preference", errors.New("identity is required"))
	}
	now := toMillis(s.now())

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (identity, subscribed, preferred_slot, created_at, updated_at)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(identity) DO NOTHING
	`, identity, string(s.DefaultSlot()), now, now); err != nil {
		return types.Preference{}, fmt.Errorf("ensure preference: %w", err)
	}

	return s.loadPreference(ctx, identity)
}

// UpsertPreference applies update to the identity's row, creating it from
// defaults first if needed. The change is a single statement.
func (s *Store) UpsertPreference(ctx context.Context, identity string, update PreferenceUpdate) (types.Preference, error) {
	identity = types.NormalizeIdentity(identity)
	if identity == "" {
		return types.Preference{}, errs.Validation("upsert_preference", errors.New("identity is required"))
	}

	var subscribed sql.NullInt64
	if update.Subscribed != nil {
		subscribed = sql.NullInt64{Int64: int64(boolInt(*update.Subscribed)), Valid: true}
	}
	var slot sql.NullString
	if update.PreferredSlot != nil {
		slot = sql.NullString{String: string(*update.PreferredSlot), Valid: true}
	}
	now := toMillis(s.now())

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (identity, subscribed, preferred_slot, created_at, updated_at)
		VALUES (?, COALESCE(?, 1), COALESCE(?, ?), ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			subscribed = COALESCE(?, preferences.subscribed),
			preferred_slot = COALESCE(?, preferences.preferred_slot),
			updated_at = excluded.updated_at
	`, identity, subscribed, slot, string(s.DefaultSlot()), now, now, subscribed, slot); err != nil {
		return types.Preference{}, fmt.Errorf("upsert preference: %w", err)
	}

	return s.loadPreference(ctx, identity)
}

func (s *Store) loadPreference(ctx context.Context, identity string) (types.Preference, error) {
	prefs, err := s.LookupPreferences(ctx, []string{identity})
	if err != nil {
		return types.Preference{}, err
	}
	p, ok := prefs[identity]
	if !ok {
		return types.Preference{}, fmt.Errorf("preference %s: %w", identity, sql.ErrNoRows)
	}
	return p, nil
}

func (s *Store) defaultPreference(identity string) types.Preference {
	return types.Preference{
		Identity:      identity,
		Subscribed:    true,
		PreferredSlot: s.DefaultSlot(),
	}
}

func scanPreference(rows *sql.Rows) (types.Preference, error) {
	var p types.Preference
	var subscribed int
	var slot string
	var created, updated int64
	if err := rows.Scan(&p.Identity, &subscribed, &slot, &created, &updated); err != nil {
		return types.Preference{}, err
	}
	p.Subscribed = subscribed != 0
	p.PreferredSlot = types.Slot(slot)
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}
