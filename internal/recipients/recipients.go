// Package recipients computes who receives a slot's delivery.
package recipients

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/ibeckermayer/newsdigest/internal/types"
)

// PreferenceSource returns stored preferences for the given identities.
// Identities without a stored row must be absent from the result.
type PreferenceSource interface {
	LookupPreferences(ctx context.Context, identities []string) (map[string]types.Preference, error)
}

// Resolver intersects a static allow-list with stored preferences.
type Resolver struct {
	allowList   []string
	defaultSlot types.Slot
	prefs       PreferenceSource
}

// NewResolver creates a Resolver. defaultSlot applies to allow-listed
// identities that have no stored preference.
func NewResolver(allowList []string, defaultSlot types.Slot, prefs PreferenceSource) *Resolver {
	return &Resolver{
		allowList:   normalize(allowList),
		defaultSlot: defaultSlot,
		prefs:       prefs,
	}
}

// AllowList returns the normalised allow-list.
func (r *Resolver) AllowList() []string {
	return append([]string(nil), r.allowList...)
}

// Resolve returns the sorted, duplicate-free identities due for slot.
func (r *Resolver) Resolve(ctx context.Context, slot types.Slot) ([]string, error) {
	if len(r.allowList) == 0 {
		return []string{}, nil
	}
	prefs, err := r.prefs.LookupPreferences(ctx, r.allowList)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	return Select(r.allowList, prefs, slot, r.defaultSlot), nil
}

// Select is the pure resolution rule: an allow-listed identity is due when
// its stored preference is subscribed to slot, or when it has no stored
// preference and slot is the default slot.
func Select(allowList []string, prefs map[string]types.Preference, slot, defaultSlot types.Slot) []string {
	return lo.Filter(normalize(allowList), func(identity string, _ int) bool {
		p, ok := prefs[identity]
		if !ok {
			return slot == defaultSlot
		}
		return p.Subscribed && p.PreferredSlot == slot
	})
}

func normalize(ids []string) []string {
	out := lo.Uniq(lo.Filter(lo.Map(ids, func(id string, _ int) string {
		return types.NormalizeIdentity(id)
	}), func(id string, _ int) bool {
		return id != ""
	}))
	sort.Strings(out)
	return out
}
