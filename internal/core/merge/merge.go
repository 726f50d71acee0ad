// Package merge implements the per-key merge algorithms and the server-side
// push resolver that applies them.
package merge

import (
	"github.com/shiftsync/shiftsync/internal/core/sync"
)

type arraySlot struct {
	item    map[string]any
	raw     any
	tracked bool
	live    bool
}

// MergeArrays merges two lists of identifiable items. Tombstones are applied
// first and take precedence: an identifier in removedIDs is deleted even if
// the same identifier also appears in incoming. Incoming items with a known
// identifier are shallow-merged onto the existing entry; unknown items are
// appended. Existing order is preserved, appended items follow in incoming
// order. Items without a resolvable identifier are kept but cannot be
// merged or removed.
func MergeArrays(existing, incoming []any, removedIDs []string) []any {
	removed := make(map[string]bool, len(removedIDs))
	for _, id := range removedIDs {
		removed[id] = true
	}

	index := make(map[string]*arraySlot, len(existing))
	order := make([]*arraySlot, 0, len(existing)+len(incoming))

	for _, raw := range existing {
		s := &arraySlot{raw: raw, live: true}
		if item, ok := raw.(map[string]any); ok {
			s.item = item
			s.tracked = true
			if id := sync.ItemID(item); id != "" {
				if removed[id] {
					s.live = false
				}
				index[id] = s
			}
		}
		order = append(order, s)
	}

	for _, raw := range incoming {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id := sync.ItemID(item)
		if id == "" || removed[id] {
			continue
		}
		if s, exists := index[id]; exists {
			for k, v := range item {
				s.item[k] = v
			}
			continue
		}
		s := &arraySlot{item: item, raw: item, tracked: true, live: true}
		index[id] = s
		order = append(order, s)
	}

	out := make([]any, 0, len(order))
	for _, s := range order {
		if !s.live {
			continue
		}
		if s.tracked {
			out = append(out, s.item)
		} else {
			out = append(out, s.raw)
		}
	}
	return out
}

// MergeObjects shallow-merges incoming onto existing. Incoming keys win.
func MergeObjects(existing, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}
