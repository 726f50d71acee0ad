package merge

import (
	"sort"

	"github.com/shiftsync/shiftsync/internal/core/sync"
)

// Table sub-key fields. A shift entry looks like:
//
//	{meta: {...}, members: [...], buckets: [...],
//	 assignments: [{id, assignee, bucket, confirmedAt, confirmedBy, ...}],
//	 tallies: {assignee: {bucket: n}}}
const (
	fieldMeta        = "meta"
	fieldMembers     = "members"
	fieldBuckets     = "buckets"
	fieldAssignments = "assignments"
	fieldTallies     = "tallies"
	fieldAssignee    = "assignee"
	fieldBucket      = "bucket"
	fieldConfirmedAt = "confirmedAt"
	fieldConfirmedBy = "confirmedBy"
)

// MergeTable merges the nested per-shift mailbox structure. For each shift
// present on either side: meta is object-merged, members and buckets are
// taken from incoming when present, and assignments are merged by identifier
// with an earliest-confirmedAt tie-break. The tallies index is always
// rebuilt from the merged assignment list, never merged.
func MergeTable(existing, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))

	shiftKeys := make(map[string]bool, len(existing)+len(incoming))
	for k := range existing {
		shiftKeys[k] = true
	}
	for k := range incoming {
		shiftKeys[k] = true
	}

	for shiftKey := range shiftKeys {
		ex := asObject(existing[shiftKey])
		in := asObject(incoming[shiftKey])

		switch {
		case ex == nil && in == nil:
			continue
		case ex == nil:
			ex = map[string]any{}
		case in == nil:
			in = map[string]any{}
		}

		merged := map[string]any{}

		if meta := MergeObjects(asObject(ex[fieldMeta]), asObject(in[fieldMeta])); len(meta) > 0 {
			merged[fieldMeta] = meta
		}
		if v := pickList(in[fieldMembers], ex[fieldMembers]); v != nil {
			merged[fieldMembers] = v
		}
		if v := pickList(in[fieldBuckets], ex[fieldBuckets]); v != nil {
			merged[fieldBuckets] = v
		}

		assignments := mergeAssignments(asList(ex[fieldAssignments]), asList(in[fieldAssignments]))
		merged[fieldAssignments] = assignments
		merged[fieldTallies] = rebuildTallies(assignments)

		out[shiftKey] = merged
	}

	return out
}

// mergeAssignments merges by identifier. When both sides carry a confirmedAt
// for the same assignment, the earlier timestamp wins together with its
// confirmer identity: the first confirmation is authoritative and a later
// duplicate must not overwrite it.
func mergeAssignments(existing, incoming []any) []any {
	index := make(map[string]map[string]any, len(existing))
	order := make([]string, 0, len(existing)+len(incoming))

	for _, raw := range existing {
		item := asObject(raw)
		if item == nil {
			continue
		}
		id := sync.ItemID(item)
		if id == "" {
			continue
		}
		if _, seen := index[id]; !seen {
			order = append(order, id)
		}
		index[id] = item
	}

	for _, raw := range incoming {
		item := asObject(raw)
		if item == nil {
			continue
		}
		id := sync.ItemID(item)
		if id == "" {
			continue
		}
		base, seen := index[id]
		if !seen {
			index[id] = item
			order = append(order, id)
			continue
		}

		keepAt, keepBy, hasKeep := earliestConfirmation(base, item)
		for k, v := range item {
			base[k] = v
		}
		if hasKeep {
			base[fieldConfirmedAt] = keepAt
			if keepBy != nil {
				base[fieldConfirmedBy] = keepBy
			} else {
				delete(base, fieldConfirmedBy)
			}
		}
	}

	out := make([]any, 0, len(order))
	for _, id := range order {
		out = append(out, index[id])
	}
	return out
}

// earliestConfirmation returns the confirmedAt/confirmedBy pair that must
// survive the merge, or hasKeep=false when no tie-break applies (fewer than
// two confirmations present).
func earliestConfirmation(a, b map[string]any) (at any, by any, hasKeep bool) {
	aAt, aHas := a[fieldConfirmedAt]
	bAt, bHas := b[fieldConfirmedAt]

	switch {
	case aHas && bHas:
		if confirmedBefore(aAt, bAt) {
			return aAt, a[fieldConfirmedBy], true
		}
		return bAt, b[fieldConfirmedBy], true
	case aHas:
		return aAt, a[fieldConfirmedBy], true
	default:
		// zero or one confirmation on the incoming side; the plain
		// shallow-merge already yields the right result
		return nil, nil, false
	}
}

// confirmedBefore reports whether timestamp a sorts at or before b.
// Numeric timestamps (epoch millis) compare numerically, strings compare
// lexically (RFC 3339 sorts chronologically). Ties and incomparable shapes
// count as before, so the existing side keeps its confirmer regardless of
// merge order.
func confirmedBefore(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af <= bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as <= bs
	}
	return true
}

// rebuildTallies recomputes the derived assignee → bucket → count index.
func rebuildTallies(assignments []any) map[string]any {
	counts := map[string]map[string]int{}
	for _, raw := range assignments {
		item := asObject(raw)
		if item == nil {
			continue
		}
		assignee, _ := item[fieldAssignee].(string)
		bucket, _ := item[fieldBucket].(string)
		if assignee == "" || bucket == "" {
			continue
		}
		if counts[assignee] == nil {
			counts[assignee] = map[string]int{}
		}
		counts[assignee][bucket]++
	}

	out := make(map[string]any, len(counts))
	assignees := make([]string, 0, len(counts))
	for a := range counts {
		assignees = append(assignees, a)
	}
	sort.Strings(assignees)
	for _, a := range assignees {
		buckets := make(map[string]any, len(counts[a]))
		for b, n := range counts[a] {
			buckets[b] = n
		}
		out[a] = buckets
	}
	return out
}

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

// pickList prefers the incoming list when present, else the existing one.
func pickList(incoming, existing any) []any {
	if l, ok := incoming.([]any); ok {
		return l
	}
	if l, ok := existing.([]any); ok {
		return l
	}
	return nil
}
