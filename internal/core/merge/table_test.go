package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func assignment(id, assignee, bucket string, confirmedAt any, confirmedBy string) map[string]any {
	a := map[string]any{"id": id, "assignee": assignee, "bucket": bucket}
	if confirmedAt != nil {
		a["confirmedAt"] = confirmedAt
	}
	if confirmedBy != "" {
		a["confirmedBy"] = confirmedBy
	}
	return a
}

func TestMergeTable_EarliestConfirmationWins(t *testing.T) {
	existing := map[string]any{
		"2026-08-31_early": map[string]any{
			"assignments": []any{
				assignment("a1", "kim", "sorted", float64(100), "kim"),
			},
		},
	}
	incoming := map[string]any{
		"2026-08-31_early": map[string]any{
			"assignments": []any{
				assignment("a1", "kim", "sorted", float64(50), "lee"),
			},
		},
	}

	got := MergeTable(existing, incoming)

	shift := got["2026-08-31_early"].(map[string]any)
	merged := shift["assignments"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(50), merged["confirmedAt"])
	assert.Equal(t, "lee", merged["confirmedBy"], "the earlier confirmation keeps its confirmer")
}

func TestMergeTable_ConfirmationTieKeepsExisting(t *testing.T) {
	existing := map[string]any{
		"s1": map[string]any{
			"assignments": []any{assignment("a1", "kim", "b1", float64(100), "kim")},
		},
	}
	incoming := map[string]any{
		"s1": map[string]any{
			"assignments": []any{assignment("a1", "kim", "b1", float64(100), "lee")},
		},
	}

	got := MergeTable(existing, incoming)

	merged := got["s1"].(map[string]any)["assignments"].([]any)[0].(map[string]any)
	assert.Equal(t, "kim", merged["confirmedBy"])
}

func TestMergeTable_TalliesAlwaysRebuilt(t *testing.T) {
	existing := map[string]any{
		"s1": map[string]any{
			"assignments": []any{assignment("a1", "kim", "sorted", nil, "")},
			"tallies":     map[string]any{"stale": map[string]any{"junk": float64(99)}},
		},
	}
	incoming := map[string]any{
		"s1": map[string]any{
			"assignments": []any{
				assignment("a2", "kim", "sorted", nil, ""),
				assignment("a3", "lee", "returned", nil, ""),
			},
		},
	}

	got := MergeTable(existing, incoming)

	shift := got["s1"].(map[string]any)
	assert.Equal(t, map[string]any{
		"kim": map[string]any{"sorted": 2},
		"lee": map[string]any{"returned": 1},
	}, shift["tallies"])
}

func TestMergeTable_MembersAndBucketsFromIncoming(t *testing.T) {
	existing := map[string]any{
		"s1": map[string]any{
			"members": []any{"kim"},
			"buckets": []any{"sorted"},
			"meta":    map[string]any{"label": "Early", "room": "A"},
		},
	}
	incoming := map[string]any{
		"s1": map[string]any{
			"members": []any{"kim", "lee"},
			"meta":    map[string]any{"label": "Early shift"},
		},
	}

	got := MergeTable(existing, incoming)

	shift := got["s1"].(map[string]any)
	assert.Equal(t, []any{"kim", "lee"}, shift["members"])
	assert.Equal(t, []any{"sorted"}, shift["buckets"], "absent incoming list keeps the existing one")
	assert.Equal(t, map[string]any{"label": "Early shift", "room": "A"}, shift["meta"])
}

func TestMergeTable_ShiftOnlyOnOneSide(t *testing.T) {
	existing := map[string]any{
		"old": map[string]any{"assignments": []any{assignment("a1", "kim", "b", nil, "")}},
	}
	incoming := map[string]any{
		"new": map[string]any{"assignments": []any{assignment("a2", "lee", "b", nil, "")}},
	}

	got := MergeTable(existing, incoming)

	assert.Len(t, got, 2)
	assert.Contains(t, got, "old")
	assert.Contains(t, got, "new")
}

func TestConfirmedBefore_StringTimestamps(t *testing.T) {
	assert.True(t, confirmedBefore("2026-08-30T10:00:00Z", "2026-08-30T11:00:00Z"))
	assert.False(t, confirmedBefore("2026-08-30T12:00:00Z", "2026-08-30T11:00:00Z"))
	// incomparable shapes fall back to the existing side
	assert.True(t, confirmedBefore("2026-08-30T10:00:00Z", float64(5)))
}
