package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func item(id string, extra map[string]any) map[string]any {
	m := map[string]any{"id": id}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func TestMergeArrays_RemovalPrecedence(t *testing.T) {
	existing := []any{item("1", nil), item("2", nil)}
	incoming := []any{
		item("1", map[string]any{"x": float64(2)}),
		item("2", map[string]any{"x": float64(9)}),
	}

	got := MergeArrays(existing, incoming, []string{"2"})

	assert.Len(t, got, 1)
	assert.Equal(t, map[string]any{"id": "1", "x": float64(2)}, got[0])
}

func TestMergeArrays_ShallowMergeAndAppend(t *testing.T) {
	existing := []any{item("a", map[string]any{"status": "PENDING", "owner": "kim"})}
	incoming := []any{
		item("a", map[string]any{"status": "OPEN"}),
		item("b", map[string]any{"status": "NEW"}),
	}

	got := MergeArrays(existing, incoming, nil)

	assert.Len(t, got, 2)
	first := got[0].(map[string]any)
	assert.Equal(t, "OPEN", first["status"])
	assert.Equal(t, "kim", first["owner"], "untouched fields survive the shallow merge")
	assert.Equal(t, "b", got[1].(map[string]any)["id"])
}

func TestMergeArrays_Idempotent(t *testing.T) {
	existing := []any{item("1", map[string]any{"v": float64(1)})}
	incoming := []any{item("1", map[string]any{"v": float64(2)}), item("2", nil)}

	once := MergeArrays(existing, incoming, []string{"9"})
	twice := MergeArrays(once, incoming, []string{"9"})

	assert.Equal(t, once, twice)
}

func TestMergeArrays_CaseNoIdentity(t *testing.T) {
	existing := []any{map[string]any{"caseNo": "c-7", "status": "PENDING"}}
	incoming := []any{map[string]any{"case_no": "c-7", "status": "OPEN"}}

	got := MergeArrays(existing, incoming, nil)

	assert.Len(t, got, 1)
	assert.Equal(t, "OPEN", got[0].(map[string]any)["status"])
}

func TestMergeArrays_UnidentifiableItemsKept(t *testing.T) {
	existing := []any{"free-text-note", item("1", nil)}
	incoming := []any{item("1", map[string]any{"x": float64(1)})}

	got := MergeArrays(existing, incoming, nil)

	assert.Len(t, got, 2)
	assert.Equal(t, "free-text-note", got[0])
}

func TestMergeArrays_NilExisting(t *testing.T) {
	incoming := []any{item("n1", nil)}

	got := MergeArrays(nil, incoming, nil)

	assert.Len(t, got, 1)
}

func TestMergeObjects_IncomingWins(t *testing.T) {
	existing := map[string]any{"theme": "dark", "locale": "de"}
	incoming := map[string]any{"theme": "light", "accent": "blue"}

	got := MergeObjects(existing, incoming)

	assert.Equal(t, map[string]any{
		"theme":  "light",
		"locale": "de",
		"accent": "blue",
	}, got)
}
