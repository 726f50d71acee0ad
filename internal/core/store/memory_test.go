package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftsync/shiftsync/internal/core/sync"
)

func doc(key sync.Key, value string, at time.Time) sync.Document {
	return sync.Document{Key: key, Value: json.RawMessage(value), UpdatedAt: at}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	st := NewMemoryStore()

	_, err := st.Get(context.Background(), sync.KeyAnnouncements)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpsertUnconditional(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	at := time.Now().UTC()

	require.NoError(t, st.Upsert(ctx, doc(sync.KeyReminders, `[]`, at), nil))
	require.NoError(t, st.Upsert(ctx, doc(sync.KeyReminders, `[{"id":"r1"}]`, at.Add(time.Second)), nil))

	got, err := st.Get(ctx, sync.KeyReminders)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"r1"}]`, string(got.Value))
}

func TestMemoryStore_UpsertCompareAndSet(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	at := time.Now().UTC()

	// zero expected means the document must not exist yet
	var zero time.Time
	require.NoError(t, st.Upsert(ctx, doc(sync.KeyAbsences, `[]`, at), &zero))
	assert.ErrorIs(t, st.Upsert(ctx, doc(sync.KeyAbsences, `[]`, at), &zero), ErrConflict)

	// matching timestamp passes, stale timestamp conflicts
	next := at.Add(time.Second)
	require.NoError(t, st.Upsert(ctx, doc(sync.KeyAbsences, `[{"id":"a1"}]`, next), &at))
	assert.ErrorIs(t, st.Upsert(ctx, doc(sync.KeyAbsences, `[]`, next.Add(time.Second)), &at), ErrConflict)
}

func TestMemoryStore_SinceFiltersAndOrders(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, st.Upsert(ctx, doc(sync.KeyAnnouncements, `[]`, base.Add(3*time.Second)), nil))
	require.NoError(t, st.Upsert(ctx, doc(sync.KeyReminders, `[]`, base.Add(time.Second)), nil))
	require.NoError(t, st.Upsert(ctx, doc(sync.KeyAbsences, `[]`, base.Add(2*time.Second)), nil))

	got, err := st.Since(ctx, base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, got, 2, "boundary timestamp itself is excluded")
	assert.Equal(t, sync.KeyAbsences, got[0].Key)
	assert.Equal(t, sync.KeyAnnouncements, got[1].Key)
}

func TestMemoryStore_ValueIsolation(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	original := json.RawMessage(`[{"id":"x"}]`)
	require.NoError(t, st.Upsert(ctx, sync.Document{Key: sync.KeyLocations, Value: original, UpdatedAt: time.Now()}, nil))
	original[2] = 'X'

	got, err := st.Get(ctx, sync.KeyLocations)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"x"}]`, string(got.Value))
}
