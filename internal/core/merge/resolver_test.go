package merge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftsync/shiftsync/internal/auth"
	"github.com/shiftsync/shiftsync/internal/core/store"
	"github.com/shiftsync/shiftsync/internal/core/sync"
)

func newTestResolver() (*Resolver, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewResolver(st, nil), st
}

func admin() auth.Identity {
	return auth.Identity{UserID: "u-admin", Name: "Admin", Role: auth.RoleAdmin}
}

func TestResolverPush_RejectsUnknownKey(t *testing.T) {
	r, _ := newTestResolver()

	_, err := r.Push(context.Background(), sync.PushRequest{
		Key: "not_a_key", Value: json.RawMessage(`[]`), Op: sync.OpMerge,
	}, admin())

	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestResolverPush_RejectsMemberOnRestrictedKey(t *testing.T) {
	r, _ := newTestResolver()
	member := auth.Identity{UserID: "u-1", Role: auth.RoleMember}

	_, err := r.Push(context.Background(), sync.PushRequest{
		Key: sync.KeySiteSettings, Value: json.RawMessage(`{}`), Op: sync.OpMerge,
	}, member)

	assert.ErrorIs(t, err, ErrForbidden)
}

func TestResolverPush_MemberMayWriteCollaborativeKey(t *testing.T) {
	r, _ := newTestResolver()
	member := auth.Identity{UserID: "u-1", Name: "Kim", Role: auth.RoleMember}

	doc, err := r.Push(context.Background(), sync.PushRequest{
		Key:      sync.KeyAttendanceMarks,
		Value:    json.RawMessage(`[{"id":"m1","state":"present"}]`),
		Op:       sync.OpMerge,
		ClientID: "c-1",
	}, member)

	require.NoError(t, err)
	assert.Equal(t, "u-1", doc.UpdatedByUserID)
	assert.Equal(t, "c-1", doc.UpdatedByClientID)
	assert.False(t, doc.UpdatedAt.IsZero())
}

func TestResolverPush_SetWritesVerbatim(t *testing.T) {
	r, st := newTestResolver()
	_, err := r.Push(context.Background(), sync.PushRequest{
		Key:   sync.KeyThemeSettings,
		Value: json.RawMessage(`{"theme":"dark"}`),
		Op:    sync.OpMerge,
	}, admin())
	require.NoError(t, err)

	// a second merge against the stored object keeps untouched fields,
	// but Op=set replaces the document wholesale
	doc, err := r.Push(context.Background(), sync.PushRequest{
		Key:   sync.KeyThemeSettings,
		Value: json.RawMessage(`{"accent":"blue"}`),
		Op:    sync.OpSet,
	}, admin())
	require.NoError(t, err)
	assert.JSONEq(t, `{"accent":"blue"}`, string(doc.Value))

	stored, err := st.Get(context.Background(), sync.KeyThemeSettings)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accent":"blue"}`, string(stored.Value))
}

func TestResolverPush_ArrayMergeWithRemovals(t *testing.T) {
	r, _ := newTestResolver()
	ctx := context.Background()

	_, err := r.Push(ctx, sync.PushRequest{
		Key:   sync.KeyUmsCases,
		Value: json.RawMessage(`[{"caseNo":"c1","status":"OPEN"},{"caseNo":"c2","status":"OPEN"}]`),
		Op:    sync.OpMerge,
	}, admin())
	require.NoError(t, err)

	doc, err := r.Push(ctx, sync.PushRequest{
		Key:        sync.KeyUmsCases,
		Value:      json.RawMessage(`[{"caseNo":"c1","status":"CLOSED"}]`),
		Op:         sync.OpMerge,
		RemovedIDs: []string{"c2"},
	}, admin())
	require.NoError(t, err)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(doc.Value, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "c1", items[0]["caseNo"])
	assert.Equal(t, "CLOSED", items[0]["status"])
}

func TestResolverPush_MergeAgainstMissingDocument(t *testing.T) {
	r, _ := newTestResolver()

	doc, err := r.Push(context.Background(), sync.PushRequest{
		Key:   sync.KeyAnnouncements,
		Value: json.RawMessage(`[{"id":"a1"}]`),
		Op:    sync.OpMerge,
	}, admin())

	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a1"}]`, string(doc.Value))
}

func TestResolverPush_InvalidShapeForPolicy(t *testing.T) {
	r, _ := newTestResolver()

	_, err := r.Push(context.Background(), sync.PushRequest{
		Key:   sync.KeyAnnouncements,
		Value: json.RawMessage(`{"not":"a list"}`),
		Op:    sync.OpMerge,
	}, admin())

	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestResolverPush_RetriesOnConflict(t *testing.T) {
	st := &conflictingStore{MemoryStore: store.NewMemoryStore(), failures: 2}
	r := NewResolver(st, nil)

	_, err := r.Push(context.Background(), sync.PushRequest{
		Key:   sync.KeyAnnouncements,
		Value: json.RawMessage(`[{"id":"a1"}]`),
		Op:    sync.OpMerge,
	}, admin())

	require.NoError(t, err)
	assert.Equal(t, 0, st.failures)
}

func TestResolverPush_GivesUpAfterRetries(t *testing.T) {
	st := &conflictingStore{MemoryStore: store.NewMemoryStore(), failures: 10}
	r := NewResolver(st, nil)

	_, err := r.Push(context.Background(), sync.PushRequest{
		Key:   sync.KeyAnnouncements,
		Value: json.RawMessage(`[{"id":"a1"}]`),
		Op:    sync.OpMerge,
	}, admin())

	assert.ErrorIs(t, err, store.ErrConflict)
}

// conflictingStore fails the first N conditional upserts to exercise the
// read-merge-write retry loop.
type conflictingStore struct {
	*store.MemoryStore
	failures int
}

func (s *conflictingStore) Upsert(ctx context.Context, doc sync.Document, expected *time.Time) error {
	if expected != nil && s.failures > 0 {
		s.failures--
		return store.ErrConflict
	}
	return s.MemoryStore.Upsert(ctx, doc, expected)
}
