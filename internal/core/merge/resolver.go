package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shiftsync/shiftsync/internal/auth"
	"github.com/shiftsync/shiftsync/internal/core/observability/log"
	"github.com/shiftsync/shiftsync/internal/core/store"
	"github.com/shiftsync/shiftsync/internal/core/sync"
)

var (
	// ErrInvalidKey means the key is not in the allow-list: a caller bug.
	ErrInvalidKey = errors.New("invalid sync key")
	// ErrForbidden means the caller's role may not write this key.
	ErrForbidden = errors.New("forbidden write")
	// ErrInvalidPayload means the value does not decode to the shape the
	// key's merge policy requires.
	ErrInvalidPayload = errors.New("invalid payload shape")
)

// casRetries bounds the read-merge-write loop when concurrent pushes to the
// same key collide on the UpdatedAt guard.
const casRetries = 3

// Resolver is the server-side push handler: it validates the key and the
// caller's role, applies the key's merge policy against the stored document
// and persists the result with fresh metadata.
type Resolver struct {
	store  store.DocumentStore
	logger log.Log
	now    func() time.Time
}

func NewResolver(st store.DocumentStore, logger log.Log) *Resolver {
	if logger == nil {
		logger = log.Nop()
	}
	return &Resolver{
		store:  st,
		logger: logger.With(log.String("component", "resolver")),
		now:    time.Now,
	}
}

// Push applies one client push and returns the persisted document.
func (r *Resolver) Push(ctx context.Context, req sync.PushRequest, caller auth.Identity) (*sync.Document, error) {
	if !sync.Valid(req.Key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, req.Key)
	}
	if !auth.CanWrite(caller.Role, req.Key) {
		return nil, fmt.Errorf("%w: role %q key %q", ErrForbidden, caller.Role, req.Key)
	}

	if req.Op == sync.OpSet {
		doc := r.stamp(req, req.Value, caller)
		if err := r.store.Upsert(ctx, doc, nil); err != nil {
			return nil, fmt.Errorf("persist %q: %w", req.Key, err)
		}
		return &doc, nil
	}

	// Merge mode: read-merge-write, guarded by a compare-and-set on the
	// stored UpdatedAt so a concurrent push retries against the fresh base
	// instead of silently losing its merge.
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		current, err := r.store.Get(ctx, req.Key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load %q: %w", req.Key, err)
		}

		var existing json.RawMessage
		var expected time.Time
		if current != nil {
			existing = current.Value
			expected = current.UpdatedAt
		}

		mergedValue, err := r.applyPolicy(req.Key, existing, req.Value, req.RemovedIDs)
		if err != nil {
			return nil, err
		}

		doc := r.stamp(req, mergedValue, caller)
		err = r.store.Upsert(ctx, doc, &expected)
		if err == nil {
			return &doc, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("persist %q: %w", req.Key, err)
		}

		lastErr = err
		r.logger.Warn("concurrent push detected, retrying merge",
			log.String("key", string(req.Key)),
			log.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("persist %q: %w", req.Key, lastErr)
}

func (r *Resolver) stamp(req sync.PushRequest, value json.RawMessage, caller auth.Identity) sync.Document {
	return sync.Document{
		Key:               req.Key,
		Value:             value,
		UpdatedAt:         r.now().UTC(),
		UpdatedByClientID: req.ClientID,
		UpdatedByUserID:   caller.UserID,
		UpdatedByName:     caller.Name,
	}
}

// applyPolicy dispatches on the key's merge policy. A nil existing value
// merges against the policy's empty shape.
func (r *Resolver) applyPolicy(key sync.Key, existing, incoming json.RawMessage, removedIDs []string) (json.RawMessage, error) {
	switch sync.PolicyFor(key) {
	case sync.PolicyArray:
		ex, err := decodeList(existing)
		if err != nil {
			return nil, fmt.Errorf("%w: stored %q is not a list", ErrInvalidPayload, key)
		}
		in, err := decodeList(incoming)
		if err != nil {
			return nil, fmt.Errorf("%w: %q expects a list", ErrInvalidPayload, key)
		}
		return encode(MergeArrays(ex, in, removedIDs))

	case sync.PolicyObject:
		ex, err := decodeObject(existing)
		if err != nil {
			return nil, fmt.Errorf("%w: stored %q is not an object", ErrInvalidPayload, key)
		}
		in, err := decodeObject(incoming)
		if err != nil {
			return nil, fmt.Errorf("%w: %q expects an object", ErrInvalidPayload, key)
		}
		return encode(MergeObjects(ex, in))

	case sync.PolicyTable:
		ex, err := decodeObject(existing)
		if err != nil {
			return nil, fmt.Errorf("%w: stored %q is not a table", ErrInvalidPayload, key)
		}
		in, err := decodeObject(incoming)
		if err != nil {
			return nil, fmt.Errorf("%w: %q expects a table", ErrInvalidPayload, key)
		}
		return encode(MergeTable(ex, in))

	default:
		// scalar keys never reach merge mode, but a verbatim write keeps
		// the stored shape valid either way
		return incoming, nil
	}
}

func decodeList(raw json.RawMessage) ([]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out []any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode merged value: %w", err)
	}
	return b, nil
}
