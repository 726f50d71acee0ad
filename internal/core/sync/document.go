package sync

import (
	"encoding/json"
	"time"
)

// Document is the server-persisted value for one Key plus update metadata.
// One row per key; upserted, never deleted.
type Document struct {
	Key               Key             `json:"key"`
	Value             json.RawMessage `json:"value"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	UpdatedByClientID string          `json:"updatedByClientId"`
	UpdatedByUserID   string          `json:"updatedByUserId"`
	UpdatedByName     string          `json:"updatedByName"`
}

// ChangeEvent is the realtime payload broadcast to every subscribed client
// after a successful push.
type ChangeEvent struct {
	Key               Key             `json:"key"`
	Value             json.RawMessage `json:"value"`
	UpdatedByClientID string          `json:"updatedByClientId"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Op is the write mode a client requests for a push.
type Op string

const (
	// OpSet persists the value verbatim.
	OpSet Op = "set"
	// OpMerge merges the value into the stored document per the key's policy.
	OpMerge Op = "merge"
)

// OpFor returns the op a local write should carry: merge for shapes the
// resolver knows how to reconcile, set for everything else.
func OpFor(p Policy) Op {
	switch p {
	case PolicyArray, PolicyObject, PolicyTable:
		return OpMerge
	default:
		return OpSet
	}
}

// PushRequest is the body of POST /sync/push.
type PushRequest struct {
	Key        Key             `json:"key"`
	Value      json.RawMessage `json:"value"`
	Op         Op              `json:"op"`
	RemovedIDs []string        `json:"removedIds,omitempty"`
	ClientID   string          `json:"clientId"`
	TS         time.Time       `json:"ts"`
}

// PullResponse is the body of GET /sync/pull.
type PullResponse struct {
	Docs []Document `json:"docs"`
}
