package domain

import "time"

// ClaimEvent is one append-only entry in a worker's claim log. Claims are
// never mutated; a later event for the same slice key supersedes earlier
// ones during merge.
type ClaimEvent struct {
	ID       string    `json:"claim_id"`
	SliceKey string    `json:"slice_key"`
	Worker   string    `json:"worker"`
	Kind     ClaimKind `json:"kind"`
	Time     time.Time `json:"ts"`
	Reason   string    `json:"reason,omitempty"`
}
