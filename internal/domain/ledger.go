package domain

import "time"

// LedgerEntry is the materialized view of one slice's progress. It is a
// cache derived from the claim log and run log, never an independent source
// of truth; rebuilding from the logs must always reproduce it.
type LedgerEntry struct {
	SliceKey    string      `json:"slice_key"`
	Status      SliceStatus `json:"status"`
	Claimant    string      `json:"claimed_by,omitempty"`
	ClaimedAt   time.Time   `json:"claimed_at,omitzero"`
	Target      int         `json:"target"`
	Recorded    int         `json:"recorded"`
	LastUpdated time.Time   `json:"last_updated,omitzero"`
	Error       string      `json:"error,omitempty"`
}
