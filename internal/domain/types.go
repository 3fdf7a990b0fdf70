package domain

// SliceStatus represents the lifecycle state of a slice
type SliceStatus string

const (
	StatusUnclaimed  SliceStatus = "unclaimed"
	StatusClaimed    SliceStatus = "claimed"
	StatusInProgress SliceStatus = "in_progress"
	StatusComplete   SliceStatus = "complete"
	StatusFailed     SliceStatus = "failed"
)

// ClaimKind distinguishes entries in the claim log
type ClaimKind string

const (
	// ClaimAcquire asserts ownership of a slice
	ClaimAcquire ClaimKind = "claim"
	// ClaimRelease gives a slice back to the unclaimed pool
	ClaimRelease ClaimKind = "release"
	// ClaimFail marks a slice as terminally failed
	ClaimFail ClaimKind = "fail"
)
