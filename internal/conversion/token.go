package conversion

import "sync/atomic"

const (
	tokenActive int32 = iota
	tokenCancelled
	tokenDelivered
)

// CancelToken is the per-request cancellation flag. It settles exactly once,
// either cancelled or delivered, so a superseded request can never also
// deliver a result.
type CancelToken struct {
	state atomic.Int32
}

func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel marks the request cancelled. It returns false when the result was
// already delivered or the token was cancelled before.
func (t *CancelToken) Cancel() bool {
	if t == nil {
		return false
	}
	return t.state.CompareAndSwap(tokenActive, tokenCancelled)
}

func (t *CancelToken) Cancelled() bool {
	return t != nil && t.state.Load() == tokenCancelled
}

// Claim reserves delivery of the result. It fails if Cancel won first.
func (t *CancelToken) Claim() bool {
	if t == nil {
		return true
	}
	return t.state.CompareAndSwap(tokenActive, tokenDelivered)
}

// Stage names a progress checkpoint.
type Stage string

const (
	StageQueued        Stage = "queued"
	StageStartingAI    Stage = "starting_ai"
	StageFallingBack   Stage = "falling_back"
	StageRunningPandoc Stage = "running_pandoc"
	StageComplete      Stage = "complete"
)

type Progress struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

type ProgressFunc func(Progress)
