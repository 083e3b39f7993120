package dispatch

import (
	"context"
	"sync"
	"time"

	"asciidocartisan/engine/internal/conversion"
)

type ticket struct {
	id          string
	req         conversion.Request
	token       *conversion.CancelToken
	callback    Callback
	submittedAt time.Time

	// ctx is handed to the executor; stop ends it when the ticket is
	// cancelled or settles.
	ctx  context.Context
	stop context.CancelFunc

	// started and executing are guarded by Controller.mu. started means the
	// lane owns the ticket; executing means it holds a concurrency slot.
	started   bool
	executing bool

	once   sync.Once
	done   chan struct{}
	result conversion.Result
	err    error
}

func (t *ticket) handle() Handle {
	return Handle{ID: t.id, DocumentID: t.req.DocumentID, t: t}
}

// Handle identifies one submitted request.
type Handle struct {
	ID         string
	DocumentID string
	t          *ticket
}

// Done is closed once the request has settled.
func (h Handle) Done() <-chan struct{} {
	if h.t == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return h.t.done
}

// Wait blocks until the request settles. It returns the delivered result,
// or conversion.ErrCancelled for a superseded or cancelled request.
func (h Handle) Wait(ctx context.Context) (conversion.Result, error) {
	if h.t == nil {
		return conversion.Result{}, conversion.ErrCancelled
	}
	select {
	case <-h.t.done:
		return h.t.result, h.t.err
	case <-ctx.Done():
		return conversion.Result{}, ctx.Err()
	}
}
