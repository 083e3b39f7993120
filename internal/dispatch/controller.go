package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"asciidocartisan/engine/internal/conversion"
	"asciidocartisan/engine/internal/errinfo"
	"asciidocartisan/engine/internal/logging"
)

const DefaultMaxConcurrent = 2

var (
	ErrClosed         = errors.New("dispatch controller closed")
	ErrInvalidRequest = errors.New("invalid conversion request")
)

// Executor runs a single request. The worker package provides the real one.
type Executor interface {
	Execute(ctx context.Context, req conversion.Request, token *conversion.CancelToken, progress conversion.ProgressFunc) (conversion.Result, error)
}

type Config struct {
	// MaxConcurrent bounds conversions running across all documents.
	MaxConcurrent int
	// OutputDir receives binary outputs for requests that name no path.
	OutputDir string
}

// Callback receives the one result delivered for a handle.
type Callback func(conversion.Result)

// ProgressListener observes progress of requests that are still current.
type ProgressListener func(Handle, conversion.Progress)

type Option func(*Controller)

func WithProgress(listener ProgressListener) Option {
	return func(c *Controller) {
		c.progress = listener
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller is the single entry point for conversions. Each document has a
// lane that runs its requests one at a time; a new submission supersedes
// whatever the lane is running or holding, so only the newest request for a
// document ever delivers.
type Controller struct {
	cfg      Config
	exec     Executor
	logger   *slog.Logger
	progress ProgressListener
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	lanes   map[string]*lane
	tickets map[string]*ticket
}

type lane struct {
	documentID string
	pending    *ticket
	running    *ticket
}

func New(cfg Config, exec Executor, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		cfg.OutputDir = filepath.Join(os.TempDir(), "asciidoc-artisan", "exports")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:     cfg,
		exec:    exec,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		done:    make(chan struct{}),
		lanes:   make(map[string]*lane),
		tickets: make(map[string]*ticket),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit queues req for its document and returns at once. Any earlier
// request for the same document that has not delivered yet is cancelled
// first; its callback will never run. The callback runs on the document's
// lane goroutine.
func (c *Controller) Submit(req conversion.Request, callback Callback) (Handle, error) {
	if strings.TrimSpace(req.DocumentID) == "" {
		return Handle{}, fmt.Errorf("%w: document id is required", ErrInvalidRequest)
	}
	t := &ticket{
		id:          uuid.NewString(),
		req:         req,
		token:       conversion.NewCancelToken(),
		callback:    callback,
		submittedAt: c.now(),
		done:        make(chan struct{}),
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Handle{}, ErrClosed
	}
	t.ctx, t.stop = context.WithCancel(c.ctx)
	// Reported before the lane can pick the ticket up, so it is always first.
	c.emit(t, conversion.Progress{Stage: conversion.StageQueued, Message: "Queued"})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.stop()
		return Handle{}, ErrClosed
	}
	l, exists := c.lanes[req.DocumentID]
	if !exists {
		l = &lane{documentID: req.DocumentID}
		c.lanes[req.DocumentID] = l
	}
	// Older tickets are settled as cancelled before the lock is released, so
	// none of them can claim a result once this submission is visible.
	var superseded []*ticket
	for _, old := range []*ticket{l.pending, l.running} {
		if old != nil && old.token.Cancel() {
			old.stop()
			superseded = append(superseded, old)
		}
	}
	unstarted := l.pending
	l.pending = t
	c.tickets[t.id] = t
	c.mu.Unlock()

	for _, old := range superseded {
		if old == unstarted {
			c.finish(old, conversion.Result{}, conversion.ErrCancelled)
		}
		c.logger.Debug("dispatch.superseded", "document_id", req.DocumentID, "handle_id", old.id, "by", t.id)
	}
	if !exists {
		go c.runLane(l)
	}
	c.logger.Debug("dispatch.submitted",
		"document_id", req.DocumentID,
		"handle_id", t.id,
		"from", string(req.SourceFormat),
		"to", string(req.TargetFormat),
		"use_ai", req.UseAI,
	)
	return t.handle(), nil
}

// Cancel withdraws a request. It returns false when the handle is unknown
// or its result was already delivered.
func (c *Controller) Cancel(handleID string) bool {
	c.mu.Lock()
	t, ok := c.tickets[handleID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	if !c.cancelTicket(t) {
		return false
	}
	c.logger.Debug("dispatch.cancelled", "document_id", t.req.DocumentID, "handle_id", t.id)
	return true
}

// cancelTicket settles t as cancelled and ends its AI call. A ticket the
// lane has not picked up yet is finished here; a running one is finished by
// its lane.
func (c *Controller) cancelTicket(t *ticket) bool {
	if !t.token.Cancel() {
		return false
	}
	t.stop()
	c.mu.Lock()
	started := t.started
	if !started {
		if l := c.lanes[t.req.DocumentID]; l != nil && l.pending == t {
			l.pending = nil
		}
	}
	c.mu.Unlock()
	if !started {
		c.finish(t, conversion.Result{}, conversion.ErrCancelled)
	}
	return true
}

func (c *Controller) runLane(l *lane) {
	for {
		c.mu.Lock()
		t := l.pending
		l.pending = nil
		if t == nil {
			l.running = nil
			delete(c.lanes, l.documentID)
			c.mu.Unlock()
			return
		}
		t.started = true
		l.running = t
		c.mu.Unlock()

		c.process(t)
	}
}

func (c *Controller) process(t *ticket) {
	select {
	case c.sem <- struct{}{}:
	case <-c.done:
		t.token.Cancel()
		c.finish(t, conversion.Result{}, conversion.ErrCancelled)
		return
	}
	defer func() { <-c.sem }()
	c.mu.Lock()
	t.executing = true
	c.mu.Unlock()

	if t.token.Cancelled() {
		c.finish(t, conversion.Result{}, conversion.ErrCancelled)
		return
	}
	started := c.now()
	res, err := c.execute(t)
	if err != nil || !t.token.Claim() {
		discard(res)
		c.logger.Debug("dispatch.discarded", "document_id", t.req.DocumentID, "handle_id", t.id)
		c.finish(t, conversion.Result{}, conversion.ErrCancelled)
		return
	}
	res = c.publish(t, res)
	c.logger.Debug("dispatch.delivered",
		"document_id", t.req.DocumentID,
		"handle_id", t.id,
		"success", res.Success,
		"used_fallback", res.UsedFallback,
		"elapsed_ms", c.now().Sub(started).Milliseconds(),
	)
	c.finish(t, res, nil)
}

// execute turns anything the executor does into a result or ErrCancelled.
func (c *Controller) execute(t *ticket) (res conversion.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("dispatch.executor_panic", "document_id", t.req.DocumentID, "panic", fmt.Sprint(rec))
			res = conversion.Failed(errinfo.CodeConversionFailed, fmt.Sprintf("internal error: %v", rec), c.now().Sub(t.submittedAt))
			err = nil
		}
	}()
	if c.exec == nil {
		return conversion.Failed(errinfo.CodeConversionFailed, "no converter configured", 0), nil
	}
	res, err = c.exec.Execute(t.ctx, t.req, t.token, func(p conversion.Progress) {
		c.emit(t, p)
	})
	if err != nil && !errors.Is(err, conversion.ErrCancelled) {
		c.logger.Warn("dispatch.executor_error", "document_id", t.req.DocumentID, "error", err.Error())
		return conversion.Failed(errinfo.CodeConversionFailed, err.Error(), c.now().Sub(t.submittedAt)), nil
	}
	return res, err
}

func (c *Controller) emit(t *ticket, p conversion.Progress) {
	if c.progress == nil || t.token.Cancelled() {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Warn("dispatch.progress_panic", "handle_id", t.id, "panic", fmt.Sprint(rec))
		}
	}()
	c.progress(t.handle(), p)
}

// finish settles t once: the callback runs for delivered results only, then
// waiters are released.
func (c *Controller) finish(t *ticket, res conversion.Result, err error) {
	t.once.Do(func() {
		t.stop()
		c.mu.Lock()
		delete(c.tickets, t.id)
		c.mu.Unlock()

		t.result = res
		t.err = err
		if err == nil && t.callback != nil {
			c.invoke(t, res)
		}
		close(t.done)
	})
}

func (c *Controller) invoke(t *ticket, res conversion.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("dispatch.callback_panic", "document_id", t.req.DocumentID, "handle_id", t.id, "panic", fmt.Sprint(rec))
		}
	}()
	t.callback(res)
}

// Status describes a request that has not settled yet.
type Status struct {
	HandleID     string    `json:"handle_id"`
	DocumentID   string    `json:"document_id"`
	State        string    `json:"state"`
	SourceFormat string    `json:"source_format"`
	TargetFormat string    `json:"target_format"`
	UseAI        bool      `json:"use_ai"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Active lists unsettled requests, oldest first.
func (c *Controller) Active() []Status {
	c.mu.Lock()
	out := make([]Status, 0, len(c.tickets))
	for _, t := range c.tickets {
		if t.token.Cancelled() {
			continue
		}
		state := "queued"
		if t.executing {
			state = "running"
		}
		out = append(out, Status{
			HandleID:     t.id,
			DocumentID:   t.req.DocumentID,
			State:        state,
			SourceFormat: string(t.req.SourceFormat),
			TargetFormat: string(t.req.TargetFormat),
			UseAI:        t.req.UseAI,
			SubmittedAt:  t.submittedAt,
		})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].HandleID < out[j].HandleID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Close rejects new submissions, cancels everything outstanding and waits
// until every request has settled or ctx expires. AI calls are aborted; a
// Pandoc process already running is not killed and Close waits for it.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	outstanding := make([]*ticket, 0, len(c.tickets))
	for _, t := range c.tickets {
		outstanding = append(outstanding, t)
	}
	c.mu.Unlock()

	for _, t := range outstanding {
		c.cancelTicket(t)
	}
	c.cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range outstanding {
		g.Go(func() error {
			select {
			case <-t.done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}
