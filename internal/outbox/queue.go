// Package outbox delivers edit operations to the remote log in order,
// retrying transient failures so local edits never wait on the network.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/oplog"
)

// ErrClosed is returned by Emit after Close
var ErrClosed = errors.New("outbox is closed")

// Appender persists one operation
type Appender interface {
	AppendOperation(ctx context.Context, sessionID, token string, op models.OperationRequest) (*models.Operation, error)
}

// Lister returns the persisted log, used for reconciliation
type Lister interface {
	ListOperations(ctx context.Context, sessionID, token string) ([]models.Operation, error)
}

// Report compares what this client believes is persisted with the server log
type Report struct {
	Local   int
	Remote  int
	Pending int
}

// Diverged reports whether local and remote counts disagree
func (r Report) Diverged() bool {
	return r.Local != r.Remote
}

// Options configure a Queue
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Lister         Lister
	OnAppended     func(models.Operation)
	OnError        func(error)
	OnReconcile    func(Report)
	Logger         *slog.Logger
}

// Queue is a FIFO of operations appended by a single worker goroutine
type Queue struct {
	appender  Appender
	sessionID string
	token     string
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	items    []models.OperationRequest
	inFlight bool
	appended int
	baseline int
	err      error
	closed   bool
	abort    context.CancelFunc
	changed  chan struct{}
	wake     chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a queue for one session. Call Start to begin delivery.
func New(appender Appender, sessionID, token string, opts Options) *Queue {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		appender:  appender,
		sessionID: sessionID,
		token:     token,
		opts:      opts,
		logger:    logger.With("session_id", sessionID),
		changed:   make(chan struct{}),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// SetBaseline records how many operations the server held when the editor opened
func (q *Queue) SetBaseline(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.baseline = n
}

// Start launches the delivery worker
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	go q.run(ctx)
}

// Emit enqueues op without waiting for delivery
func (q *Queue) Emit(op models.OperationRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, op)
	q.broadcastLocked()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of operations not yet persisted
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Appended returns the number of operations persisted by this queue
func (q *Queue) Appended() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.appended
}

// Err returns the terminal error that stopped delivery, if any
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Flush waits until every queued operation is persisted, delivery stopped
// on a terminal error, or ctx is done.
func (q *Queue) Flush(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.err != nil {
			err := q.err
			q.mu.Unlock()
			return err
		}
		if len(q.items) == 0 && !q.inFlight {
			q.mu.Unlock()
			return nil
		}
		if q.closed {
			n := len(q.items)
			q.mu.Unlock()
			return fmt.Errorf("%w with %d operations pending", ErrClosed, n)
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reconcile compares the local count with the server log
func (q *Queue) Reconcile(ctx context.Context) (Report, error) {
	if q.opts.Lister == nil {
		return Report{}, errors.New("reconcile requires a lister")
	}
	ops, err := q.opts.Lister.ListOperations(ctx, q.sessionID, q.token)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list operations: %w", err)
	}

	q.mu.Lock()
	report := Report{
		Local:   q.baseline + q.appended,
		Remote:  len(ops),
		Pending: len(q.items),
	}
	q.mu.Unlock()

	if report.Diverged() {
		q.logger.Warn("Operation log diverged", "local", report.Local, "remote", report.Remote, "pending", report.Pending)
	} else {
		q.logger.Debug("Operation log reconciled", "count", report.Remote, "pending", report.Pending)
	}
	if q.opts.OnReconcile != nil {
		q.opts.OnReconcile(report)
	}
	return report, nil
}

// Discard drops every undelivered operation and aborts the append in
// flight, waiting for it to return. Delivery counts restart from zero, so
// call it right before the remote log is cleared. It returns how many
// operations were pending.
func (q *Queue) Discard(ctx context.Context) (int, error) {
	q.mu.Lock()
	dropped := len(q.items)
	if q.inFlight {
		q.items = q.items[:1]
		if q.abort != nil {
			q.abort()
		}
	} else {
		q.items = nil
	}
	q.broadcastLocked()
	q.mu.Unlock()

	for {
		q.mu.Lock()
		if !q.inFlight {
			q.items = nil
			q.appended = 0
			q.baseline = 0
			q.broadcastLocked()
			q.mu.Unlock()
			if dropped > 0 {
				q.logger.Info("Discarded undelivered operations", "count", dropped)
			}
			return dropped, nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return dropped, ctx.Err()
		}
	}
}

// Close stops the worker. Unsent operations stay counted in Pending.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.broadcastLocked()
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		op, actx, ok := q.next(ctx)
		if !ok {
			return
		}
		if stop := q.deliver(ctx, actx, op); stop {
			return
		}
	}
}

// next waits for the head of the queue and marks it in flight. The
// returned context is cancelled when Discard aborts the head.
func (q *Queue) next(ctx context.Context) (models.OperationRequest, context.Context, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			q.inFlight = true
			op := q.items[0]
			actx, abort := context.WithCancel(ctx)
			q.abort = abort
			q.mu.Unlock()
			return op, actx, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return models.OperationRequest{}, nil, false
		}
	}
}

func (q *Queue) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.InitialBackoff
	b.MaxInterval = q.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// deliver appends op, retrying transient failures; it reports whether the worker must stop
func (q *Queue) deliver(ctx, actx context.Context, op models.OperationRequest) bool {
	defer func() {
		q.mu.Lock()
		q.abort()
		q.abort = nil
		q.mu.Unlock()
	}()

	var record *models.Operation
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		if attempts > 1 {
			if landed, ok := q.landed(actx, op); ok {
				record = landed
				return nil
			}
		}
		r, err := q.appender.AppendOperation(actx, q.sessionID, q.token, op)
		if err == nil {
			record = r
			return nil
		}
		if oplog.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, q.newBackOff(actx), func(err error, wait time.Duration) {
		if attempts == 1 {
			q.report(err)
		}
		q.logger.Warn("Append failed, retrying", "type", op.OperationType, "attempt", attempts, "backoff", wait, "error", err)
	})

	switch {
	case err == nil:
		q.mu.Lock()
		q.items = q.items[1:]
		q.appended++
		q.mu.Unlock()

		q.logger.Debug("Operation appended", "type", record.Type, "order", record.Order)
		if q.opts.OnAppended != nil {
			q.opts.OnAppended(*record)
		}
		if attempts > 1 && q.opts.Lister != nil {
			if _, err := q.Reconcile(ctx); err != nil {
				q.logger.Warn("Reconcile after reconnect failed", "error", err)
			}
		}
		// stays in flight until callbacks ran so Flush observes them
		q.setInFlight(false)
		return false

	case ctx.Err() != nil:
		q.setInFlight(false)
		return true

	case actx.Err() != nil:
		q.logger.Debug("Discarded operation in flight", "type", op.OperationType)
		q.drop()
		return false

	case oplog.IsTerminal(err):
		q.logger.Error("Operation log rejected session", "type", op.OperationType, "error", err)
		q.mu.Lock()
		q.err = err
		q.inFlight = false
		q.broadcastLocked()
		q.mu.Unlock()
		q.report(err)
		return true

	default:
		q.logger.Error("Dropping rejected operation", "type", op.OperationType, "error", err)
		q.drop()
		q.report(err)
		return false
	}
}

// landed reports whether an earlier attempt of op reached the server even
// though its response was lost. Operations from this queue are the only
// writers after the baseline, so the next unseen record must be op.
func (q *Queue) landed(ctx context.Context, op models.OperationRequest) (*models.Operation, bool) {
	if q.opts.Lister == nil || op.OperationData.PlacementID == "" {
		return nil, false
	}
	ops, err := q.opts.Lister.ListOperations(ctx, q.sessionID, q.token)
	if err != nil {
		return nil, false
	}
	q.mu.Lock()
	next := q.baseline + q.appended
	q.mu.Unlock()
	if next >= len(ops) {
		return nil, false
	}
	record := ops[next]
	if record.Type != op.OperationType || record.Data.PlacementID != op.OperationData.PlacementID {
		return nil, false
	}
	q.logger.Info("Earlier append attempt was persisted", "type", op.OperationType, "order", record.Order)
	return &record, true
}

func (q *Queue) drop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
	q.inFlight = false
	q.broadcastLocked()
}

func (q *Queue) setInFlight(v bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight = v
	q.broadcastLocked()
}

func (q *Queue) report(err error) {
	if q.opts.OnError != nil {
		q.opts.OnError(err)
	}
}
