// Copyright 2025 Certnode Project
//
// Package queue implements the transaction queue described in spec §4.6:
// an O(1) submit path that hands back a tracking ref immediately, and a
// background worker that drains entries in batches and drives them
// through the blockchain server. The worker's Start/Stop/Pause/Resume
// lifecycle follows the teacher's scheduler shape.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certnode/factledger/pkg/apperr"
	"github.com/certnode/factledger/pkg/chain"
	"github.com/certnode/factledger/pkg/dag"
)

// Status is the lifecycle of a single queued entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCommitted  Status = "committed"
	StatusFailed     Status = "failed"
)

// Entry is one submitted transaction together with its current status;
// it stays queryable by ref after it is committed or has failed.
type Entry struct {
	Ref       string
	Status    Status
	Subject   string
	Predicate string
	Object    string

	// RequestedValidator is whatever validator_id the client submitted
	// with the request. ActualValidator is who the worker actually
	// stamped onto the append, which per spec §9 always wins: the queue
	// overrides the client's choice with whoever's turn it actually is
	// at drain time.
	RequestedValidator string
	ActualValidator    string

	Node  dag.Node
	Error error

	SubmittedAt time.Time
	ResolvedAt  time.Time
}

// WorkerState mirrors the teacher's Stopped/Running/Paused scheduler
// states.
type WorkerState int

const (
	StateStopped WorkerState = iota
	StateRunning
	StatePaused
)

// Signer produces a signature for a dequeued entry on behalf of the
// validator the worker selects, since the queue itself holds no private
// key material. In cmd/factledgerd this is backed by the node's own
// pkg/crypto.KeyManager key; tests can supply a stub.
type Signer interface {
	Sign(validatorID, subject, predicate, object string, ts time.Time) ([64]byte, error)
}

// Config controls batch size and drain interval, per spec §4.6's
// set_processing_rate.
type Config struct {
	BatchSize int
	Interval  time.Duration
}

// DefaultConfig matches the spec's defaults: batches of 10 every 100ms.
func DefaultConfig() Config {
	return Config{BatchSize: 10, Interval: 100 * time.Millisecond}
}

// Queue is the transaction queue and its draining worker.
type Queue struct {
	mu      sync.Mutex
	pending []*Entry
	byRef   map[string]*Entry

	server *chain.Server
	signer Signer

	cfg   Config
	state WorkerState

	stopCh chan struct{}
	doneCh chan struct{}

	submitted counter64
	committed counter64
	failed    counter64
}

// counter64 is a lifetime counter guarded by Queue.mu, kept as a plain
// int64 rather than atomic.Int64 since every access already holds the
// lock for other fields in the same struct.
type counter64 struct{ v int64 }

func New(server *chain.Server, signer Signer, cfg Config) *Queue {
	return &Queue{
		byRef:  make(map[string]*Entry),
		server: server,
		signer: signer,
		cfg:    cfg,
		state:  StateStopped,
	}
}

// Submit enqueues a new entry and returns its tracking ref immediately;
// the actual append happens asynchronously on the worker's next tick.
func (q *Queue) Submit(subject, predicate, object, requestedValidator string) string {
	ref := uuid.NewString()
	e := &Entry{
		Ref:                ref,
		Status:             StatusPending,
		Subject:            subject,
		Predicate:          predicate,
		Object:             object,
		RequestedValidator: requestedValidator,
		SubmittedAt:        time.Now(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.byRef[ref] = e
	q.submitted.v++
	q.mu.Unlock()

	return ref
}

// GetStatus returns the current state of a submitted entry.
func (q *Queue) GetStatus(ref string) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byRef[ref]
	if !ok {
		return Entry{}, apperr.NotFound(ref)
	}
	return *e, nil
}

// QueueStatus is the snapshot returned by Status.
type QueueStatus struct {
	Length         int
	Submitted      int64
	Committed      int64
	Failed         int64
	WorkerState    WorkerState
	BatchSize      int
	IntervalMillis int64
}

// Status reports the queue's current depth and lifetime counters.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		Length:         len(q.pending),
		Submitted:      q.submitted.v,
		Committed:      q.committed.v,
		Failed:         q.failed.v,
		WorkerState:    q.state,
		BatchSize:      q.cfg.BatchSize,
		IntervalMillis: q.cfg.Interval.Milliseconds(),
	}
}

// SetProcessingRate changes the worker's batch size and drain interval,
// taking effect from the next tick.
func (q *Queue) SetProcessingRate(batchSize int, interval time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cfg.BatchSize = batchSize
	q.cfg.Interval = interval
}

// Clear discards every currently-pending entry without processing it.
// Already-committed or already-failed entries remain queryable by ref.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}

// Start launches the draining worker. It is a no-op if already running.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.state == StateRunning {
		q.mu.Unlock()
		return
	}
	q.state = StateRunning
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	go q.run()
}

// Stop halts the worker and waits for its current tick to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.state == StateStopped {
		q.mu.Unlock()
		return
	}
	stopCh := q.stopCh
	doneCh := q.doneCh
	q.state = StateStopped
	q.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Pause suspends draining without tearing down the worker goroutine.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == StateRunning {
		q.state = StatePaused
	}
}

// Resume un-suspends a paused worker.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == StatePaused {
		q.state = StateRunning
	}
}

func (q *Queue) run() {
	defer close(q.doneCh)

	timer := time.NewTimer(q.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-timer.C:
			if q.currentState() == StateRunning {
				q.drainOnce()
			}
			timer.Reset(q.currentInterval())
		}
	}
}

func (q *Queue) currentInterval() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg.Interval
}

func (q *Queue) currentState() WorkerState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// drainOnce pops up to the configured batch size of pending entries and
// drives each through the blockchain server, one at a time, in FIFO
// order, stamping each with whoever's turn it actually is.
func (q *Queue) drainOnce() {
	batch := q.popBatch()
	for _, e := range batch {
		q.process(e)
	}
}

func (q *Queue) popBatch() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.cfg.BatchSize
	if n > len(q.pending) {
		n = len(q.pending)
	}
	batch := q.pending[:n]
	q.pending = q.pending[n:]
	return batch
}

func (q *Queue) process(e *Entry) {
	q.mu.Lock()
	e.Status = StatusProcessing
	q.mu.Unlock()

	expected, err := q.server.ExpectedValidator()
	if err != nil {
		q.finish(e, dag.Node{}, err)
		return
	}
	e.ActualValidator = expected.ID

	ts := time.Now().UTC()
	sig, err := q.signer.Sign(expected.ID, e.Subject, e.Predicate, e.Object, ts)
	if err != nil {
		q.finish(e, dag.Node{}, err)
		return
	}

	node, err := q.server.AppendSigned(chain.Request{
		Subject:     e.Subject,
		Predicate:   e.Predicate,
		Object:      e.Object,
		ValidatorID: expected.ID,
		Signature:   sig,
	}, ts)
	q.finish(e, node, err)
}

func (q *Queue) finish(e *Entry, node dag.Node, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e.ResolvedAt = time.Now()
	if err != nil {
		e.Status = StatusFailed
		e.Error = err
		q.failed.v++
		return
	}
	e.Status = StatusCommitted
	e.Node = node
	q.committed.v++
}
