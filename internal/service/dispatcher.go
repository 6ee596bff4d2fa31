package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/timmy/nagato/internal/logger"
)

// Flow names, also used as the logger "flow" field.
const (
	FlowEmbeddings = "embeddings"
	FlowFinetune   = "finetune"
	FlowReconcile  = "reconcile"
)

// queueSize bounds the flows waiting for a worker.
const queueSize = 1024

var (
	// ErrDispatcherClosed is returned by Submit after Release.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrDispatcherBusy is returned by Submit when the wait queue is full.
	ErrDispatcherBusy = errors.New("dispatcher queue full")
)

// FlowError reports a detached flow that failed.
type FlowError struct {
	RecordID string
	Flow     string
	Err      error
}

func (e FlowError) Error() string {
	return fmt.Sprintf("%s flow for record %s: %v", e.Flow, e.RecordID, e.Err)
}

type flowTask struct {
	flow     string
	recordID string
	run      func()
}

// Dispatcher runs flows detached from the request that started them. Flow
// failures are sent to Errors(); nothing is reported back to the caller.
type Dispatcher struct {
	pool    *ants.Pool
	wg      sync.WaitGroup
	errs    chan FlowError
	queue   chan flowTask
	drained chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher running at most workers flows at once.
// Submit never waits for a worker: flows queue until one frees up.
func NewDispatcher(workers int) (*Dispatcher, error) {
	if workers <= 0 {
		workers = 8
	}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("Dispatcher worker panic: %v\n%s", p, debug.Stack())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher pool: %w", err)
	}
	d := &Dispatcher{
		pool:    pool,
		errs:    make(chan FlowError, 256),
		queue:   make(chan flowTask, queueSize),
		drained: make(chan struct{}),
	}
	go d.drain()
	return d, nil
}

// drain hands queued flows to the pool, blocking here instead of in Submit.
func (d *Dispatcher) drain() {
	defer close(d.drained)
	for t := range d.queue {
		if err := d.pool.Submit(t.run); err != nil {
			d.wg.Done()
			d.report(FlowError{RecordID: t.recordID, Flow: t.flow, Err: fmt.Errorf("failed to start flow: %w", err)})
		}
	}
}

// Errors returns the flow error sink. It is closed by Release.
func (d *Dispatcher) Errors() <-chan FlowError {
	return d.errs
}

// Submit queues fn to run on a context that keeps ctx's values but not its
// cancellation. It returns without waiting for a free worker.
func (d *Dispatcher) Submit(ctx context.Context, flow, recordID string, fn func(ctx context.Context) error) error {
	detached := context.WithoutCancel(ctx)
	detached = logger.SetFlow(logger.SetRecordID(detached, recordID), flow)

	task := flowTask{flow: flow, recordID: recordID, run: func() {
		defer d.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				logger.CtxError(detached, "Flow panicked: %v\n%s", p, debug.Stack())
				d.report(FlowError{RecordID: recordID, Flow: flow, Err: fmt.Errorf("panic: %v", p)})
			}
		}()

		if err := fn(detached); err != nil {
			d.report(FlowError{RecordID: recordID, Flow: flow, Err: err})
		}
	}}

	// the send never blocks, so holding the read lock keeps Release from
	// closing the queue underneath it
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	select {
	case d.queue <- task:
		return nil
	default:
		d.wg.Done()
		return fmt.Errorf("failed to submit %s flow: %w", flow, ErrDispatcherBusy)
	}
}

func (d *Dispatcher) report(fe FlowError) {
	select {
	case d.errs <- fe:
	default:
		logger.Error("Flow error sink full, dropping: %v", fe)
	}
}

// Wait blocks until every submitted flow, queued ones included, has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Running returns the number of flows currently executing.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Queued returns the number of flows waiting for a worker.
func (d *Dispatcher) Queued() int {
	return len(d.queue)
}

// Release waits for in-flight flows, stops the pool and closes Errors().
func (d *Dispatcher) Release() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.drained
	d.wg.Wait()
	d.pool.Release()
	close(d.errs)
}

// LogErrors drains Errors() into the log until Release.
func (d *Dispatcher) LogErrors() {
	for fe := range d.errs {
		logger.With(logger.Fields{
			logger.FieldRecordID: fe.RecordID,
			logger.FieldFlow:     fe.Flow,
		}).Error(context.Background(), "Detached flow failed: %v", fe.Err)
	}
}
