package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/nagato/internal/logger"
)

func TestDispatcher_RunsDetachedFromCaller(t *testing.T) {
	d, err := NewDispatcher(2)
	require.NoError(t, err)
	defer d.Release()

	ctx, cancel := context.WithCancel(logger.SetRequestID(context.Background(), "req-1"))
	started := make(chan struct{})
	var sawCancel atomic.Bool

	require.NoError(t, d.Submit(ctx, FlowEmbeddings, "rec-1", func(ctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		sawCancel.Store(ctx.Err() != nil)
		assert.Equal(t, "req-1", logger.GetRequestID(ctx))
		assert.Equal(t, "rec-1", logger.GetRecordID(ctx))
		assert.Equal(t, FlowEmbeddings, logger.GetFieldString(ctx, logger.FieldFlow))
		return nil
	}))

	<-started
	cancel()
	d.Wait()
	assert.False(t, sawCancel.Load(), "flow context must outlive the request")
}

func TestDispatcher_ReportsFailuresAndPanics(t *testing.T) {
	d, err := NewDispatcher(4)
	require.NoError(t, err)

	boom := errors.New("boom")
	require.NoError(t, d.Submit(context.Background(), FlowFinetune, "rec-1", func(context.Context) error { return boom }))
	require.NoError(t, d.Submit(context.Background(), FlowEmbeddings, "rec-2", func(context.Context) error { panic("kaput") }))
	require.NoError(t, d.Submit(context.Background(), FlowEmbeddings, "rec-3", func(context.Context) error { return nil }))
	d.Release()

	got := map[string]FlowError{}
	for fe := range d.Errors() {
		got[fe.RecordID] = fe
	}
	require.Len(t, got, 2)
	assert.ErrorIs(t, got["rec-1"].Err, boom)
	assert.Equal(t, FlowFinetune, got["rec-1"].Flow)
	assert.Contains(t, got["rec-2"].Err.Error(), "kaput")
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	d, err := NewDispatcher(2)
	require.NoError(t, err)
	defer d.Release()

	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		require.NoError(t, d.Submit(context.Background(), FlowEmbeddings, "rec", func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}
	d.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatcher_SubmitAfterRelease(t *testing.T) {
	d, err := NewDispatcher(1)
	require.NoError(t, err)
	d.Release()
	d.Release()

	err = d.Submit(context.Background(), FlowEmbeddings, "rec", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcher_SubmitDoesNotWaitForWorkers(t *testing.T) {
	d, err := NewDispatcher(1)
	require.NoError(t, err)

	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(d.Release)
	t.Cleanup(unblock)

	started := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), FlowFinetune, "rec-long", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	var ran atomic.Int32
	submitted := make(chan error, 1)
	go func() {
		var err error
		for i := 0; i < 3 && err == nil; i++ {
			err = d.Submit(context.Background(), FlowEmbeddings, "rec-queued", func(context.Context) error {
				ran.Add(1)
				return nil
			})
		}
		submitted <- err
	}()

	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit waited for the busy worker")
	}
	assert.Equal(t, 1, d.Running())
	assert.Zero(t, ran.Load())

	unblock()
	d.Wait()
	assert.Equal(t, int32(3), ran.Load())
	assert.Zero(t, d.Queued())
}

func TestDispatcher_ReleaseRunsQueuedFlows(t *testing.T) {
	d, err := NewDispatcher(1)
	require.NoError(t, err)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Submit(context.Background(), FlowEmbeddings, "rec", func(context.Context) error {
			time.Sleep(2 * time.Millisecond)
			ran.Add(1)
			return nil
		}))
	}
	d.Release()
	assert.Equal(t, int32(5), ran.Load())
}
