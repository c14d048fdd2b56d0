package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/sharedmempool/libs/log"
)

type testService struct {
	BaseService
	started int32
	stopped int32
}

func newTestService(t *testing.T) *testService {
	ts := &testService{}
	ts.BaseService = *NewBaseService(log.NewTestingLogger(t), "TestService", ts)
	return ts
}

func (ts *testService) OnStart(context.Context) error {
	atomic.AddInt32(&ts.started, 1)
	return nil
}

func (ts *testService) OnStop() { atomic.AddInt32(&ts.stopped, 1) }

func TestBaseServiceWait(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService(t)
	require.NoError(t, ts.Start(ctx))
	require.True(t, ts.IsRunning())

	waitFinished := make(chan struct{})
	go func() {
		ts.Wait()
		close(waitFinished)
	}()

	go ts.Stop()

	select {
	case <-waitFinished:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected Wait() to finish within 100 ms.")
	}
	require.False(t, ts.IsRunning())
}

func TestBaseServiceContextCancel(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())

	ts := newTestService(t)
	require.NoError(t, ts.Start(ctx))
	cancel()
	ts.Wait()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ts.stopped) == 1 },
		time.Second, 10*time.Millisecond)
	require.False(t, ts.IsRunning())
}

func TestBaseServiceLifecycleErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService(t)
	require.NoError(t, ts.Start(ctx))
	require.ErrorIs(t, ts.Start(ctx), ErrAlreadyStarted)

	ts.Stop()
	ts.Stop()
	require.EqualValues(t, 1, atomic.LoadInt32(&ts.stopped))
	require.ErrorIs(t, ts.Start(ctx), ErrAlreadyStopped)
	require.EqualValues(t, 1, atomic.LoadInt32(&ts.started))
}

func TestBaseServiceStopBeforeStart(t *testing.T) {
	ts := newTestService(t)
	ts.Stop()

	require.ErrorIs(t, ts.Start(context.Background()), ErrAlreadyStopped)
	require.Zero(t, atomic.LoadInt32(&ts.started))
	require.Zero(t, atomic.LoadInt32(&ts.stopped))
	require.False(t, ts.IsRunning())
}
