package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zy54321/after-school/internal/auction"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(testLogger())
	err := s.Add("sweep", "not a schedule", func(context.Context) error { return nil })
	assert.ErrorContains(t, err, "schedule sweep")
}

func TestSchedulerRunsAndStops(t *testing.T) {
	s := New(testLogger())
	var runs atomic.Int32
	require.NoError(t, s.Add("count", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")
}

func TestStopCancelsRunningJob(t *testing.T) {
	s := New(testLogger())
	started := make(chan struct{})
	var once atomic.Bool
	require.NoError(t, s.Add("slow", "@every 1s", func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}))

	s.Start(context.Background())
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cancelling the job")
	}
}

type fakeSweeper struct {
	report auction.SweepReport
	err    error
	calls  int
}

func (f *fakeSweeper) Sweep(context.Context) (auction.SweepReport, error) {
	f.calls++
	return f.report, f.err
}

func TestSweepJob(t *testing.T) {
	sw := &fakeSweeper{report: auction.SweepReport{Started: 1, Settled: 2}}
	require.NoError(t, SweepJob(sw, testLogger())(context.Background()))
	assert.Equal(t, 1, sw.calls)

	boom := errors.New("locked")
	sw.err = boom
	assert.ErrorIs(t, SweepJob(sw, testLogger())(context.Background()), boom)
}
