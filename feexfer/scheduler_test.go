// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feexfer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

// countingEvaluator records evaluations and flags any that overlap.
type countingEvaluator struct {
	calls    int32
	inFlight int32
	overlap  int32

	// gate, when set, blocks each evaluation until it is closed.
	gate chan struct{}

	done chan struct{}
}

func newCountingEvaluator() *countingEvaluator {
	return &countingEvaluator{done: make(chan struct{}, 16)}
}

func (c *countingEvaluator) EvaluateAndTransfer(
	ctx context.Context) (*Outcome, error) {

	if atomic.AddInt32(&c.inFlight, 1) > 1 {
		atomic.StoreInt32(&c.overlap, 1)
	}
	defer atomic.AddInt32(&c.inFlight, -1)

	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	atomic.AddInt32(&c.calls, 1)
	c.done <- struct{}{}
	return &Outcome{Status: Transferred}, nil
}

func (c *countingEvaluator) waitCall(t *testing.T) {
	t.Helper()

	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("evaluation did not run")
	}
}

func (c *countingEvaluator) requireNoCall(t *testing.T) {
	t.Helper()

	select {
	case <-c.done:
		t.Fatal("unexpected evaluation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeManual, ModeTick, ModeInterval} {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		require.Equal(t, m, parsed)
	}

	parsed, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeManual, parsed)

	_, err = ParseMode("hourly")
	require.Error(t, err)
}

func TestNewSchedulerValidation(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{})
	require.Error(t, err)

	_, err = NewScheduler(SchedulerConfig{
		Mode:      ModeInterval,
		Evaluator: newCountingEvaluator(),
	})
	require.ErrorIs(t, err, ErrTickerRequired)
}

func TestSchedulerManual(t *testing.T) {
	eval := newCountingEvaluator()
	s, err := NewScheduler(SchedulerConfig{Evaluator: eval})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	// Poll ticks are ignored in manual mode.
	s.OnTick()
	eval.requireNoCall(t)

	outcome, err := s.Trigger(context.Background())
	require.NoError(t, err)
	require.Equal(t, Transferred, outcome.Status)
	eval.waitCall(t)
	require.EqualValues(t, 1, atomic.LoadInt32(&eval.calls))
}

func TestSchedulerTick(t *testing.T) {
	eval := newCountingEvaluator()
	s, err := NewScheduler(SchedulerConfig{
		Mode:      ModeTick,
		Evaluator: eval,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	s.OnTick()
	eval.waitCall(t)

	s.OnTick()
	eval.waitCall(t)
	require.EqualValues(t, 2, atomic.LoadInt32(&eval.calls))
}

func TestSchedulerInterval(t *testing.T) {
	eval := newCountingEvaluator()
	tick := ticker.NewForce(time.Hour)

	s, err := NewScheduler(SchedulerConfig{
		Mode:      ModeInterval,
		Ticker:    tick,
		Evaluator: eval,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	// Poll ticks do not drive interval mode.
	s.OnTick()
	eval.requireNoCall(t)

	tick.Force <- time.Now()
	eval.waitCall(t)
}

func TestSchedulerSerializesRuns(t *testing.T) {
	eval := newCountingEvaluator()
	eval.gate = make(chan struct{})

	s, err := NewScheduler(SchedulerConfig{
		Mode:      ModeTick,
		Evaluator: eval,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	s.OnTick()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Trigger(context.Background())
			require.NoError(t, err)
		}()
	}

	close(eval.gate)
	wg.Wait()

	for i := 0; i < 4; i++ {
		eval.waitCall(t)
	}
	require.Zero(t, atomic.LoadInt32(&eval.overlap))
}

func TestSchedulerStopCancelsInFlight(t *testing.T) {
	eval := newCountingEvaluator()
	eval.gate = make(chan struct{})

	s, err := NewScheduler(SchedulerConfig{
		Mode:      ModeTick,
		Evaluator: eval,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	s.OnTick()

	stopped := make(chan struct{})
	go func() {
		require.NoError(t, s.Stop())
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	// Stop is idempotent.
	require.NoError(t, s.Stop())
}
