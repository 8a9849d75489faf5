// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feexfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// Mode selects when the Scheduler evaluates a transfer on its own.
type Mode uint8

const (
	// ModeManual only evaluates on Trigger.
	ModeManual Mode = iota

	// ModeTick evaluates after every poll tick reported through OnTick.
	ModeTick

	// ModeInterval evaluates on every tick of the Scheduler's own ticker.
	ModeInterval
)

// String returns the name accepted by ParseMode.
func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeTick:
		return "tick"
	case ModeInterval:
		return "interval"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseMode parses a schedule name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "manual", "":
		return ModeManual, nil
	case "tick":
		return ModeTick, nil
	case "interval":
		return ModeInterval, nil
	default:
		return 0, fmt.Errorf("unknown fee schedule %q", s)
	}
}

// ErrTickerRequired is returned when interval mode is configured without a
// ticker.
var ErrTickerRequired = errors.New("interval schedule requires a ticker")

// Evaluator runs a single fee transfer evaluation.
type Evaluator interface {
	EvaluateAndTransfer(ctx context.Context) (*Outcome, error)
}

// SchedulerConfig holds the Scheduler's options.
type SchedulerConfig struct {
	// Mode selects the schedule.
	Mode Mode

	// Ticker drives ModeInterval.  It is ignored by the other modes.
	Ticker ticker.Ticker

	// Evaluator performs the transfers.
	Evaluator Evaluator
}

// Scheduler decides when fee transfers run and makes sure no two run at
// the same time.
type Scheduler struct {
	started int32 // To be used atomically.
	stopped int32 // To be used atomically.

	cfg SchedulerConfig

	// runMtx serializes evaluations.
	runMtx sync.Mutex

	// tickSignal coalesces poll ticks that arrive while an evaluation is
	// in flight.
	tickSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler returns a Scheduler for cfg.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if cfg.Mode == ModeInterval && cfg.Ticker == nil {
		return nil, ErrTickerRequired
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		tickSignal: make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches the scheduling goroutine.
func (s *Scheduler) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}

	log.Infof("Fee transfer schedule: %v", s.cfg.Mode)

	if s.cfg.Mode == ModeInterval {
		s.cfg.Ticker.Resume()
	}

	s.wg.Add(1)
	go s.scheduleHandler()

	return nil
}

// Stop cancels any in-flight evaluation and waits for the scheduling
// goroutine to exit.
func (s *Scheduler) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.stopped, 0, 1) {
		return nil
	}

	s.cancel()
	if s.cfg.Mode == ModeInterval {
		s.cfg.Ticker.Stop()
	}
	s.wg.Wait()

	return nil
}

// Trigger runs an evaluation now, waiting for any in-flight one to finish
// first.
func (s *Scheduler) Trigger(ctx context.Context) (*Outcome, error) {
	return s.run(ctx)
}

// OnTick reports a completed poll tick.  It never blocks.
func (s *Scheduler) OnTick() {
	if s.cfg.Mode != ModeTick {
		return
	}

	select {
	case s.tickSignal <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) (*Outcome, error) {
	s.runMtx.Lock()
	defer s.runMtx.Unlock()

	return s.cfg.Evaluator.EvaluateAndTransfer(ctx)
}

// scheduleHandler runs evaluations on schedule until the Scheduler stops.
// Outcomes are logged by the Evaluator.
//
// NOTE: This must be run as a goroutine.
func (s *Scheduler) scheduleHandler() {
	defer s.wg.Done()

	var ticks <-chan time.Time
	if s.cfg.Mode == ModeInterval {
		ticks = s.cfg.Ticker.Ticks()
	}

	for {
		select {
		case <-s.tickSignal:
		case <-ticks:
		case <-s.ctx.Done():
			return
		}

		// Errors are already reported by the Evaluator and the next
		// schedule retries.
		_, _ = s.run(s.ctx)
	}
}
