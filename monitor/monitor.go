// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package monitor implements the status poll loop.  Every tick it reads the
// wallet balances, chain height and peer count, prunes the recent
// transaction window and reports the result.
package monitor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/feewallet/metrics"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultPollInterval is the default spacing between ticks.
	DefaultPollInterval = 30 * time.Second

	// Metric names used in MetricReadError and metric labels.
	MetricBalance    = "balance"
	MetricFeeBalance = "fee_balance"
	MetricHeight     = "chain_height"
	MetricPeers      = "peers"
)

var (
	// ErrMetricReadFailed is matched by every MetricReadError.
	ErrMetricReadFailed = errors.New("metric read failed")

	// ErrReadTimeout is returned when a read does not complete within
	// the configured timeout.
	ErrReadTimeout = errors.New("read timed out")

	// errShuttingDown is returned by reads interrupted by Stop.
	errShuttingDown = errors.New("monitor shutting down")
)

// MetricReadError reports a metric that could not be read during a tick.
type MetricReadError struct {
	Metric string
	Err    error
}

// Error implements the error interface.
func (e *MetricReadError) Error() string {
	return fmt.Sprintf("unable to read %s: %v", e.Metric, e.Err)
}

// Unwrap returns the underlying error.
func (e *MetricReadError) Unwrap() error {
	return e.Err
}

// Is makes every MetricReadError match ErrMetricReadFailed.
func (e *MetricReadError) Is(target error) bool {
	return target == ErrMetricReadFailed
}

// BalanceReader is a wallet whose balance is reported.
type BalanceReader interface {
	Name() string
	Balance() (btcutil.Amount, error)
}

// ChainReader reports the chain state.
type ChainReader interface {
	BestHeight() (int32, error)
	ConnectedPeers() (int32, error)
}

// Window is the recent transaction window pruned every tick.
type Window interface {
	Prune(now time.Time) int
	Size() int
}

// Snapshot is the state observed during one tick.  Metrics that could not
// be read are None and have a matching entry in Errors.
type Snapshot struct {
	Time       time.Time
	Balance    fn.Option[btcutil.Amount]
	FeeBalance fn.Option[btcutil.Amount]
	Height     fn.Option[int32]
	Peers      fn.Option[int32]
	WindowSize int
	Pruned     int
	Errors     []error
}

// String returns the status line logged every tick.
func (s *Snapshot) String() string {
	str := fmt.Sprintf("Balance: %s, chain height: %s, peers: %s, "+
		"recent transactions: %d", formatOption(s.Balance),
		formatOption(s.Height), formatOption(s.Peers), s.WindowSize)
	if s.FeeBalance.IsSome() {
		str += fmt.Sprintf(", fee wallet balance: %s",
			formatOption(s.FeeBalance))
	}
	return str
}

func formatOption[T any](o fn.Option[T]) string {
	if o.IsNone() {
		return "unavailable"
	}
	var zero T
	return fmt.Sprint(o.UnwrapOr(zero))
}

// Config holds the Monitor's collaborators.
type Config struct {
	// Primary is the wallet whose balance is reported.
	Primary BalanceReader

	// FeeWallet, when set, also has its balance reported.
	FeeWallet BalanceReader

	// Chain reports the height and peer count.
	Chain ChainReader

	// Window is pruned every tick.
	Window Window

	// Ticker spaces the ticks.
	Ticker ticker.Ticker

	// Clock supplies the time passed to Prune.
	Clock clock.Clock

	// ReadTimeout bounds each read.  Zero disables the bound.
	ReadTimeout time.Duration

	// OnTick, when set, is called with every snapshot from the poll
	// goroutine.
	OnTick func(*Snapshot)

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Monitor runs the poll loop.  It moves from running to stopped only
// through Stop.
type Monitor struct {
	started int32 // To be used atomically.
	stopped int32 // To be used atomically.

	cfg Config

	mu   sync.Mutex
	last *Snapshot

	quit chan struct{}
	wg   sync.WaitGroup
}

// New returns a Monitor for cfg.
func New(cfg Config) (*Monitor, error) {
	switch {
	case cfg.Primary == nil:
		return nil, errors.New("primary wallet is required")
	case cfg.Chain == nil:
		return nil, errors.New("chain is required")
	case cfg.Window == nil:
		return nil, errors.New("window is required")
	case cfg.Ticker == nil:
		return nil, errors.New("ticker is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Monitor{
		cfg:  cfg,
		quit: make(chan struct{}),
	}, nil
}

// Start polls once immediately and then on every tick.
func (m *Monitor) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return nil
	}

	m.cfg.Ticker.Resume()

	m.wg.Add(1)
	go m.pollHandler()

	return nil
}

// Stop ends the poll loop.  A tick in progress is abandoned at its next
// read.
func (m *Monitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.stopped, 0, 1) {
		return nil
	}

	close(m.quit)
	m.cfg.Ticker.Stop()
	m.wg.Wait()

	return nil
}

// LastSnapshot returns the snapshot of the most recent completed tick.
func (m *Monitor) LastSnapshot() (*Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last == nil {
		return nil, false
	}
	snap := *m.last
	return &snap, true
}

// pollHandler runs ticks until Stop is called.
//
// NOTE: This must be run as a goroutine.
func (m *Monitor) pollHandler() {
	defer m.wg.Done()

	for {
		m.Poll()

		select {
		case <-m.cfg.Ticker.Ticks():
		case <-m.quit:
			return
		}
	}
}

// Poll runs a single tick.  No failed read ends the tick early; the metric
// is left out of the snapshot instead.
func (m *Monitor) Poll() *Snapshot {
	snap := &Snapshot{}

	snap.Balance = readInto(m, snap, MetricBalance,
		m.cfg.Primary.Balance)
	snap.Balance.WhenSome(func(b btcutil.Amount) {
		m.cfg.Metrics.ObserveBalance(m.cfg.Primary.Name(), b)
	})

	if m.cfg.FeeWallet != nil {
		snap.FeeBalance = readInto(m, snap, MetricFeeBalance,
			m.cfg.FeeWallet.Balance)
		snap.FeeBalance.WhenSome(func(b btcutil.Amount) {
			m.cfg.Metrics.ObserveBalance(m.cfg.FeeWallet.Name(), b)
		})
	}

	snap.Height = readInto(m, snap, MetricHeight, m.cfg.Chain.BestHeight)
	snap.Height.WhenSome(m.cfg.Metrics.ObserveChainHeight)

	snap.Peers = readInto(m, snap, MetricPeers,
		m.cfg.Chain.ConnectedPeers)
	snap.Peers.WhenSome(m.cfg.Metrics.ObservePeers)

	snap.Time = m.cfg.Clock.Now()
	snap.Pruned = m.cfg.Window.Prune(snap.Time)
	snap.WindowSize = m.cfg.Window.Size()
	m.cfg.Metrics.ObserveWindowSize(snap.WindowSize)

	log.Infof("%v", snap)
	log.Tracef("Snapshot: %v", newLogClosure(func() string {
		return spew.Sdump(snap)
	}))

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	if m.cfg.OnTick != nil {
		m.cfg.OnTick(snap)
	}

	return snap
}

// readInto performs a bounded read of one metric, recording any failure in
// snap.
func readInto[T any](m *Monitor, snap *Snapshot, metric string,
	read func() (T, error)) fn.Option[T] {

	v, err := readWithTimeout(m.quit, m.cfg.ReadTimeout, read)
	if err != nil {
		readErr := &MetricReadError{Metric: metric, Err: err}
		snap.Errors = append(snap.Errors, readErr)
		m.cfg.Metrics.ObserveReadFailure(metric)
		log.Warnf("%v", readErr)

		return fn.None[T]()
	}

	return fn.Some(v)
}

// readWithTimeout calls read, giving up after timeout or when quit closes.
// An abandoned read is left to finish in the background.
func readWithTimeout[T any](quit <-chan struct{}, timeout time.Duration,
	read func() (T, error)) (T, error) {

	if timeout <= 0 {
		return read()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := read()
		done <- result{v, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		return zero, ErrReadTimeout
	case <-quit:
		return zero, errShuttingDown
	}
}
