// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txwindow tracks the incoming transactions a wallet received within
// a trailing time window.
//
// Records reach the Tracker either synchronously through OnIncoming or
// asynchronously through Enqueue, which hands them to an unbounded queue
// drained by the Tracker's own goroutine so that the wallet notification path
// never blocks on the poll loop.  Records are only ever removed by an explicit
// call to Prune.
package txwindow

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
)

const (
	// DefaultRecentPeriod is the default retention window.
	DefaultRecentPeriod = 24 * time.Hour

	// defaultQueueBuffer is the number of records the async queue holds
	// in its channel buffer before spilling into its overflow list.
	defaultQueueBuffer = 16
)

// ErrInvalidPeriod is returned by New when the retention window is not
// positive.
var ErrInvalidPeriod = errors.New("recent period must be positive")

// Record describes a single incoming payment.  Records are immutable once
// created.
type Record struct {
	// Hash is the transaction identifier.
	Hash chainhash.Hash

	// Amount is the value received by the wallet's external addresses.
	Amount btcutil.Amount

	// Timestamp is the wall clock time the wallet first observed the
	// transaction.
	Timestamp time.Time
}

// Config holds the Tracker's options.
type Config struct {
	// RecentPeriod is the retention window.  A record is retained while
	// now - Timestamp <= RecentPeriod.
	RecentPeriod time.Duration

	// RejectStale drops records that are already outside the window when
	// they arrive instead of tracking them until the next prune.
	RejectStale bool

	// Clock is the time source used to judge records on arrival.
	Clock clock.Clock
}

// Tracker keeps the ordered set of recent incoming transactions.
//
// Tracker is safe for concurrent access.
type Tracker struct {
	started int32 // To be used atomically.
	stopped int32 // To be used atomically.

	cfg Config

	mu      sync.Mutex
	records []Record
	tracked map[chainhash.Hash]struct{}

	// pruned maps recently evicted transactions to their eviction time.
	// A late duplicate notification of one of them is ignored.  Entries
	// are forgotten one retention window after eviction.
	pruned map[chainhash.Hash]time.Time

	queue *queue.ConcurrentQueue

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a Tracker.  A nil Clock defaults to the system clock.
func New(cfg Config) (*Tracker, error) {
	if cfg.RecentPeriod <= 0 {
		return nil, ErrInvalidPeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Tracker{
		cfg:     cfg,
		tracked: make(map[chainhash.Hash]struct{}),
		pruned:  make(map[chainhash.Hash]time.Time),
		queue:   queue.NewConcurrentQueue(defaultQueueBuffer),
		quit:    make(chan struct{}),
	}, nil
}

// Start launches the goroutine that drains records passed to Enqueue.
func (t *Tracker) Start() error {
	if !atomic.CompareAndSwapInt32(&t.started, 0, 1) {
		return nil
	}

	t.queue.Start()

	t.wg.Add(1)
	go t.handler()

	return nil
}

// Stop halts the queue handler.  Records still queued are discarded.
func (t *Tracker) Stop() {
	if !atomic.CompareAndSwapInt32(&t.stopped, 0, 1) {
		return
	}

	close(t.quit)
	t.wg.Wait()

	if atomic.LoadInt32(&t.started) == 1 {
		t.queue.Stop()
	}
}

// handler moves queued records into the window in delivery order.
//
// NOTE: This MUST be run as a goroutine.
func (t *Tracker) handler() {
	defer t.wg.Done()

	for {
		select {
		case item, ok := <-t.queue.ChanOut():
			if !ok {
				return
			}
			rec, ok := item.(Record)
			if !ok {
				log.Errorf("Dropping unexpected queue item %T", item)
				continue
			}
			t.OnIncoming(rec)

		case <-t.quit:
			return
		}
	}
}

// Enqueue hands rec to the Tracker's goroutine.  It is intended to be used as
// a wallet notification callback and returns without waiting for the record
// to be inserted.  Before Start the record is inserted synchronously and
// records enqueued after Stop are dropped.
func (t *Tracker) Enqueue(rec Record) {
	if atomic.LoadInt32(&t.started) == 0 {
		t.OnIncoming(rec)
		return
	}

	select {
	case t.queue.ChanIn() <- rec:
	case <-t.quit:
		log.Debugf("Tracker stopped, dropping transaction %v", rec.Hash)
	}
}

// OnIncoming inserts rec into the window and reports whether it is now
// tracked.  A record already outside the window is still tracked until the
// next Prune unless RejectStale is set.  A transaction that is already tracked
// or was pruned within the last retention window is ignored.
func (t *Tracker) OnIncoming(rec Record) bool {
	now := t.cfg.Clock.Now()
	stale := now.Sub(rec.Timestamp) > t.cfg.RecentPeriod

	if stale && t.cfg.RejectStale {
		log.Debugf("Ignoring stale transaction %v observed at %v",
			rec.Hash, rec.Timestamp)
		return false
	}

	t.mu.Lock()
	if _, ok := t.tracked[rec.Hash]; ok {
		t.mu.Unlock()
		log.Tracef("Transaction %v already tracked", rec.Hash)
		return false
	}
	if _, ok := t.pruned[rec.Hash]; ok {
		t.mu.Unlock()
		log.Tracef("Transaction %v already pruned", rec.Hash)
		return false
	}
	t.tracked[rec.Hash] = struct{}{}
	t.records = append(t.records, rec)
	t.mu.Unlock()

	if stale {
		log.Warnf("New transaction %v (%v) is older than %v, it will "+
			"be pruned on the next tick", rec.Hash, rec.Amount,
			t.cfg.RecentPeriod)
		return true
	}

	log.Infof("New recent transaction: %v (%v)", rec.Hash, rec.Amount)
	return true
}

// Prune removes every record whose age at now exceeds the retention window
// and returns the number of records removed.  Pruning is idempotent.
func (t *Tracker) Prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.records[:0]
	for _, rec := range t.records {
		if now.Sub(rec.Timestamp) > t.cfg.RecentPeriod {
			delete(t.tracked, rec.Hash)
			t.pruned[rec.Hash] = now
			continue
		}
		kept = append(kept, rec)
	}

	for hash, prunedAt := range t.pruned {
		if now.Sub(prunedAt) > t.cfg.RecentPeriod {
			delete(t.pruned, hash)
		}
	}

	removed := len(t.records) - len(kept)

	// Clear the tail so evicted records can be collected.
	for i := len(kept); i < len(t.records); i++ {
		t.records[i] = Record{}
	}
	t.records = kept

	if removed > 0 {
		log.Debugf("Pruned %d %s older than %v", removed,
			pickNoun(removed, "transaction", "transactions"),
			t.cfg.RecentPeriod)
	}

	return removed
}

// Size returns the number of tracked records.  It does not prune.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.records)
}

// Snapshot returns a copy of the tracked records in arrival order.  It does
// not prune.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// RecentPeriod returns the configured retention window.
func (t *Tracker) RecentPeriod() time.Duration {
	return t.cfg.RecentPeriod
}

// pickNoun returns the singular or plural form of a noun depending
// on the count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
