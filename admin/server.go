// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package admin serves the HTTP control surface of feewalletd: the current
// status, on-demand fee transfers and faucet deposits, and the prometheus
// metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/feewallet/feexfer"
	"github.com/btcsuite/feewallet/monitor"
	"github.com/btcsuite/feewallet/txwindow"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultRequestTimeout bounds the work done for one request.
	DefaultRequestTimeout = time.Minute

	// authRealm is announced to clients that fail basic auth.
	authRealm = "feewalletd"

	// shutdownTimeout bounds how long Stop waits for requests in flight.
	shutdownTimeout = 5 * time.Second
)

// StatusSource returns the most recent poll snapshot.
type StatusSource interface {
	LastSnapshot() (*monitor.Snapshot, bool)
}

// WindowSource returns the tracked recent transactions.
type WindowSource interface {
	Snapshot() []txwindow.Record
}

// FeeTrigger runs a fee transfer on demand.
type FeeTrigger interface {
	Trigger(ctx context.Context) (*feexfer.Outcome, error)
}

// Depositor requests faucet deposits.
type Depositor interface {
	RequestDeposit(ctx context.Context, addr btcutil.Address,
		amount btcutil.Amount) error
}

// AddressSource supplies the addresses faucet deposits are sent to.
type AddressSource interface {
	CurrentReceiveAddress() (btcutil.Address, error)
	FreshReceiveAddress() (btcutil.Address, error)
}

// Config holds the Server's collaborators.  Routes whose collaborator is nil
// answer 503 Service Unavailable.
type Config struct {
	// Listen is the address the server binds.
	Listen string

	Status StatusSource
	Window WindowSource
	Fees   FeeTrigger
	Faucet Depositor

	// Wallet is the primary wallet, credited by faucet deposits.
	Wallet AddressSource

	// DefaultDeposit is requested when a faucet call names no amount.
	DefaultDeposit btcutil.Amount

	// User and Pass, when User is set, are required from every request
	// as HTTP basic auth credentials.
	User string
	Pass string

	// Gatherer backs /metrics.  The route is not mounted when nil.
	Gatherer prometheus.Gatherer

	// RequestTimeout bounds each request.  DefaultRequestTimeout is used
	// when zero.
	RequestTimeout time.Duration
}

// Server is the admin HTTP server.
type Server struct {
	started int32 // To be used atomically.
	stopped int32 // To be used atomically.

	cfg    Config
	router http.Handler

	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// New returns a Server for cfg.  It does not listen until Start.
func New(cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	s := &Server{cfg: cfg}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	if s.cfg.User != "" {
		r.Use(chimw.BasicAuth(authRealm, map[string]string{
			s.cfg.User: s.cfg.Pass,
		}))
	}
	r.Use(chimw.Timeout(s.cfg.RequestTimeout))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/status", s.handleStatus)
		v1.Post("/feetransfer", s.handleFeeTransfer)
		v1.Post("/faucet", s.handleFaucet)
	})

	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(
			s.cfg.Gatherer, promhttp.HandlerOpts{},
		))
	}

	return r
}

// Start binds the listen address and serves in a goroutine.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Infof("Admin server listening on %s", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Admin server failed: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down, waiting briefly for requests in flight.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.stopped, 0, 1) {
		return nil
	}
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()

	return err
}

// requestLogger logs every request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		log.Debugf("%s %s from %s: %d (%v)", r.Method, r.URL.Path,
			r.RemoteAddr, ww.Status(), time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
