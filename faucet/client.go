// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package faucet requests test network funds from an HTTP faucet.
package faucet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/feewallet/metrics"
	"golang.org/x/time/rate"
)

const (
	// DefaultURL is the testnet faucet endpoint.
	DefaultURL = "https://faucet.triangleplatform.com/bitcoin/testnet"

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of a failed response body is kept.
	maxErrorBody = 512
)

var (
	// ErrRequestFailed is matched by every error RequestDeposit returns.
	ErrRequestFailed = errors.New("faucet request failed")

	// ErrRateLimited is returned when a request is refused locally
	// because the previous one was too recent.
	ErrRateLimited = errors.New("faucet rate limit exceeded")
)

// RequestFailedError describes a failed deposit request.  StatusCode is zero
// when no response was received.
type RequestFailedError struct {
	StatusCode int
	Status     string
	Err        error
}

// Error implements the error interface.
func (e *RequestFailedError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("faucet request failed: %s: %v", e.Status,
			e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("faucet request failed: %s", e.Status)
	default:
		return fmt.Sprintf("faucet request failed: %v", e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

// Is makes every RequestFailedError match ErrRequestFailed.
func (e *RequestFailedError) Is(target error) bool {
	return target == ErrRequestFailed
}

// Config holds the Client's options.
type Config struct {
	// URL is the faucet endpoint.  DefaultURL is used when empty.
	URL string

	// Timeout bounds each request.  DefaultTimeout is used when zero.
	Timeout time.Duration

	// MinInterval is the minimum time between two requests.  Zero
	// disables the limit.
	MinInterval time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Client asks a faucet to credit addresses.  Each request is a single
// attempt; nothing is retried.
type Client struct {
	endpoint *url.URL
	http     *http.Client
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
}

// New returns a Client for cfg.
func New(cfg Config) (*Client, error) {
	rawURL := cfg.URL
	if rawURL == "" {
		rawURL = DefaultURL
	}
	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid faucet url: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("invalid faucet url %q: scheme must be "+
			"http or https", rawURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	return &Client{
		endpoint: endpoint,
		http:     httpClient,
		limiter:  limiter,
		metrics:  cfg.Metrics,
	}, nil
}

// RequestDeposit asks the faucet to send amount to addr.  It succeeds only
// when the faucet answers 200 OK.  Failures match ErrRequestFailed.
func (c *Client) RequestDeposit(ctx context.Context, addr btcutil.Address,
	amount btcutil.Amount) error {

	err := c.requestDeposit(ctx, addr, amount)
	c.metrics.ObserveFaucet(err == nil)
	if err != nil {
		log.Warnf("Faucet deposit of %v to %v failed: %v", amount, addr,
			err)
		return err
	}

	log.Infof("Faucet deposit of %v to %v requested", amount, addr)
	return nil
}

func (c *Client) requestDeposit(ctx context.Context, addr btcutil.Address,
	amount btcutil.Amount) error {

	if amount <= 0 {
		return &RequestFailedError{
			Err: fmt.Errorf("invalid amount %v", amount),
		}
	}
	if !c.limiter.Allow() {
		return &RequestFailedError{Err: ErrRateLimited}
	}

	u := *c.endpoint
	q := u.Query()
	q.Set("address", addr.EncodeAddress())
	q.Set("amount", strconv.FormatInt(int64(amount), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(),
		nil)
	if err != nil {
		return &RequestFailedError{Err: err}
	}

	log.Debugf("Requesting faucet deposit: GET %s", u.Redacted())

	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestFailedError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		failure := &RequestFailedError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			failure.Err = errors.New(msg)
		}
		return failure
	}

	// Drain the body so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
