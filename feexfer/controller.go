// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package feexfer moves a fixed fee amount from the primary wallet to the fee
// wallet when the primary wallet can afford it.
package feexfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/feewallet/engine"
	"github.com/btcsuite/feewallet/metrics"
)

var (
	// ErrInsufficientFunds is the error carried by outcomes that did not
	// move funds.  It is the engine's sentinel so errors.Is matches
	// failures from either layer.
	ErrInsufficientFunds = engine.ErrInsufficientFunds

	// ErrPrimaryRequired is returned when no source wallet is configured.
	ErrPrimaryRequired = errors.New("primary wallet is required")

	// ErrFeeWalletRequired is returned when no fee wallet is configured.
	ErrFeeWalletRequired = errors.New("fee wallet is required")

	// ErrInvalidFeeAmount is returned when the fee amount is not positive.
	ErrInvalidFeeAmount = errors.New("fee amount must be positive")

	// ErrInvalidNetworkFee is returned when the minimum network fee is
	// negative.
	ErrInvalidNetworkFee = errors.New("minimum network fee must not be " +
		"negative")
)

// Status is the result of a single evaluation.
type Status uint8

const (
	// Transferred means the fee amount was sent to the fee wallet.
	Transferred Status = iota

	// InsufficientFunds means the balance check failed and nothing was
	// attempted.
	InsufficientFunds

	// InsufficientFundsAtCommit means the balance check passed but the
	// wallet could not fund the transaction when building it.
	InsufficientFundsAtCommit
)

// String returns the status as used in logs and metric labels.
func (s Status) String() string {
	switch s {
	case Transferred:
		return "transferred"
	case InsufficientFunds:
		return "insufficient_funds"
	case InsufficientFundsAtCommit:
		return "insufficient_funds_at_commit"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Outcome reports what an evaluation did.
type Outcome struct {
	Status Status

	// Balance is the primary wallet balance read by the pre-check.
	Balance btcutil.Amount

	// Required is the fee amount plus the minimum network fee.
	Required btcutil.Amount

	// Deducted is the fee amount sent.  It is zero unless Status is
	// Transferred.  The network fee is charged on top of it.
	Deducted btcutil.Amount

	// Destination is the fee wallet address paid, if one was resolved.
	Destination btcutil.Address

	// TxHash identifies the published transaction.
	TxHash *chainhash.Hash

	// Err wraps ErrInsufficientFunds when nothing was transferred.
	Err error
}

// Source is the wallet the fee is taken from.
type Source interface {
	Name() string
	Balance() (btcutil.Amount, error)
	SendToAddress(ctx context.Context, addr btcutil.Address,
		amt btcutil.Amount) (*chainhash.Hash, error)
}

// Destination is the wallet the fee is paid to.
type Destination interface {
	Name() string
	CurrentReceiveAddress() (btcutil.Address, error)
}

// Config holds the Controller's collaborators and amounts.
type Config struct {
	// Primary pays the fee.
	Primary Source

	// FeeWallet receives the fee at its current receive address.
	FeeWallet Destination

	// FeeAmount is the fixed amount transferred per evaluation.
	FeeAmount btcutil.Amount

	// MinNetworkFee is reserved on top of FeeAmount by the pre-check.
	MinNetworkFee btcutil.Amount

	// Timeout bounds the transfer call.  Zero means no bound beyond the
	// caller's context.
	Timeout time.Duration

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Primary == nil:
		return ErrPrimaryRequired
	case c.FeeWallet == nil:
		return ErrFeeWalletRequired
	case c.FeeAmount <= 0:
		return ErrInvalidFeeAmount
	case c.MinNetworkFee < 0:
		return ErrInvalidNetworkFee
	}
	return nil
}

// Controller evaluates and performs fee transfers.  It holds no state
// between calls; each call to EvaluateAndTransfer stands alone.
type Controller struct {
	cfg Config
}

// NewController validates cfg and returns a Controller.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg}, nil
}

// Required returns the balance the primary wallet needs for a transfer to
// be attempted.
func (c *Controller) Required() btcutil.Amount {
	return c.cfg.FeeAmount + c.cfg.MinNetworkFee
}

// EvaluateAndTransfer sends the fee amount to the fee wallet when the
// primary balance covers it plus the minimum network fee.
//
// Running short of funds, before or while building the transaction, is not
// an error: it is returned as an Outcome.  Errors are returned only for
// failures that say nothing about the balance, such as an unreadable
// balance or a failed broadcast.
func (c *Controller) EvaluateAndTransfer(ctx context.Context) (*Outcome,
	error) {

	outcome, err := c.evaluateAndTransfer(ctx)
	switch {
	case err != nil:
		c.cfg.Metrics.ObserveFeeTransfer("error", 0)
		log.Errorf("Fee transfer from %s failed: %v",
			c.cfg.Primary.Name(), err)

	case outcome.Status == Transferred:
		c.cfg.Metrics.ObserveFeeTransfer(
			outcome.Status.String(), outcome.Deducted,
		)
		log.Infof("Transferred fee of %v from %s to %s (%v) in %v",
			outcome.Deducted, c.cfg.Primary.Name(),
			c.cfg.FeeWallet.Name(), outcome.Destination,
			outcome.TxHash)

	default:
		c.cfg.Metrics.ObserveFeeTransfer(outcome.Status.String(), 0)
		log.Warnf("Fee transfer from %s skipped: %v",
			c.cfg.Primary.Name(), outcome.Err)
	}

	return outcome, err
}

func (c *Controller) evaluateAndTransfer(ctx context.Context) (*Outcome,
	error) {

	required := c.Required()

	balance, err := c.cfg.Primary.Balance()
	if err != nil {
		return nil, fmt.Errorf("unable to read balance of %s: %w",
			c.cfg.Primary.Name(), err)
	}

	outcome := &Outcome{Balance: balance, Required: required}
	if balance < required {
		outcome.Status = InsufficientFunds
		outcome.Err = fmt.Errorf("%w: balance %v is below fee %v plus "+
			"network fee %v", ErrInsufficientFunds, balance,
			c.cfg.FeeAmount, c.cfg.MinNetworkFee)
		return outcome, nil
	}

	dest, err := c.cfg.FeeWallet.CurrentReceiveAddress()
	if err != nil {
		return nil, fmt.Errorf("unable to get receive address of %s: %w",
			c.cfg.FeeWallet.Name(), err)
	}
	outcome.Destination = dest

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	hash, err := c.cfg.Primary.SendToAddress(ctx, dest, c.cfg.FeeAmount)
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		outcome.Status = InsufficientFundsAtCommit
		outcome.Err = err
		return outcome, nil

	case err != nil:
		return nil, fmt.Errorf("unable to send fee to %v: %w", dest, err)
	}

	outcome.Status = Transferred
	outcome.Deducted = c.cfg.FeeAmount
	outcome.TxHash = hash
	return outcome, nil
}
