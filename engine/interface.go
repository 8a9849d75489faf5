// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package engine adapts btcwallet wallets and chain backends to the narrow
// interfaces the fee wallet daemon consumes.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// ErrWalletUnavailable is returned when a wallet can neither be loaded
	// nor created.  It is fatal at startup.
	ErrWalletUnavailable = errors.New("wallet unavailable")

	// ErrInsufficientFunds is returned by SendToAddress when the wallet
	// cannot assemble a fully funded transaction.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoPassphrase is returned when spending requires the private
	// passphrase and none is configured or obtainable.
	ErrNoPassphrase = errors.New("private passphrase unavailable")
)

// Payment is a transaction paying the wallet's external addresses.
type Payment struct {
	// Hash is the transaction identifier.
	Hash chainhash.Hash

	// Amount is the sum of the outputs credited to external addresses.
	Amount btcutil.Amount

	// Received is when the wallet first observed the transaction.
	Received time.Time
}

// Wallet is a handle to a managed wallet.
type Wallet interface {
	// Name is the wallet identifier used to locate its persisted state.
	Name() string

	// Created reports whether the wallet state was absent at startup and
	// had to be created, in which case the wallet holds no funds.
	Created() bool

	// Balance returns the spendable balance.
	Balance() (btcutil.Amount, error)

	// CurrentReceiveAddress returns the current external address.
	CurrentReceiveAddress() (btcutil.Address, error)

	// FreshReceiveAddress derives a new external address.
	FreshReceiveAddress() (btcutil.Address, error)

	// SendToAddress builds, signs, commits and broadcasts a transaction
	// paying amt to addr.  It fails with ErrInsufficientFunds when the
	// wallet cannot fund it.  No state changes on failure.
	SendToAddress(ctx context.Context, addr btcutil.Address,
		amt btcutil.Amount) (*chainhash.Hash, error)

	// SubscribeIncoming registers fn to be called, in delivery order, for
	// every new payment the wallet observes.
	SubscribeIncoming(fn func(Payment))
}

// Chain reports the state of the blockchain client.
type Chain interface {
	// BestHeight returns the height of the best known block.
	BestHeight() (int32, error)

	// ConnectedPeers returns the number of connected peers.
	ConnectedPeers() (int32, error)
}
