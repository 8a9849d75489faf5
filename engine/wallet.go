// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/chain"
	"github.com/btcsuite/btcwallet/waddrmgr"
	"github.com/btcsuite/btcwallet/wallet"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
)

const (
	// defaultAccount is the BIP0044 account every operation uses.
	defaultAccount = 0

	// defaultRecoveryWindow is the look-ahead used when a wallet is
	// opened, matching btcwallet's daemon.
	defaultRecoveryWindow = 250

	// transferLabel is attached to every transaction SendToAddress
	// publishes.
	transferLabel = "feewallet transfer"
)

// keyScope is the scope addresses are derived from: native segwit.
var keyScope = waddrmgr.KeyScopeBIP0084

// walletController is the subset of *wallet.Wallet the handle uses.
type walletController interface {
	CalculateBalance(confirms int32) (btcutil.Amount, error)
	CurrentAddress(account uint32,
		scope waddrmgr.KeyScope) (btcutil.Address, error)
	NewAddress(account uint32,
		scope waddrmgr.KeyScope) (btcutil.Address, error)
	SendOutputs(outputs []*wire.TxOut, keyScope *waddrmgr.KeyScope,
		account uint32, minconf int32, satPerKb btcutil.Amount,
		strategy wallet.CoinSelectionStrategy,
		label string) (*wire.MsgTx, error)
	Locked() bool
	Unlock(passphrase []byte, lock <-chan time.Time) error
	Lock()
}

// A compile-time assertion that btcwallet satisfies walletController.
var _ walletController = (*wallet.Wallet)(nil)

// WalletConfig describes where a wallet lives and how it spends.
type WalletConfig struct {
	// Name identifies the wallet.  Its database is kept in a directory of
	// the same name below DataDir.
	Name string

	// DataDir is the network-namespaced data directory.
	DataDir string

	// ChainParams selects the network.
	ChainParams *chaincfg.Params

	// PubPassphrase encrypts the wallet's public data.
	PubPassphrase []byte

	// PrivPassphrase encrypts the wallet's private keys.  When empty,
	// ObtainPrivPass is consulted.
	PrivPassphrase []byte

	// ObtainPrivPass is called when a private passphrase is needed and
	// PrivPassphrase is empty.  create is set when the passphrase will
	// encrypt a new wallet.  It may be nil.
	ObtainPrivPass func(create bool) ([]byte, error)

	// OnIncoming, when set, receives the wallet's incoming payments.  It
	// is subscribed by Synchronize before syncing starts so no payment
	// found during the first sync is missed.
	OnIncoming func(Payment)

	// DBTimeout bounds how long opening the wallet database may block.
	DBTimeout time.Duration

	// MinConf is the number of confirmations an output needs to count as
	// spendable.
	MinConf int32

	// FeeRate is the fee rate, in satoshi per kilobyte, used to build
	// transactions.
	FeeRate btcutil.Amount
}

// BtcWallet is a Wallet backed by a btcwallet wallet.
type BtcWallet struct {
	cfg     WalletConfig
	created bool

	loader *wallet.Loader
	w      walletController

	// subscribe opens a transaction notification stream.  It returns the
	// stream and a function that releases it.
	subscribe func() (<-chan *wallet.TransactionNotifications, func())

	// synchronize starts syncing against a chain client.
	synchronize func(chain.Interface)

	// spendMtx serializes unlock/send/lock sequences.
	spendMtx sync.Mutex

	quit chan struct{}
	wg   sync.WaitGroup
}

// A compile-time assertion that BtcWallet implements Wallet.
var _ Wallet = (*BtcWallet)(nil)

// OpenWallet loads the named wallet or, when its database does not exist
// yet, creates and persists it.  Any failure is wrapped with
// ErrWalletUnavailable.
func OpenWallet(cfg WalletConfig) (*BtcWallet, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: wallet name required",
			ErrWalletUnavailable)
	}
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = wallet.DefaultDBTimeout
	}

	dbDir := filepath.Join(cfg.DataDir, cfg.Name)
	loader := wallet.NewLoader(
		cfg.ChainParams, dbDir, true, cfg.DBTimeout,
		defaultRecoveryWindow,
	)

	exists, err := loader.WalletExists()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrWalletUnavailable,
			cfg.Name, err)
	}

	var (
		w       *wallet.Wallet
		created bool
	)
	if exists {
		log.Debugf("Opening wallet %s in %s", cfg.Name, dbDir)
		w, err = loader.OpenExistingWallet(cfg.PubPassphrase, false)
	} else {
		log.Infof("Wallet %s not found in %s, creating a new one",
			cfg.Name, dbDir)

		var privPass []byte
		privPass, err = privPassphrase(&cfg, true)
		if err == nil {
			w, err = loader.CreateNewWallet(
				cfg.PubPassphrase, privPass, nil, time.Now(),
			)
		}
		created = true
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrWalletUnavailable,
			cfg.Name, err)
	}

	bw := newBtcWallet(cfg, w, created)
	bw.loader = loader
	bw.subscribe = func() (<-chan *wallet.TransactionNotifications, func()) {
		client := w.NtfnServer.TransactionNotifications()
		return client.C, client.Done
	}
	bw.synchronize = w.SynchronizeRPC

	return bw, nil
}

// newBtcWallet wraps an opened wallet controller.
func newBtcWallet(cfg WalletConfig, w walletController,
	created bool) *BtcWallet {

	return &BtcWallet{
		cfg:     cfg,
		created: created,
		w:       w,
		quit:    make(chan struct{}),
	}
}

// privPassphrase returns the configured private passphrase, asking
// ObtainPrivPass for it when necessary.
func privPassphrase(cfg *WalletConfig, create bool) ([]byte, error) {
	if len(cfg.PrivPassphrase) > 0 {
		return cfg.PrivPassphrase, nil
	}
	if cfg.ObtainPrivPass == nil {
		return nil, ErrNoPassphrase
	}

	pass, err := cfg.ObtainPrivPass(create)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoPassphrase, err)
	}
	if len(pass) == 0 {
		return nil, ErrNoPassphrase
	}

	// Remember the passphrase so later spends do not prompt again.
	cfg.PrivPassphrase = pass
	return pass, nil
}

// Synchronize subscribes OnIncoming, then associates the wallet with a chain
// client and begins syncing.
func (b *BtcWallet) Synchronize(client chain.Interface) {
	if b.cfg.OnIncoming != nil {
		b.SubscribeIncoming(b.cfg.OnIncoming)
	}
	if b.synchronize != nil {
		b.synchronize(client)
	}
}

// Close stops notification delivery and unloads the wallet, closing its
// database.
func (b *BtcWallet) Close() error {
	select {
	case <-b.quit:
		return nil
	default:
	}
	close(b.quit)
	b.wg.Wait()

	if b.loader == nil {
		return nil
	}
	err := b.loader.UnloadWallet()
	if err != nil && !errors.Is(err, wallet.ErrNotLoaded) {
		return err
	}
	return nil
}

// Name returns the wallet identifier.
func (b *BtcWallet) Name() string {
	return b.cfg.Name
}

// Created reports whether the wallet was created during OpenWallet.
func (b *BtcWallet) Created() bool {
	return b.created
}

// Balance returns the balance spendable with MinConf confirmations.
func (b *BtcWallet) Balance() (btcutil.Amount, error) {
	return b.w.CalculateBalance(b.cfg.MinConf)
}

// CurrentReceiveAddress returns the last unused external address.
func (b *BtcWallet) CurrentReceiveAddress() (btcutil.Address, error) {
	return b.w.CurrentAddress(defaultAccount, keyScope)
}

// FreshReceiveAddress derives a new external address.
func (b *BtcWallet) FreshReceiveAddress() (btcutil.Address, error) {
	return b.w.NewAddress(defaultAccount, keyScope)
}

// SendToAddress pays amt to addr from the default account.  The wallet is
// unlocked for the duration of the call when it is locked.
func (b *BtcWallet) SendToAddress(ctx context.Context, addr btcutil.Address,
	amt btcutil.Amount) (*chainhash.Hash, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("unable to create output script for "+
			"%v: %w", addr, err)
	}

	b.spendMtx.Lock()
	defer b.spendMtx.Unlock()

	if b.w.Locked() {
		pass, err := privPassphrase(&b.cfg, false)
		if err != nil {
			return nil, err
		}
		if err := b.w.Unlock(pass, nil); err != nil {
			return nil, fmt.Errorf("unable to unlock wallet %s: %w",
				b.cfg.Name, err)
		}
		defer b.w.Lock()
	}

	outputs := []*wire.TxOut{wire.NewTxOut(int64(amt), pkScript)}
	tx, err := b.w.SendOutputs(
		outputs, &keyScope, defaultAccount, b.cfg.MinConf,
		b.cfg.FeeRate, wallet.CoinSelectionLargest, transferLabel,
	)
	if err != nil {
		var srcErr txauthor.InputSourceError
		if errors.As(err, &srcErr) {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds,
				err)
		}
		return nil, err
	}

	hash := tx.TxHash()
	log.Debugf("Wallet %s published %v paying %v to %v", b.cfg.Name,
		hash, amt, addr)

	return &hash, nil
}

// SubscribeIncoming starts a goroutine delivering every transaction that
// credits the wallet's external addresses to fn.  Transactions are reported
// when first seen, whether mined or not; a transaction seen unmined and later
// mined is reported twice.
func (b *BtcWallet) SubscribeIncoming(fn func(Payment)) {
	if b.subscribe == nil {
		return
	}

	ntfns, done := b.subscribe()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer done()

		for {
			select {
			case n, ok := <-ntfns:
				if !ok {
					return
				}
				for _, p := range paymentsFromNotification(n) {
					fn(p)
				}

			case <-b.quit:
				return
			}
		}
	}()
}

// paymentsFromNotification extracts the incoming payments from a wallet
// notification in delivery order: unmined transactions first, then those in
// attached blocks.
func paymentsFromNotification(n *wallet.TransactionNotifications) []Payment {
	if n == nil {
		return nil
	}

	var payments []Payment
	add := func(s *wallet.TransactionSummary) {
		p, ok := paymentFromSummary(s)
		if ok {
			payments = append(payments, p)
		}
	}

	for i := range n.UnminedTransactions {
		add(&n.UnminedTransactions[i])
	}
	for _, block := range n.AttachedBlocks {
		for i := range block.Transactions {
			add(&block.Transactions[i])
		}
	}

	return payments
}

// paymentFromSummary sums the outputs of s paying external wallet
// addresses.  Change outputs are internal and do not count as received.
func paymentFromSummary(s *wallet.TransactionSummary) (Payment, bool) {
	if s.Hash == nil || len(s.MyOutputs) == 0 {
		return Payment{}, false
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(s.Transaction)); err != nil {
		log.Warnf("Unable to decode transaction %v: %v", s.Hash, err)
		return Payment{}, false
	}

	var received btcutil.Amount
	for _, out := range s.MyOutputs {
		if out.Internal || int(out.Index) >= len(tx.TxOut) {
			continue
		}
		received += btcutil.Amount(tx.TxOut[out.Index].Value)
	}
	if received <= 0 {
		return Payment{}, false
	}

	return Payment{
		Hash:     *s.Hash,
		Amount:   received,
		Received: time.Unix(s.Timestamp, 0),
	}, true
}
