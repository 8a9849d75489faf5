// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feexfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/feewallet/engine"
	"github.com/btcsuite/feewallet/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testFee        = btcutil.Amount(10_000)
	testNetworkFee = btcutil.Amount(226)

	// chargedFee is what the fake ledger charges per transaction, which
	// is deliberately below the reserved minimum.
	chargedFee = btcutil.Amount(141)
)

// ledger is an in-memory pair of wallets that moves funds between them.
type ledger struct {
	mu         sync.Mutex
	primary    btcutil.Amount
	feeBalance btcutil.Amount
	addr       btcutil.Address

	// commitErr, when set, is returned by SendToAddress.
	commitErr error
	sends     int
}

type ledgerPrimary struct{ *ledger }

func (l ledgerPrimary) Name() string { return "bitcoin-wallet" }

func (l ledgerPrimary) Balance() (btcutil.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.primary, nil
}

func (l ledgerPrimary) SendToAddress(_ context.Context, addr btcutil.Address,
	amt btcutil.Amount) (*chainhash.Hash, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sends++
	if l.commitErr != nil {
		return nil, l.commitErr
	}
	if addr.String() != l.addr.String() {
		return nil, fmt.Errorf("unexpected destination %v", addr)
	}
	if l.primary < amt+chargedFee {
		return nil, engine.ErrInsufficientFunds
	}

	l.primary -= amt + chargedFee
	l.feeBalance += amt
	return &chainhash.Hash{byte(l.sends)}, nil
}

type ledgerFee struct{ *ledger }

func (l ledgerFee) Name() string { return "fee-wallet" }

func (l ledgerFee) CurrentReceiveAddress() (btcutil.Address, error) {
	return l.addr, nil
}

func newLedger(t *testing.T, balance btcutil.Amount) *ledger {
	t.Helper()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.TestNet3Params,
	)
	require.NoError(t, err)

	return &ledger{primary: balance, addr: addr}
}

func newTestController(t *testing.T, l *ledger,
	m *metrics.Metrics) *Controller {

	t.Helper()

	c, err := NewController(Config{
		Primary:       ledgerPrimary{l},
		FeeWallet:     ledgerFee{l},
		FeeAmount:     testFee,
		MinNetworkFee: testNetworkFee,
		Metrics:       m,
	})
	require.NoError(t, err)
	return c
}

func TestConfigValidate(t *testing.T) {
	l := newLedger(t, 0)
	valid := func() Config {
		return Config{
			Primary:       ledgerPrimary{l},
			FeeWallet:     ledgerFee{l},
			FeeAmount:     testFee,
			MinNetworkFee: testNetworkFee,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:   "zero network fee",
			mutate: func(c *Config) { c.MinNetworkFee = 0 },
		},
		{
			name:    "missing primary",
			mutate:  func(c *Config) { c.Primary = nil },
			wantErr: ErrPrimaryRequired,
		},
		{
			name:    "missing fee wallet",
			mutate:  func(c *Config) { c.FeeWallet = nil },
			wantErr: ErrFeeWalletRequired,
		},
		{
			name:    "zero fee",
			mutate:  func(c *Config) { c.FeeAmount = 0 },
			wantErr: ErrInvalidFeeAmount,
		},
		{
			name:    "negative network fee",
			mutate:  func(c *Config) { c.MinNetworkFee = -1 },
			wantErr: ErrInvalidNetworkFee,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)

			_, err := NewController(cfg)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestEvaluateInsufficientFunds(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	l := newLedger(t, 5_000)
	c := newTestController(t, l, m)

	// Repeated evaluations have no cumulative effect.
	for i := 0; i < 3; i++ {
		outcome, err := c.EvaluateAndTransfer(context.Background())
		require.NoError(t, err)
		require.Equal(t, InsufficientFunds, outcome.Status)
		require.ErrorIs(t, outcome.Err, ErrInsufficientFunds)
		require.Equal(t, btcutil.Amount(5_000), outcome.Balance)
		require.Equal(t, testFee+testNetworkFee, outcome.Required)
		require.Zero(t, outcome.Deducted)
		require.Nil(t, outcome.TxHash)
	}

	require.Equal(t, btcutil.Amount(5_000), l.primary)
	require.Zero(t, l.feeBalance)
	require.Zero(t, l.sends)
}

func TestEvaluateBoundary(t *testing.T) {
	// One satoshi short of the requirement is rejected.
	l := newLedger(t, testFee+testNetworkFee-1)
	outcome, err := newTestController(t, l, nil).
		EvaluateAndTransfer(context.Background())
	require.NoError(t, err)
	require.Equal(t, InsufficientFunds, outcome.Status)

	// Exactly the requirement is accepted.
	l = newLedger(t, testFee+testNetworkFee)
	outcome, err = newTestController(t, l, nil).
		EvaluateAndTransfer(context.Background())
	require.NoError(t, err)
	require.Equal(t, Transferred, outcome.Status)
}

func TestEvaluateTransfers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	l := newLedger(t, 50_000)
	c := newTestController(t, l, m)

	outcome, err := c.EvaluateAndTransfer(context.Background())
	require.NoError(t, err)
	require.Equal(t, Transferred, outcome.Status)
	require.NoError(t, outcome.Err)
	require.Equal(t, testFee, outcome.Deducted)
	require.Equal(t, l.addr, outcome.Destination)
	require.NotNil(t, outcome.TxHash)

	require.Equal(t, btcutil.Amount(50_000)-testFee-chargedFee, l.primary)
	require.Equal(t, testFee, l.feeBalance)

	// Transfers are not deduplicated across calls.
	_, err = c.EvaluateAndTransfer(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2*testFee, l.feeBalance)

	const want = `
# HELP feewallet_fee_transferred_satoshis_total Total amount moved to the fee wallet.
# TYPE feewallet_fee_transferred_satoshis_total counter
feewallet_fee_transferred_satoshis_total 20000
`
	require.NoError(t, testutil.GatherAndCompare(
		reg, strings.NewReader(want),
		"feewallet_fee_transferred_satoshis_total",
	))
}

func TestEvaluateInsufficientAtCommit(t *testing.T) {
	l := newLedger(t, 50_000)
	l.commitErr = fmt.Errorf("%w: outputs spent concurrently",
		engine.ErrInsufficientFunds)

	outcome, err := newTestController(t, l, nil).
		EvaluateAndTransfer(context.Background())
	require.NoError(t, err)
	require.Equal(t, InsufficientFundsAtCommit, outcome.Status)
	require.ErrorIs(t, outcome.Err, ErrInsufficientFunds)
	require.Zero(t, outcome.Deducted)
	require.Equal(t, btcutil.Amount(50_000), l.primary)
	require.Equal(t, 1, l.sends)
}

// mockSource is a testify mock of a Source.
type mockSource struct {
	mock.Mock
}

func (m *mockSource) Name() string { return "mock" }

func (m *mockSource) Balance() (btcutil.Amount, error) {
	args := m.Called()
	return args.Get(0).(btcutil.Amount), args.Error(1)
}

func (m *mockSource) SendToAddress(ctx context.Context, addr btcutil.Address,
	amt btcutil.Amount) (*chainhash.Hash, error) {

	args := m.Called(ctx, addr, amt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chainhash.Hash), args.Error(1)
}

func TestEvaluateErrors(t *testing.T) {
	l := newLedger(t, 0)
	errRead := errors.New("wallet busy")
	errSend := errors.New("broadcast rejected")

	t.Run("balance read", func(t *testing.T) {
		src := &mockSource{}
		src.On("Balance").Return(btcutil.Amount(0), errRead)

		c, err := NewController(Config{
			Primary: src, FeeWallet: ledgerFee{l}, FeeAmount: testFee,
		})
		require.NoError(t, err)

		outcome, err := c.EvaluateAndTransfer(context.Background())
		require.ErrorIs(t, err, errRead)
		require.Nil(t, outcome)
		src.AssertNotCalled(t, "SendToAddress", mock.Anything,
			mock.Anything, mock.Anything)
	})

	t.Run("send failure", func(t *testing.T) {
		src := &mockSource{}
		src.On("Balance").Return(btcutil.Amount(50_000), nil)
		src.On("SendToAddress", mock.Anything, l.addr, testFee).
			Return(nil, errSend)

		c, err := NewController(Config{
			Primary: src, FeeWallet: ledgerFee{l}, FeeAmount: testFee,
		})
		require.NoError(t, err)

		_, err = c.EvaluateAndTransfer(context.Background())
		require.ErrorIs(t, err, errSend)
		require.NotErrorIs(t, err, ErrInsufficientFunds)
		src.AssertExpectations(t)
	})

	t.Run("timeout applied to send", func(t *testing.T) {
		src := &mockSource{}
		src.On("Balance").Return(btcutil.Amount(50_000), nil)
		src.On("SendToAddress", mock.Anything, l.addr, testFee).
			Return(&chainhash.Hash{}, nil).
			Run(func(args mock.Arguments) {
				ctx := args.Get(0).(context.Context)
				_, ok := ctx.Deadline()
				require.True(t, ok)
			})

		c, err := NewController(Config{
			Primary: src, FeeWallet: ledgerFee{l}, FeeAmount: testFee,
			Timeout: time.Minute,
		})
		require.NoError(t, err)

		outcome, err := c.EvaluateAndTransfer(context.Background())
		require.NoError(t, err)
		require.Equal(t, Transferred, outcome.Status)
	})
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "transferred", Transferred.String())
	require.Equal(t, "insufficient_funds", InsufficientFunds.String())
	require.Equal(t, "insufficient_funds_at_commit",
		InsufficientFundsAtCommit.String())
	require.Equal(t, "unknown(9)", Status(9).String())
}
