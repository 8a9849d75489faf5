// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/feewallet/faucet"
	"github.com/btcsuite/feewallet/feexfer"
	"github.com/btcsuite/feewallet/metrics"
	"github.com/btcsuite/feewallet/monitor"
	"github.com/btcsuite/feewallet/txwindow"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStatus struct {
	snap *monitor.Snapshot
}

func (f *fakeStatus) LastSnapshot() (*monitor.Snapshot, bool) {
	return f.snap, f.snap != nil
}

type fakeWindow []txwindow.Record

func (f fakeWindow) Snapshot() []txwindow.Record { return f }

type fakeFees struct {
	outcome *feexfer.Outcome
	err     error
}

func (f *fakeFees) Trigger(context.Context) (*feexfer.Outcome, error) {
	return f.outcome, f.err
}

type mockDepositor struct {
	mock.Mock
}

func (m *mockDepositor) RequestDeposit(_ context.Context,
	addr btcutil.Address, amount btcutil.Amount) error {

	return m.Called(addr, amount).Error(0)
}

type fakeAddresses struct {
	current, fresh btcutil.Address
}

func (f *fakeAddresses) CurrentReceiveAddress() (btcutil.Address, error) {
	return f.current, nil
}

func (f *fakeAddresses) FreshReceiveAddress() (btcutil.Address, error) {
	return f.fresh, nil
}

func testAddress(t *testing.T, seed byte) btcutil.Address {
	t.Helper()

	program := make([]byte, 20)
	program[0] = seed
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		program, &chaincfg.TestNet3Params,
	)
	require.NoError(t, err)
	return addr
}

func do(t *testing.T, h http.Handler, method, target string) (int,
	[]byte) {

	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, body
}

func TestStatus(t *testing.T) {
	snap := &monitor.Snapshot{
		Time:    testTime,
		Balance: fn.Some(btcutil.Amount(50_000)),
		Height:  fn.None[int32](),
		Peers:   fn.Some(int32(8)),
		Errors: []error{&monitor.MetricReadError{
			Metric: monitor.MetricHeight,
			Err:    errors.New("offline"),
		}},
	}
	window := fakeWindow{{
		Hash:      chainhash.Hash{0x01},
		Amount:    2_000,
		Timestamp: testTime,
	}}

	s := New(Config{Status: &fakeStatus{snap: snap}, Window: window})

	code, body := do(t, s.Handler(), http.MethodGet, "/v1/status")
	require.Equal(t, http.StatusOK, code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotNil(t, resp.Balance)
	require.EqualValues(t, 50_000, *resp.Balance)
	require.Nil(t, resp.Height)
	require.Nil(t, resp.FeeBalance)
	require.EqualValues(t, 8, *resp.Peers)
	require.Equal(t, []string{"unable to read chain_height: offline"},
		resp.Errors)
	require.Len(t, resp.Recent, 1)
	require.Equal(t, window[0].Hash.String(), resp.Recent[0].Hash)
	require.EqualValues(t, 2_000, resp.Recent[0].Amount)
}

func TestStatusBeforeFirstTick(t *testing.T) {
	s := New(Config{Status: &fakeStatus{}, Window: fakeWindow{}})

	code, body := do(t, s.Handler(), http.MethodGet, "/v1/status")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"balance_sat":null,"chain_height":null,`+
		`"peers":null,"recent_transactions":[]}`, string(body))
}

func TestFeeTransfer(t *testing.T) {
	dest := testAddress(t, 1)
	hash := chainhash.Hash{0x02}

	t.Run("transferred", func(t *testing.T) {
		s := New(Config{Fees: &fakeFees{outcome: &feexfer.Outcome{
			Status:      feexfer.Transferred,
			Balance:     50_000,
			Required:    10_226,
			Deducted:    10_000,
			Destination: dest,
			TxHash:      &hash,
		}}})

		code, body := do(t, s.Handler(), http.MethodPost,
			"/v1/feetransfer")
		require.Equal(t, http.StatusOK, code)

		var resp feeTransferResponse
		require.NoError(t, json.Unmarshal(body, &resp))
		require.Equal(t, "transferred", resp.Status)
		require.EqualValues(t, 10_000, resp.Deducted)
		require.Equal(t, dest.String(), resp.Destination)
		require.Equal(t, hash.String(), resp.TxID)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		s := New(Config{Fees: &fakeFees{outcome: &feexfer.Outcome{
			Status:   feexfer.InsufficientFunds,
			Balance:  5_000,
			Required: 10_226,
			Err:      feexfer.ErrInsufficientFunds,
		}}})

		code, body := do(t, s.Handler(), http.MethodPost,
			"/v1/feetransfer")
		require.Equal(t, http.StatusOK, code)

		var resp feeTransferResponse
		require.NoError(t, json.Unmarshal(body, &resp))
		require.Equal(t, "insufficient_funds", resp.Status)
		require.Zero(t, resp.Deducted)
		require.Equal(t, "insufficient funds", resp.Reason)
	})

	t.Run("failure", func(t *testing.T) {
		s := New(Config{Fees: &fakeFees{
			err: errors.New("broadcast rejected"),
		}})

		code, _ := do(t, s.Handler(), http.MethodPost,
			"/v1/feetransfer")
		require.Equal(t, http.StatusInternalServerError, code)
	})

	t.Run("not configured", func(t *testing.T) {
		code, _ := do(t, New(Config{}).Handler(), http.MethodPost,
			"/v1/feetransfer")
		require.Equal(t, http.StatusServiceUnavailable, code)
	})

	t.Run("wrong method", func(t *testing.T) {
		s := New(Config{Fees: &fakeFees{}})
		code, _ := do(t, s.Handler(), http.MethodGet,
			"/v1/feetransfer")
		require.Equal(t, http.StatusMethodNotAllowed, code)
	})
}

func TestFaucet(t *testing.T) {
	addrs := &fakeAddresses{
		current: testAddress(t, 1),
		fresh:   testAddress(t, 2),
	}

	tests := []struct {
		name     string
		target   string
		addr     btcutil.Address
		amount   btcutil.Amount
		faucet   error
		wantCode int
	}{
		{
			name:     "default amount to current address",
			target:   "/v1/faucet",
			addr:     addrs.current,
			amount:   10_000,
			wantCode: http.StatusOK,
		},
		{
			name:     "explicit amount to fresh address",
			target:   "/v1/faucet?amount=2500&fresh=true",
			addr:     addrs.fresh,
			amount:   2_500,
			wantCode: http.StatusOK,
		},
		{
			name:   "faucet failure",
			target: "/v1/faucet",
			addr:   addrs.current,
			amount: 10_000,
			faucet: &faucet.RequestFailedError{
				StatusCode: http.StatusInternalServerError,
				Status:     "500 Internal Server Error",
			},
			wantCode: http.StatusBadGateway,
		},
		{
			name:   "rate limited",
			target: "/v1/faucet",
			addr:   addrs.current,
			amount: 10_000,
			faucet: &faucet.RequestFailedError{
				Err: faucet.ErrRateLimited,
			},
			wantCode: http.StatusTooManyRequests,
		},
		{
			name:     "bad amount",
			target:   "/v1/faucet?amount=-5",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad fresh",
			target:   "/v1/faucet?fresh=maybe",
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dep := &mockDepositor{}
			if tc.addr != nil {
				dep.On("RequestDeposit", tc.addr, tc.amount).
					Return(tc.faucet)
			}

			s := New(Config{
				Faucet:         dep,
				Wallet:         addrs,
				DefaultDeposit: 10_000,
			})

			code, body := do(t, s.Handler(), http.MethodPost,
				tc.target)
			require.Equal(t, tc.wantCode, code, string(body))
			dep.AssertExpectations(t)

			if code != http.StatusOK {
				return
			}
			var resp faucetResponse
			require.NoError(t, json.Unmarshal(body, &resp))
			require.Equal(t, tc.addr.String(), resp.Address)
			require.EqualValues(t, tc.amount, resp.Amount)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.ObserveChainHeight(2_500_000)

	s := New(Config{Gatherer: reg})
	code, body := do(t, s.Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "feewallet_chain_height 2.5e+06")

	// Without a gatherer the route is not mounted.
	code, _ = do(t, New(Config{}).Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusNotFound, code)
}

func TestStartStop(t *testing.T) {
	s := New(Config{Listen: "127.0.0.1:0", Window: fakeWindow{}})
	require.NoError(t, s.Start())

	resp, err := http.Get(fmt.Sprintf("http://%s/v1/status", s.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestBasicAuth(t *testing.T) {
	s := New(Config{
		Fees: &fakeFees{outcome: &feexfer.Outcome{
			Status: feexfer.InsufficientFunds,
		}},
		User: "admin",
		Pass: "secret",
	})

	tests := []struct {
		name       string
		user, pass string
		auth       bool
		wantCode   int
	}{{
		name:     "no credentials",
		wantCode: http.StatusUnauthorized,
	}, {
		name:     "wrong password",
		user:     "admin",
		pass:     "guess",
		auth:     true,
		wantCode: http.StatusUnauthorized,
	}, {
		name:     "valid credentials",
		user:     "admin",
		pass:     "secret",
		auth:     true,
		wantCode: http.StatusOK,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req := httptest.NewRequest(
				http.MethodPost, "/v1/feetransfer", nil,
			)
			if test.auth {
				req.SetBasicAuth(test.user, test.pass)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			require.Equal(t, test.wantCode, rec.Code)
		})
	}
}
