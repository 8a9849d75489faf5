// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package admin

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/feewallet/faucet"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var errUnavailable = errors.New("not available")

type recentTx struct {
	Hash      string    `json:"hash"`
	Amount    int64     `json:"amount_sat"`
	Timestamp time.Time `json:"timestamp"`
}

type statusResponse struct {
	Time       *time.Time `json:"time,omitempty"`
	Balance    *int64     `json:"balance_sat"`
	FeeBalance *int64     `json:"fee_balance_sat,omitempty"`
	Height     *int32     `json:"chain_height"`
	Peers      *int32     `json:"peers"`
	Errors     []string   `json:"errors,omitempty"`
	Recent     []recentTx `json:"recent_transactions"`
}

// optionPtr returns a pointer to the value held by o, or nil.
func optionPtr[T, U any](o fn.Option[T], conv func(T) U) *U {
	var ptr *U
	o.WhenSome(func(v T) {
		u := conv(v)
		ptr = &u
	})
	return ptr
}

func amountSat(a btcutil.Amount) int64 { return int64(a) }

func identity[T any](v T) T { return v }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Recent: []recentTx{}}

	if s.cfg.Status != nil {
		if snap, ok := s.cfg.Status.LastSnapshot(); ok {
			resp.Time = &snap.Time
			resp.Balance = optionPtr(snap.Balance, amountSat)
			resp.FeeBalance = optionPtr(snap.FeeBalance, amountSat)
			resp.Height = optionPtr(snap.Height, identity[int32])
			resp.Peers = optionPtr(snap.Peers, identity[int32])
			for _, err := range snap.Errors {
				resp.Errors = append(resp.Errors, err.Error())
			}
		}
	}

	if s.cfg.Window != nil {
		for _, rec := range s.cfg.Window.Snapshot() {
			resp.Recent = append(resp.Recent, recentTx{
				Hash:      rec.Hash.String(),
				Amount:    int64(rec.Amount),
				Timestamp: rec.Timestamp,
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type feeTransferResponse struct {
	Status      string `json:"status"`
	Balance     int64  `json:"balance_sat"`
	Required    int64  `json:"required_sat"`
	Deducted    int64  `json:"deducted_sat"`
	Destination string `json:"destination,omitempty"`
	TxID        string `json:"txid,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (s *Server) handleFeeTransfer(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Fees == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf(
			"fee transfers %w", errUnavailable))
		return
	}

	outcome, err := s.cfg.Fees.Trigger(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := feeTransferResponse{
		Status:   outcome.Status.String(),
		Balance:  int64(outcome.Balance),
		Required: int64(outcome.Required),
		Deducted: int64(outcome.Deducted),
	}
	if outcome.Destination != nil {
		resp.Destination = outcome.Destination.String()
	}
	if outcome.TxHash != nil {
		resp.TxID = outcome.TxHash.String()
	}
	if outcome.Err != nil {
		resp.Reason = outcome.Err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

type faucetResponse struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount_sat"`
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Faucet == nil || s.cfg.Wallet == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf(
			"faucet %w", errUnavailable))
		return
	}

	query := r.URL.Query()

	amount := s.cfg.DefaultDeposit
	if v := query.Get("amount"); v != "" {
		sat, err := strconv.ParseInt(v, 10, 64)
		if err != nil || sat <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf(
				"invalid amount %q", v))
			return
		}
		amount = btcutil.Amount(sat)
	}

	fresh := false
	if v := query.Get("fresh"); v != "" {
		var err error
		fresh, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf(
				"invalid fresh %q", v))
			return
		}
	}

	var (
		addr btcutil.Address
		err  error
	)
	if fresh {
		addr, err = s.cfg.Wallet.FreshReceiveAddress()
	} else {
		addr, err = s.cfg.Wallet.CurrentReceiveAddress()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	err = s.cfg.Faucet.RequestDeposit(r.Context(), addr, amount)
	switch {
	case errors.Is(err, faucet.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err)
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, faucetResponse{
		Address: addr.String(),
		Amount:  int64(amount),
	})
}
