// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feexfer

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// EstimateNetworkFee returns the fee, at feeRate satoshi per kilobyte, of a
// typical fee transfer: one P2WPKH input paying a P2WPKH output with P2WPKH
// change.  Transfers spending more inputs cost more.
func EstimateNetworkFee(feeRate btcutil.Amount) btcutil.Amount {
	if feeRate <= 0 {
		feeRate = txrules.DefaultRelayFeePerKb
	}

	outputs := []*wire.TxOut{{
		PkScript: make([]byte, txsizes.P2WPKHPkScriptSize),
	}}
	vsize := txsizes.EstimateVirtualSize(
		0, 0, 1, 0, outputs, txsizes.P2WPKHPkScriptSize,
	)

	return txrules.FeeForSerializeSize(feeRate, vsize)
}
