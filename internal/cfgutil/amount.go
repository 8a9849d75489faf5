// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// AmountFlag embeds a btcutil.Amount and implements the flags.Marshaler and
// Unmarshaler interfaces so it can be used as a config struct field.
//
// Values may be written in bitcoin ("0.0001" or "0.0001 BTC") or in satoshi
// ("10000 sat").
type AmountFlag struct {
	btcutil.Amount
}

// NewAmountFlag creates an AmountFlag with a default btcutil.Amount.
func NewAmountFlag(defaultValue btcutil.Amount) *AmountFlag {
	return &AmountFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (a *AmountFlag) MarshalFlag() (string, error) {
	return a.Amount.String(), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (a *AmountFlag) UnmarshalFlag(value string) error {
	amount, err := ParseAmount(value)
	if err != nil {
		return err
	}
	a.Amount = amount
	return nil
}

// ParseAmount parses a bitcoin or satoshi denominated amount.  Negative
// amounts are rejected.
func ParseAmount(value string) (btcutil.Amount, error) {
	value = strings.TrimSpace(value)

	if sats, ok := trimUnit(value, "sat", "sats", "satoshi"); ok {
		n, err := strconv.ParseInt(sats, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid satoshi amount %q: %w",
				value, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("negative amount %q", value)
		}
		return btcutil.Amount(n), nil
	}

	value, _ = trimUnit(value, "BTC")
	valueF64, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	amount, err := btcutil.NewAmount(valueF64)
	if err != nil {
		return 0, err
	}
	if amount < 0 {
		return 0, fmt.Errorf("negative amount %q", value)
	}
	return amount, nil
}

func trimUnit(value string, units ...string) (string, bool) {
	for _, unit := range units {
		if strings.HasSuffix(value, unit) {
			return strings.TrimSpace(strings.TrimSuffix(value, unit)), true
		}
	}
	return value, false
}
