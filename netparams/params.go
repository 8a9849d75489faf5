// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params
	RPCClientPort string
}

// MainNetParams contains parameters specific to running feewalletd against
// the main network (wire.MainNet).
var MainNetParams = Params{
	Params:        &chaincfg.MainNetParams,
	RPCClientPort: "8334",
}

// TestNet3Params contains parameters specific to running feewalletd against
// the test network (version 3) (wire.TestNet3).
var TestNet3Params = Params{
	Params:        &chaincfg.TestNet3Params,
	RPCClientPort: "18334",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).
var RegressionNetParams = Params{
	Params:        &chaincfg.RegressionNetParams,
	RPCClientPort: "18334",
}

// SimNetParams contains parameters specific to the simulation test network
// (wire.SimNet).
var SimNetParams = Params{
	Params:        &chaincfg.SimNetParams,
	RPCClientPort: "18556",
}

// SigNetParams contains parameters specific to the default signet test
// network (wire.SigNet).
var SigNetParams = Params{
	Params:        &chaincfg.SigNetParams,
	RPCClientPort: "38332",
}

// byName maps the names accepted by the network option to their params.
var byName = map[string]*Params{
	"mainnet":  &MainNetParams,
	"testnet3": &TestNet3Params,
	"testnet":  &TestNet3Params,
	"regtest":  &RegressionNetParams,
	"simnet":   &SimNetParams,
	"signet":   &SigNetParams,
}

// ByName returns the params registered under name.
func ByName(name string) (*Params, error) {
	p, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown network %q -- supported "+
			"networks %v", name, Names())
	}
	return p, nil
}

// Names returns the sorted network names accepted by ByName.
func Names() []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsTestNetwork reports whether coins on the network carry no value.
func (p *Params) IsTestNetwork() bool {
	return p.Net != wire.MainNet
}

// NetworkDir returns the network-namespaced directory under dataDir.
//
// The testnet3 directory is always named "testnet" so existing data
// directories keep working if chaincfg renames the network.
func (p *Params) NetworkDir(dataDir string) string {
	netname := p.Name
	if p.Net == wire.TestNet3 {
		netname = "testnet"
	}

	return filepath.Join(dataDir, netname)
}
