// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/chain"
	"github.com/btcsuite/btcwallet/wallet"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // Register bdb driver.
	"github.com/lightninglabs/neutrino"
	"github.com/lightninglabs/neutrino/headerfs"
)

// neutrinoDBName is the file neutrino keeps its peer and filter state in.
const neutrinoDBName = "neutrino.db"

// Backend is a shared chain connection.  Besides answering Chain queries it
// hands out the chain clients each wallet synchronizes against.
type Backend interface {
	Chain

	// NewWalletClient returns a started chain client dedicated to one
	// wallet.
	NewWalletClient() (chain.Interface, error)

	// Stop disconnects every client handed out and the backend itself.
	Stop()
}

// chainService is the subset of *neutrino.ChainService the backend queries.
type chainService interface {
	BestBlock() (*headerfs.BlockStamp, error)
	ConnectedCount() int32
}

// NeutrinoConfig configures a light client backend.
type NeutrinoConfig struct {
	DataDir      string
	ChainParams  *chaincfg.Params
	ConnectPeers []string
	AddPeers     []string
	DBTimeout    time.Duration
}

// NeutrinoBackend is a Backend served by a neutrino light client.
type NeutrinoBackend struct {
	params *chaincfg.Params
	cs     chainService

	// service and db are nil when the backend wraps a test chainService.
	service *neutrino.ChainService
	db      walletdb.DB

	mtx     sync.Mutex
	clients []chain.Interface
}

// A compile-time assertion that NeutrinoBackend implements Backend.
var _ Backend = (*NeutrinoBackend)(nil)

// NewNeutrinoBackend opens the neutrino database and starts the chain
// service.
func NewNeutrinoBackend(cfg NeutrinoConfig) (*NeutrinoBackend, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}

	db, err := openNeutrinoDB(cfg.DataDir, cfg.DBTimeout)
	if err != nil {
		return nil, err
	}

	cs, err := neutrino.NewChainService(neutrino.Config{
		DataDir:      cfg.DataDir,
		Database:     db,
		ChainParams:  *cfg.ChainParams,
		ConnectPeers: cfg.ConnectPeers,
		AddPeers:     cfg.AddPeers,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to create chain service: %w",
			err)
	}
	if err := cs.Start(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to start chain service: %w",
			err)
	}

	log.Infof("Started neutrino chain service (%d connect, %d add peers)",
		len(cfg.ConnectPeers), len(cfg.AddPeers))

	return &NeutrinoBackend{
		params:  cfg.ChainParams,
		cs:      cs,
		service: cs,
		db:      db,
	}, nil
}

// openNeutrinoDB opens, creating when absent, the bolt database neutrino
// keeps its state in.
func openNeutrinoDB(dataDir string, timeout time.Duration) (walletdb.DB,
	error) {

	if timeout == 0 {
		timeout = wallet.DefaultDBTimeout
	}

	dbPath := filepath.Join(dataDir, neutrinoDBName)
	db, err := walletdb.Create("bdb", dbPath, true, timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create neutrino db: %w", err)
	}
	return db, nil
}

// BestHeight returns the height of the best header neutrino knows of.
func (n *NeutrinoBackend) BestHeight() (int32, error) {
	stamp, err := n.cs.BestBlock()
	if err != nil {
		return 0, err
	}
	return stamp.Height, nil
}

// ConnectedPeers returns the number of peers neutrino is connected to.
func (n *NeutrinoBackend) ConnectedPeers() (int32, error) {
	return n.cs.ConnectedCount(), nil
}

// NewWalletClient returns a started neutrino client sharing the chain
// service.
func (n *NeutrinoBackend) NewWalletClient() (chain.Interface, error) {
	if n.service == nil {
		return nil, errors.New("chain service not running")
	}

	client := chain.NewNeutrinoClient(n.params, n.service)
	if err := client.Start(); err != nil {
		return nil, err
	}

	n.mtx.Lock()
	n.clients = append(n.clients, client)
	n.mtx.Unlock()

	return client, nil
}

// Stop stops every wallet client, then the chain service, then closes the
// database.
func (n *NeutrinoBackend) Stop() {
	stopClients(&n.mtx, &n.clients)

	if n.service != nil {
		if err := n.service.Stop(); err != nil {
			log.Errorf("Unable to stop chain service: %v", err)
		}
	}
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			log.Errorf("Unable to close neutrino db: %v", err)
		}
	}
}

// rpcChain is the subset of a btcd RPC client the backend queries.
type rpcChain interface {
	GetBestBlock() (*chainhash.Hash, int32, error)
	GetConnectionCount() (int64, error)
}

// RPCConfig configures a btcd backend.
type RPCConfig struct {
	ChainParams *chaincfg.Params
	Connect     string
	User        string
	Pass        string
	Certs       []byte
	DisableTLS  bool
}

// RPCBackend is a Backend served by a btcd node over websocket RPC.
type RPCBackend struct {
	cfg RPCConfig

	query rpcChain

	// queryClient is nil when the backend wraps a test rpcChain.
	queryClient *chain.RPCClient

	mtx     sync.Mutex
	clients []chain.Interface
}

// A compile-time assertion that RPCBackend implements Backend.
var _ Backend = (*RPCBackend)(nil)

// NewRPCBackend connects the client used for chain queries.
func NewRPCBackend(cfg RPCConfig) (*RPCBackend, error) {
	b := &RPCBackend{cfg: cfg}

	client, err := b.connect()
	if err != nil {
		return nil, err
	}
	b.query = client
	b.queryClient = client

	log.Infof("Connected to btcd at %s", cfg.Connect)

	return b, nil
}

func (r *RPCBackend) connect() (*chain.RPCClient, error) {
	client, err := chain.NewRPCClient(
		r.cfg.ChainParams, r.cfg.Connect, r.cfg.User, r.cfg.Pass,
		r.cfg.Certs, r.cfg.DisableTLS, 0,
	)
	if err != nil {
		return nil, err
	}
	if err := client.Start(); err != nil {
		return nil, fmt.Errorf("unable to connect to btcd at %s: %w",
			r.cfg.Connect, err)
	}
	return client, nil
}

// BestHeight returns the height of btcd's best block.
func (r *RPCBackend) BestHeight() (int32, error) {
	_, height, err := r.query.GetBestBlock()
	return height, err
}

// ConnectedPeers returns the number of peers btcd is connected to.
func (r *RPCBackend) ConnectedPeers() (int32, error) {
	n, err := r.query.GetConnectionCount()
	return int32(n), err
}

// NewWalletClient opens a new RPC connection for a wallet.  Each wallet needs
// its own since a client delivers notifications to a single consumer.
func (r *RPCBackend) NewWalletClient() (chain.Interface, error) {
	client, err := r.connect()
	if err != nil {
		return nil, err
	}

	r.mtx.Lock()
	r.clients = append(r.clients, client)
	r.mtx.Unlock()

	return client, nil
}

// Stop disconnects every wallet client and the query client.
func (r *RPCBackend) Stop() {
	stopClients(&r.mtx, &r.clients)

	if r.queryClient != nil {
		r.queryClient.Stop()
		r.queryClient.WaitForShutdown()
	}
}

func stopClients(mtx *sync.Mutex, clients *[]chain.Interface) {
	mtx.Lock()
	stopping := *clients
	*clients = nil
	mtx.Unlock()

	for _, c := range stopping {
		c.Stop()
		c.WaitForShutdown()
	}
}
