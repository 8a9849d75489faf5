// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/feewallet/admin"
	"github.com/btcsuite/feewallet/engine"
	"github.com/btcsuite/feewallet/faucet"
	"github.com/btcsuite/feewallet/feexfer"
	"github.com/btcsuite/feewallet/internal/prompt"
	"github.com/btcsuite/feewallet/metrics"
	"github.com/btcsuite/feewallet/monitor"
	"github.com/btcsuite/feewallet/txwindow"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

var cfg *config

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func walletMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version %s on %s", version(), cfg.params.Name)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)
	m, err := metrics.New(reg)
	if err != nil {
		log.Errorf("Unable to register metrics: %v", err)
		return err
	}

	backend, err := startBackend(cfg)
	if err != nil {
		log.Errorf("Unable to start chain backend: %v", err)
		return err
	}
	addInterruptHandler(backend.Stop)

	tracker, err := txwindow.New(txwindow.Config{
		RecentPeriod: cfg.RecentPeriod,
		RejectStale:  cfg.RejectStale,
	})
	if err != nil {
		return startupFailure(err)
	}
	if err := tracker.Start(); err != nil {
		return startupFailure(err)
	}
	addInterruptHandler(tracker.Stop)

	// Wallet load failures are fatal.  A daemon without both wallets
	// has nothing to monitor.
	primary, err := openWallet(cfg, cfg.WalletName, backend,
		func(p engine.Payment) {
			tracker.Enqueue(txwindow.Record{
				Hash:      p.Hash,
				Amount:    p.Amount,
				Timestamp: p.Received,
			})
		})
	if err != nil {
		return startupFailure(err)
	}
	feeWallet, err := openWallet(cfg, cfg.FeeWalletName, backend, nil)
	if err != nil {
		closeWallet(primary)
		return startupFailure(err)
	}
	addInterruptHandler(func() {
		closeWallet(feeWallet)
		closeWallet(primary)
	})

	controller, err := feexfer.NewController(feexfer.Config{
		Primary:       primary,
		FeeWallet:     feeWallet,
		FeeAmount:     cfg.FeeAmount.Amount,
		MinNetworkFee: cfg.MinNetworkFee.Amount,
		Timeout:       cfg.ReadTimeout,
		Metrics:       m,
	})
	if err != nil {
		return startupFailure(err)
	}

	schedCfg := feexfer.SchedulerConfig{
		Mode:      cfg.feeSchedule,
		Evaluator: controller,
	}
	if cfg.feeSchedule == feexfer.ModeInterval {
		schedCfg.Ticker = ticker.New(cfg.FeeInterval)
	}
	sched, err := feexfer.NewScheduler(schedCfg)
	if err != nil {
		return startupFailure(err)
	}
	if err := sched.Start(); err != nil {
		return startupFailure(err)
	}
	addInterruptHandler(func() {
		if err := sched.Stop(); err != nil {
			log.Errorf("Unable to stop fee scheduler: %v", err)
		}
	})
	log.Infof("Fee transfers of %v (plus %v network fee) are %s",
		cfg.FeeAmount.Amount, cfg.MinNetworkFee.Amount, describeSchedule())

	fc, err := faucet.New(faucet.Config{
		URL:         cfg.FaucetAddress,
		Timeout:     cfg.FaucetTimeout,
		MinInterval: cfg.FaucetRateLimit,
		Metrics:     m,
	})
	if err != nil {
		return startupFailure(err)
	}

	if err := logStartupBanner(primary, feeWallet, backend); err != nil {
		log.Warnf("Incomplete startup status: %v", err)
	}

	switch {
	case cfg.NoFaucet:
	case !cfg.params.IsTestNetwork():
		log.Infof("Skipping faucet deposit on %s", cfg.params.Name)
	default:
		requestStartupDeposit(fc, primary)
	}

	mon, err := monitor.New(monitor.Config{
		Primary:     primary,
		FeeWallet:   feeWallet,
		Chain:       backend,
		Window:      tracker,
		Ticker:      ticker.New(cfg.PollInterval),
		ReadTimeout: cfg.ReadTimeout,
		OnTick: func(*monitor.Snapshot) {
			sched.OnTick()
		},
		Metrics: m,
	})
	if err != nil {
		return startupFailure(err)
	}
	if err := mon.Start(); err != nil {
		return startupFailure(err)
	}
	addInterruptHandler(func() {
		if err := mon.Stop(); err != nil {
			log.Errorf("Unable to stop poll loop: %v", err)
		}
	})

	if cfg.AdminListen != "" {
		server := admin.New(admin.Config{
			Listen:         cfg.AdminListen,
			Status:         mon,
			Window:         tracker,
			Fees:           sched,
			Faucet:         fc,
			Wallet:         primary,
			DefaultDeposit: cfg.FaucetDeposit.Amount,
			User:           cfg.AdminUser,
			Pass:           cfg.AdminPass,
			Gatherer:       reg,
		})
		if err := server.Start(); err != nil {
			return startupFailure(err)
		}
		addInterruptHandler(func() {
			if err := server.Stop(); err != nil {
				log.Errorf("Unable to stop admin server: %v",
					err)
			}
		})
	}

	<-interruptHandlersDone
	log.Info("Shutdown complete")
	return nil
}

// startupFailure logs err, runs the registered shutdown handlers and
// returns err.
func startupFailure(err error) error {
	log.Errorf("Startup failed: %v", err)
	requestShutdown("startup failed")
	<-interruptHandlersDone
	return err
}

// startBackend starts the chain backend selected by --backend.
func startBackend(cfg *config) (engine.Backend, error) {
	if cfg.Backend == backendBtcd {
		log.Infof("Connecting to btcd at %s", cfg.RPCConnect)
		return engine.NewRPCBackend(engine.RPCConfig{
			ChainParams: cfg.params.Params,
			Connect:     cfg.RPCConnect,
			User:        cfg.BtcdUsername,
			Pass:        cfg.BtcdPassword,
			Certs:       readCAFile(cfg),
			DisableTLS:  cfg.DisableClientTLS,
		})
	}

	return engine.NewNeutrinoBackend(engine.NeutrinoConfig{
		DataDir:      cfg.params.NetworkDir(cfg.AppDataDir),
		ChainParams:  cfg.params.Params,
		ConnectPeers: cfg.ConnectPeers,
		AddPeers:     cfg.AddPeers,
		DBTimeout:    cfg.DBTimeout,
	})
}

// openWallet loads or creates the named wallet and starts syncing it.
// onIncoming, when set, receives the wallet's incoming payments from the
// start of the sync.
func openWallet(cfg *config, name string, backend engine.Backend,
	onIncoming func(engine.Payment)) (*engine.BtcWallet, error) {

	w, err := engine.OpenWallet(engine.WalletConfig{
		Name:           name,
		DataDir:        cfg.params.NetworkDir(cfg.AppDataDir),
		ChainParams:    cfg.params.Params,
		PubPassphrase:  []byte(cfg.WalletPass),
		PrivPassphrase: []byte(cfg.PrivPass),
		ObtainPrivPass: func(create bool) ([]byte, error) {
			p, err := prompt.Stdin()
			if err != nil {
				return nil, err
			}
			return p.PrivatePass(name, create)
		},
		OnIncoming: onIncoming,
		DBTimeout:  cfg.DBTimeout,
		MinConf:    cfg.MinConf,
		FeeRate:    cfg.FeeRate.Amount,
	})
	if err != nil {
		return nil, err
	}
	if w.Created() {
		log.Warnf("Wallet %s did not exist and was created; it holds "+
			"no funds yet", name)
	}

	client, err := backend.NewWalletClient()
	if err != nil {
		closeWallet(w)
		return nil, fmt.Errorf("%w: unable to start chain client "+
			"for %s: %v", engine.ErrWalletUnavailable, name, err)
	}
	w.Synchronize(client)

	return w, nil
}

func closeWallet(w *engine.BtcWallet) {
	if err := w.Close(); err != nil {
		log.Errorf("Unable to close wallet %s: %v", w.Name(), err)
	}
}

func describeSchedule() string {
	switch cfg.feeSchedule {
	case feexfer.ModeTick:
		return "evaluated after every poll tick"
	case feexfer.ModeInterval:
		return fmt.Sprintf("evaluated every %v", cfg.FeeInterval)
	default:
		return "evaluated on request only"
	}
}

// logStartupBanner reports the state both wallets and the chain start with.
// The reads run concurrently.
func logStartupBanner(primary, feeWallet engine.Wallet,
	backend engine.Chain) error {

	var (
		balance           btcutil.Amount
		addr, feeAddr     btcutil.Address
		height, peerCount int32
	)

	var g errgroup.Group
	g.Go(func() (err error) {
		balance, err = primary.Balance()
		return err
	})
	g.Go(func() (err error) {
		addr, err = primary.CurrentReceiveAddress()
		return err
	})
	g.Go(func() (err error) {
		feeAddr, err = feeWallet.CurrentReceiveAddress()
		return err
	})
	g.Go(func() (err error) {
		height, err = backend.BestHeight()
		return err
	})
	g.Go(func() (err error) {
		peerCount, err = backend.ConnectedPeers()
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.Infof("Initial balance: %v", balance)
	log.Infof("Network: %s", cfg.params.Name)
	log.Infof("Connected peers: %d", peerCount)
	log.Infof("Receive address: %v", addr)
	log.Infof("Fee wallet address: %v", feeAddr)
	log.Infof("Chain height: %d", height)

	return nil
}

// requestStartupDeposit asks the faucet to credit the primary wallet.
// Failures are logged by the faucet client and startup continues.
func requestStartupDeposit(fc *faucet.Client, w engine.Wallet) {
	addr, err := w.CurrentReceiveAddress()
	if err != nil {
		log.Warnf("No receive address for faucet deposit: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		cfg.FaucetTimeout)
	defer cancel()

	_ = fc.RequestDeposit(ctx, addr, cfg.FaucetDeposit.Amount)
}
