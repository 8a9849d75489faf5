// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcwallet/wallet"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/feewallet/faucet"
	"github.com/btcsuite/feewallet/feexfer"
	"github.com/btcsuite/feewallet/internal/cfgutil"
	"github.com/btcsuite/feewallet/monitor"
	"github.com/btcsuite/feewallet/netparams"
	"github.com/btcsuite/feewallet/txwindow"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "feewalletd.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "feewalletd.log"
	defaultNetwork        = "testnet3"
	defaultWalletName     = "bitcoin-wallet"
	defaultFeeWalletName  = "fee-wallet"
	defaultFeeAmount      = btcutil.Amount(10000)
	defaultMinNetworkFee  = btcutil.Amount(1000)
	defaultFaucetDeposit  = btcutil.Amount(10000)
	defaultFeeSchedule    = "manual"
	defaultMinConf        = 1
	defaultReadTimeout    = 30 * time.Second
	defaultBackend        = "neutrino"

	backendNeutrino = "neutrino"
	backendBtcd     = "btcd"
)

var (
	btcdDefaultCAFile  = filepath.Join(btcutil.AppDataDir("btcd", false), "rpc.cert")
	defaultAppDataDir  = btcutil.AppDataDir("feewalletd", false)
	defaultConfigFile  = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultLogDir      = filepath.Join(defaultAppDataDir, defaultLogDirname)
	errInvalidSchedule = errors.New("interval fee schedule requires a " +
		"positive --feeinterval")
)

type config struct {
	// General application behavior
	ConfigFile    string `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion   bool   `short:"V" long:"version" description:"Display version information and exit"`
	AppDataDir    string `short:"A" long:"appdata" description:"Application data directory for wallet and chain state"`
	LogDir        string `long:"logdir" description:"Directory to log output"`
	DebugLevel    string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Network       string `long:"network" description:"Network to operate on {testnet3, regtest, simnet, signet, mainnet}"`
	UnsafeMainNet bool   `long:"unsafemainnet" description:"Allow running on the main network"`
	DBTimeout     time.Duration `long:"dbtimeout" description:"The timeout value to use when opening the wallet databases"`

	// Wallet options
	WalletName    string `long:"walletname" description:"Name of the primary wallet"`
	FeeWalletName string `long:"feewalletname" description:"Name of the fee wallet"`
	WalletPass    string `long:"walletpass" default-mask:"-" description:"The public wallet passphrase"`
	PrivPass      string `long:"privpass" default-mask:"-" description:"The private wallet passphrase -- Prompted for on a terminal when unset"`
	MinConf       int32  `long:"minconf" description:"Confirmations an output needs to count as spendable"`

	// Monitoring options
	PollInterval time.Duration `long:"pollinterval" description:"Time between status polls"`
	RecentPeriod time.Duration `long:"recentperiod" description:"How long received transactions are tracked"`
	RejectStale  bool          `long:"rejectstale" description:"Ignore received transactions already older than --recentperiod"`
	ReadTimeout  time.Duration `long:"readtimeout" description:"Bound on each status read and fee transfer -- 0 disables"`

	// Fee transfer options
	FeeAmount     *cfgutil.AmountFlag `long:"feeamount" description:"Amount moved to the fee wallet per transfer, in BTC or with a sat suffix"`
	MinNetworkFee *cfgutil.AmountFlag `long:"minnetworkfee" description:"Network fee reserved on top of --feeamount before a transfer is attempted"`
	FeeRate       *cfgutil.AmountFlag `long:"feerate" description:"Fee rate per kilobyte used to build transfers"`
	FeeSchedule   string              `long:"feeschedule" description:"When fee transfers run {manual, tick, interval}"`
	FeeInterval   time.Duration       `long:"feeinterval" description:"Time between fee transfers with --feeschedule=interval"`

	// Faucet options
	FaucetDeposit   *cfgutil.AmountFlag `long:"faucetdeposit" description:"Amount requested from the faucet at startup"`
	NoFaucet        bool                `long:"nofaucet" description:"Do not request a faucet deposit at startup"`
	FaucetAddress   string              `long:"faucetaddress" description:"Faucet endpoint URL"`
	FaucetTimeout   time.Duration       `long:"faucettimeout" description:"Timeout of a faucet request"`
	FaucetRateLimit time.Duration       `long:"faucetratelimit" description:"Minimum time between faucet requests -- 0 disables"`

	// Chain backend options
	Backend          string   `long:"backend" description:"Chain backend {neutrino, btcd}"`
	ConnectPeers     []string `long:"connect" description:"Connect only to the specified peers at startup (neutrino)"`
	AddPeers         []string `short:"a" long:"addpeer" description:"Add a peer to connect with at startup (neutrino)"`
	RPCConnect       string   `short:"c" long:"rpcconnect" description:"Hostname/IP and port of btcd RPC server to connect to"`
	BtcdUsername     string   `long:"btcdusername" description:"Username for btcd authentication"`
	BtcdPassword     string   `long:"btcdpassword" default-mask:"-" description:"Password for btcd authentication"`
	CAFile           string   `long:"cafile" description:"File containing root certificates to authenticate a TLS connections with btcd"`
	DisableClientTLS bool     `long:"noclienttls" description:"Disable TLS for the RPC client -- NOTE: This is only allowed if the RPC client is connecting to localhost"`

	// Admin server options
	AdminListen string `long:"adminlisten" description:"Listen for admin HTTP requests on this interface/port -- disabled when empty"`
	AdminUser   string `long:"adminuser" description:"Username for admin HTTP basic auth -- required unless --adminlisten is a loopback address"`
	AdminPass   string `long:"adminpass" default-mask:"-" description:"Password for admin HTTP basic auth"`

	params        *netparams.Params
	feeSchedule   feexfer.Mode
	configFileErr error
}

// defaultConfig returns a config with every option set to its default.
func defaultConfig() config {
	return config{
		ConfigFile:    defaultConfigFile,
		AppDataDir:    defaultAppDataDir,
		LogDir:        defaultLogDir,
		DebugLevel:    defaultLogLevel,
		Network:       defaultNetwork,
		DBTimeout:     wallet.DefaultDBTimeout,
		WalletName:    defaultWalletName,
		FeeWalletName: defaultFeeWalletName,
		WalletPass:    wallet.InsecurePubPassphrase,
		MinConf:       defaultMinConf,
		PollInterval:  monitor.DefaultPollInterval,
		RecentPeriod:  txwindow.DefaultRecentPeriod,
		ReadTimeout:   defaultReadTimeout,
		FeeAmount:     cfgutil.NewAmountFlag(defaultFeeAmount),
		MinNetworkFee: cfgutil.NewAmountFlag(defaultMinNetworkFee),
		FeeRate:       cfgutil.NewAmountFlag(txrules.DefaultRelayFeePerKb),
		FeeSchedule:   defaultFeeSchedule,
		FaucetDeposit: cfgutil.NewAmountFlag(defaultFaucetDeposit),
		FaucetAddress: faucet.DefaultURL,
		FaucetTimeout: faucet.DefaultTimeout,
		Backend:       defaultBackend,
		CAFile:        btcdDefaultCAFile,
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options, then initializes logging.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in feewalletd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig() (*config, error) {
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))

	cfg, err := parseConfig(os.Args[1:], appName)
	if err != nil {
		return nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	if err := initLogRotator(filepath.Join(cfg.LogDir,
		defaultLogFilename)); err != nil {

		fmt.Fprintln(os.Stderr, err)
		return nil, err
	}
	setLogLevels(defaultLogLevel)

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("loadConfig: %w", err)
		fmt.Fprintln(os.Stderr, err)
		return nil, err
	}

	if est := feexfer.EstimateNetworkFee(cfg.FeeRate.Amount); cfg.MinNetworkFee.Amount < est {
		log.Warnf("--minnetworkfee %v is below the estimated transfer "+
			"fee %v at %v/kB", cfg.MinNetworkFee.Amount, est,
			cfg.FeeRate.Amount)
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if cfg.configFileErr != nil {
		log.Warnf("%v", cfg.configFileErr)
	}

	return cfg, nil
}

// parseConfig parses args over the config file and defaults and validates
// the result.  A missing config file is not fatal; it is kept in
// configFileErr so it can be reported once logging works.
func parseConfig(args []string, appName string) (*config, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// A config file in the current directory takes precedence.
	if preCfg.ConfigFile == defaultConfigFile {
		exists, err := cfgutil.FileExists(defaultConfigFilename)
		if err != nil {
			return nil, err
		}
		if exists {
			preCfg.ConfigFile = defaultConfigFilename
		}
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	configFile := cfgutil.CleanAndExpandPath(preCfg.ConfigFile)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, err
		}
		cfg.configFileErr = err
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		err := fmt.Errorf("loadConfig: %w", err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintf(os.Stderr, "Use %s -h to show usage\n", appName)
		return nil, err
	}

	return &cfg, nil
}

// validate checks option values and fills in the derived fields.
func (cfg *config) validate() error {
	params, err := netparams.ByName(cfg.Network)
	if err != nil {
		return err
	}
	if !params.IsTestNetwork() && !cfg.UnsafeMainNet {
		return errors.New("the main network requires --unsafemainnet")
	}
	cfg.params = params

	// Namespace the log directory per network.  Wallet data is
	// namespaced when the wallets are opened.
	cfg.AppDataDir = cfgutil.CleanAndExpandPath(cfg.AppDataDir)
	cfg.LogDir = cfgutil.CleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = params.NetworkDir(cfg.LogDir)

	switch {
	case cfg.WalletName == "":
		return errors.New("--walletname must not be empty")
	case cfg.FeeWalletName == "":
		return errors.New("--feewalletname must not be empty")
	case cfg.WalletName == cfg.FeeWalletName:
		return fmt.Errorf("--walletname and --feewalletname must "+
			"differ, both are %q", cfg.WalletName)
	case cfg.MinConf < 0:
		return errors.New("--minconf must not be negative")
	case cfg.PollInterval <= 0:
		return errors.New("--pollinterval must be positive")
	case cfg.RecentPeriod <= 0:
		return errors.New("--recentperiod must be positive")
	case cfg.ReadTimeout < 0:
		return errors.New("--readtimeout must not be negative")
	case cfg.FeeAmount.Amount <= 0:
		return errors.New("--feeamount must be positive")
	case cfg.FeeRate.Amount <= 0:
		return errors.New("--feerate must be positive")
	case cfg.FaucetDeposit.Amount <= 0 && !cfg.NoFaucet:
		return errors.New("--faucetdeposit must be positive")
	}

	cfg.feeSchedule, err = feexfer.ParseMode(cfg.FeeSchedule)
	if err != nil {
		return err
	}
	if cfg.feeSchedule == feexfer.ModeInterval && cfg.FeeInterval <= 0 {
		return errInvalidSchedule
	}

	switch cfg.Backend {
	case backendNeutrino:
		cfg.ConnectPeers, err = cfgutil.NormalizeAddresses(
			cfg.ConnectPeers, params.DefaultPort,
		)
		if err != nil {
			return err
		}
		cfg.AddPeers, err = cfgutil.NormalizeAddresses(
			cfg.AddPeers, params.DefaultPort,
		)
		if err != nil {
			return err
		}

	case backendBtcd:
		if cfg.RPCConnect == "" {
			cfg.RPCConnect = net.JoinHostPort("localhost",
				params.RPCClientPort)
		}
		cfg.RPCConnect, err = cfgutil.NormalizeAddress(
			cfg.RPCConnect, params.RPCClientPort,
		)
		if err != nil {
			return fmt.Errorf("invalid --rpcconnect: %w", err)
		}
		if cfg.DisableClientTLS && !isLoopback(cfg.RPCConnect) {
			return errors.New("--noclienttls is only allowed " +
				"when connecting to localhost")
		}
		cfg.CAFile = cfgutil.CleanAndExpandPath(cfg.CAFile)

	default:
		return fmt.Errorf("unknown --backend %q", cfg.Backend)
	}

	if cfg.AdminListen != "" {
		switch {
		case cfg.AdminUser != "" && cfg.AdminPass == "":
			return errors.New("--adminuser requires --adminpass")
		case cfg.AdminUser == "" && !isLoopback(cfg.AdminListen):
			return fmt.Errorf("--adminlisten %s is not a loopback "+
				"address and requires --adminuser and "+
				"--adminpass", cfg.AdminListen)
		}
	}

	return nil
}

// isLoopback reports whether the host of addr is a loopback address or
// localhost.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// readCAFile returns the btcd certificate, or nil when TLS is disabled or the
// file cannot be read.
func readCAFile(cfg *config) []byte {
	if cfg.DisableClientTLS {
		log.Info("Chain server RPC TLS is disabled")
		return nil
	}

	certs, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		log.Warnf("Cannot open CA file: %v", err)
		return nil
	}
	return certs
}
