// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog"
	"github.com/btcsuite/rbfwallet/internal/cfgutil"
	"github.com/btcsuite/rbfwallet/netparams"
	"github.com/btcsuite/rbfwallet/wallet"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "rbfwallet.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "rbfwallet.log"
	defaultRPCMaxClients  = 10
)

var (
	defaultAppDataDir = btcutil.AppDataDir("rbfwallet", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile  *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool                    `short:"V" long:"version" description:"Display version information and exit"`
	Create      bool                    `long:"create" description:"Create the wallet if it does not exist"`
	AppDataDir  *cfgutil.ExplicitString `short:"A" long:"appdata" description:"Application data directory for wallet config, databases and logs"`
	TestNet3    bool                    `long:"testnet" description:"Use the test Bitcoin network (version 3) (default mainnet)"`
	TestNet4    bool                    `long:"testnet4" description:"Use the test Bitcoin network (version 4) (default mainnet)"`
	RegTest     bool                    `long:"regtest" description:"Use the regression test network (default mainnet)"`
	SigNet      bool                    `long:"signet" description:"Use the default signet network (default mainnet)"`
	DebugLevel  string                  `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogDir      string                  `long:"logdir" description:"Directory to log output."`

	// Wallet options
	PayTxFee     *cfgutil.FeeRateFlag `long:"paytxfee" description:"Fee rate (BTC/kvB) paid by created transactions instead of the backend estimate"`
	FallbackFee  *cfgutil.FeeRateFlag `long:"fallbackfee" description:"Fee rate (BTC/kvB) used when the backend has no fee estimate"`
	MinTxFee     *cfgutil.FeeRateFlag `long:"mintxfee" description:"Lowest fee rate (BTC/kvB) paid by the wallet"`
	MaxTxFee     *cfgutil.AmountFlag  `long:"maxtxfee" description:"Highest total fee (BTC) paid by a single transaction"`
	ConfTarget   uint32               `long:"conftarget" description:"Default confirmation target in blocks for fee estimates"`
	KeyPoolSize  int                  `long:"keypool" description:"Number of keys generated ahead of use"`
	SyncInterval time.Duration        `long:"syncinterval" description:"Interval between confirmation checks of unmined transactions"`

	// RPC client options
	RPCConnect      string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of bitcoind RPC server to connect to (default localhost:8332, testnet: localhost:18332, regtest: localhost:18443, signet: localhost:38332)"`
	BitcoindUsername string `long:"bitcoindusername" description:"Username for bitcoind authentication"`
	BitcoindPassword string `long:"bitcoindpassword" default-mask:"-" description:"Password for bitcoind authentication"`

	// RPC server options
	RPCListeners  []string `long:"rpclisten" description:"Listen for RPC connections on this interface/port (default port: 8338, testnet: 18338, regtest: 18448, signet: 38338)"`
	RPCMaxClients int64    `long:"rpcmaxclients" description:"Max number of concurrent RPC clients"`
	Username      string   `short:"u" long:"username" description:"Username for RPC and bitcoind authentication (if bitcoindusername is unset)"`
	Password      string   `short:"P" long:"password" default-mask:"-" description:"Password for RPC and bitcoind authentication (if bitcoindpassword is unset)"`
}

// activeNet is the network the wallet runs on.
var activeNet = &netparams.MainNetParams

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Do not try to clean the empty string.
	if path == "" {
		return ""
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	path = os.ExpandEnv(path)

	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser
	// to otheruser's home directory.  On Windows, both forward and backward
	// slashes can be used.
	path = path[1:]

	var pathSeparators string
	if os.PathSeparator == '/' {
		pathSeparators = "/"
	} else {
		pathSeparators = string(os.PathSeparator) + "/"
	}

	userName := ""
	if i := strings.IndexAny(path, pathSeparators); i != -1 {
		userName = path[:i]
		path = path[i:]
	}

	homeDir := ""
	var u *user.User
	var err error
	if userName == "" {
		u, err = user.Current()
	} else {
		u, err = user.Lookup(userName)
	}
	if err == nil {
		homeDir = u.HomeDir
	}
	// Fallback to CWD if user lookup fails or user has no home directory.
	if homeDir == "" {
		homeDir = "."
	}

	return filepath.Join(homeDir, path)
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// selectNetwork chooses the active network from the network flags.  Multiple
// networks can't be selected simultaneously.
func selectNetwork(cfg *config) (*netparams.Params, error) {
	params := &netparams.MainNetParams
	numNets := 0
	if cfg.TestNet3 {
		params = &netparams.TestNet3Params
		numNets++
	}
	if cfg.TestNet4 {
		params = &netparams.TestNet4Params
		numNets++
	}
	if cfg.RegTest {
		params = &netparams.RegressionNetParams
		numNets++
	}
	if cfg.SigNet {
		params = &netparams.SigNetParams
		numNets++
	}
	if numNets > 1 {
		return nil, errors.New("the testnet, testnet4, regtest and " +
			"signet params can't be used together -- choose one")
	}

	return params, nil
}

// walletConfig returns the wallet configuration selected by the options.
func (cfg *config) walletConfig() *wallet.Config {
	walletCfg := wallet.DefaultConfig(activeNet.Params)
	walletCfg.PayTxFee = cfg.PayTxFee.SatPerKVByte
	walletCfg.FallbackFee = cfg.FallbackFee.SatPerKVByte
	walletCfg.MinTxFee = cfg.MinTxFee.SatPerKVByte
	walletCfg.MaxTxFee = cfg.MaxTxFee.Amount
	walletCfg.ConfTarget = cfg.ConfTarget
	walletCfg.KeyPoolSize = cfg.KeyPoolSize
	walletCfg.SyncInterval = cfg.SyncInterval

	return walletCfg
}

// networkDir returns the directory name of a network directory to hold wallet
// files.
func networkDir(dataDir string, params *netparams.Params) string {
	return filepath.Join(dataDir, params.Name)
}

// defaultConfig returns the config with every option at its default value.
func defaultConfig() config {
	return config{
		DebugLevel:    defaultLogLevel,
		ConfigFile:    cfgutil.NewExplicitString(defaultConfigFile),
		AppDataDir:    cfgutil.NewExplicitString(defaultAppDataDir),
		LogDir:        defaultLogDir,
		PayTxFee:      cfgutil.NewFeeRateFlag(0),
		FallbackFee:   cfgutil.NewFeeRateFlag(wallet.DefaultFallbackFee),
		MinTxFee:      cfgutil.NewFeeRateFlag(wallet.DefaultMinTxFee),
		MaxTxFee:      cfgutil.NewAmountFlag(wallet.DefaultMaxTxFee),
		ConfTarget:    wallet.DefaultConfTarget,
		KeyPoolSize:   wallet.DefaultKeyPoolSize,
		SyncInterval:  wallet.DefaultSyncInterval,
		RPCMaxClients: defaultRPCMaxClients,
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in rbfwallet functioning properly without any config
// settings while still allowing the user to override settings with config files
// and command line options.  Command line options always take precedence.
func loadConfig() (*config, []string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.  A config file in the application
	// data directory is used unless another file was named.
	configFilePath := preCfg.ConfigFile.Value
	if preCfg.AppDataDir.ExplicitlySet() && !preCfg.ConfigFile.ExplicitlySet() {
		configFilePath = filepath.Join(
			cleanAndExpandPath(preCfg.AppDataDir.Value),
			defaultConfigFilename,
		)
	}
	configFilePath = cleanAndExpandPath(configFilePath)

	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// If an alternate data directory was specified, and paths with defaults
	// relative to the data dir are unchanged, modify each path to be
	// relative to the new data dir.
	cfg.AppDataDir.Value = cleanAndExpandPath(cfg.AppDataDir.Value)
	if cfg.AppDataDir.ExplicitlySet() && cfg.LogDir == defaultLogDir {
		cfg.LogDir = filepath.Join(cfg.AppDataDir.Value,
			defaultLogDirname)
	}

	// Choose the active network params based on the selected network.
	activeNet, err = selectNetwork(&cfg)
	if err != nil {
		err := fmt.Errorf("%s: %w", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, activeNet.Params.Name)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	// The wallet options must describe a usable fee policy before the
	// wallet is opened.
	if cfg.ConfTarget == 0 {
		err := fmt.Errorf("%s: conftarget must be positive", funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.KeyPoolSize <= 0 {
		err := fmt.Errorf("%s: keypool must be positive", funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.MaxTxFee.Amount <= 0 {
		err := fmt.Errorf("%s: maxtxfee must be positive", funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Ensure the wallet exists or create it when the create flag is set.
	netDir := networkDir(cfg.AppDataDir.Value, activeNet)
	dbPath := filepath.Join(netDir, wallet.WalletDBName)
	loader := wallet.NewLoader(
		cfg.walletConfig(), netDir, wallet.DefaultDBTimeout,
	)
	dbFileExists, err := loader.WalletExists()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	switch {
	case cfg.Create && dbFileExists:
		err := fmt.Errorf("The wallet database file `%v` "+
			"already exists.", dbPath)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err

	case !cfg.Create && !dbFileExists:
		err := errors.New("The wallet does not exist.  Run with the " +
			"--create option to initialize and create it.")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	if cfg.RPCConnect == "" {
		cfg.RPCConnect = net.JoinHostPort("localhost", activeNet.RPCClientPort)
	}

	// Add default port to connect flag if missing.
	cfg.RPCConnect, err = cfgutil.NormalizeAddress(cfg.RPCConnect,
		activeNet.RPCClientPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid rpcconnect network address: %v\n", err)
		return nil, nil, err
	}

	// Set default RPC listeners on the localhost addresses.
	if len(cfg.RPCListeners) == 0 {
		addrs, err := net.LookupHost("localhost")
		if err != nil {
			return nil, nil, err
		}
		cfg.RPCListeners = make([]string, 0, len(addrs))
		for _, addr := range addrs {
			addr = net.JoinHostPort(addr, activeNet.RPCServerPort)
			cfg.RPCListeners = append(cfg.RPCListeners, addr)
		}
	}

	// Add default port to all rpc listener addresses if needed and remove
	// duplicate addresses.
	cfg.RPCListeners, err = cfgutil.NormalizeAddresses(
		cfg.RPCListeners, activeNet.RPCServerPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid network address in RPC listeners: %v\n", err)
		return nil, nil, err
	}

	// The RPC server sends credentials and private keys in the clear, so it
	// may only listen on loopback addresses.
	for _, addr := range cfg.RPCListeners {
		loopback, err := cfgutil.IsLoopbackAddress(addr)
		switch {
		case err != nil:
			err := fmt.Errorf("%s: RPC listen interface is invalid: "+
				"%w", funcName, err)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err

		case !loopback:
			err := fmt.Errorf("%s: RPC may not be bound to non "+
				"localhost addresses: %s", funcName, addr)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}

	if cfg.Username == "" || cfg.Password == "" {
		err := fmt.Errorf("%s: the RPC username and password must "+
			"be set", funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// If the bitcoind username or password are unset, use the same auth as
	// for the client.
	if cfg.BitcoindUsername == "" {
		cfg.BitcoindUsername = cfg.Username
	}
	if cfg.BitcoindPassword == "" {
		cfg.BitcoindPassword = cfg.Password
	}

	return &cfg, remainingArgs, nil
}
