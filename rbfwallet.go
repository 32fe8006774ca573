// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/btcsuite/rbfwallet/chain"
	"github.com/btcsuite/rbfwallet/rpc/legacyrpc"
	"github.com/btcsuite/rbfwallet/wallet"
	"golang.org/x/sync/errgroup"

	// Register the bolt database driver of the wallet.
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
)

var cfg *config

func main() {
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
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version %s on %s", version(), activeNet.Params.Name)

	ctx := interruptContext()

	chainClient, err := chain.NewBitcoindClient(&chain.BitcoindConfig{
		ChainParams: activeNet.Params,
		Host:        cfg.RPCConnect,
		User:        cfg.BitcoindUsername,
		Pass:        cfg.BitcoindPassword,
	})
	if err != nil {
		log.Errorf("Unable to connect to bitcoind at %s: %v",
			cfg.RPCConnect, err)
		return err
	}
	defer chainClient.Stop()

	log.Infof("Connected to %s at %s", chainClient.BackEnd(),
		cfg.RPCConnect)

	netDir := networkDir(cfg.AppDataDir.Value, activeNet)
	loader := wallet.NewLoader(
		cfg.walletConfig(), netDir, wallet.DefaultDBTimeout,
	)

	var w *wallet.Wallet
	if cfg.Create {
		w, err = loader.CreateNewWallet(nil, chainClient)
		if err == nil {
			log.Infof("Created wallet in %s", filepath.Join(
				netDir, wallet.WalletDBName))
		}
	} else {
		w, err = loader.OpenExistingWallet(chainClient)
	}
	if err != nil {
		log.Errorf("Unable to load wallet: %v", err)
		return err
	}

	listeners, err := openRPCListeners(cfg.RPCListeners)
	if err != nil {
		log.Errorf("Unable to create RPC listeners: %v", err)
		if e := loader.UnloadWallet(); e != nil {
			log.Errorf("Unable to unload wallet: %v", e)
		}
		return err
	}
	log.Infof("Serving RPC on %d %s", len(listeners),
		pickNoun(len(listeners), "address", "addresses"))

	server := legacyrpc.NewServer(&legacyrpc.Options{
		Username:       cfg.Username,
		Password:       cfg.Password,
		MaxPOSTClients: cfg.RPCMaxClients,
	}, listeners)
	server.RegisterWallet(w)

	g, ctx := errgroup.WithContext(ctx)

	// A stop request over RPC shuts down the process the same way as an
	// interrupt signal.
	g.Go(func() error {
		select {
		case <-server.RequestProcessShutdown():
			requestShutdown()
		case <-ctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		server.Stop()
		if err := loader.UnloadWallet(); err != nil {
			return fmt.Errorf("unable to unload wallet: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorf("%v", err)
		return err
	}

	log.Info("Shutdown complete")
	return nil
}

// openRPCListeners opens a TCP listener on each of the addresses.  Listeners
// opened before a failure are closed.
func openRPCListeners(addrs []string) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, err
		}
		listeners = append(listeners, lis)
	}

	return listeners, nil
}
