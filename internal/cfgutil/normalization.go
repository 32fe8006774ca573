// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"net"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// loopbackHosts are the hosts accepted by IsLoopbackAddress without a
// lookup.
var loopbackHosts = fn.NewSet("localhost", "127.0.0.1", "::1")

// NormalizeAddress returns addr in host:port form, adding defaultPort when
// the address has no port. An address that is invalid even with the port
// added returns the original parse error.
func NormalizeAddress(addr, defaultPort string) (string, error) {
	host, port, splitErr := net.SplitHostPort(addr)
	if splitErr == nil {
		return net.JoinHostPort(host, port), nil
	}

	withPort := net.JoinHostPort(addr, defaultPort)
	if _, _, err := net.SplitHostPort(withPort); err != nil {
		return "", splitErr
	}

	return withPort, nil
}

// NormalizeAddresses normalizes every address with NormalizeAddress and
// drops duplicates, keeping the first occurrence.
func NormalizeAddresses(addrs []string, defaultPort string) ([]string, error) {
	normalized := make([]string, 0, len(addrs))
	seen := fn.NewSet[string]()

	for _, addr := range addrs {
		hostPort, err := NormalizeAddress(addr, defaultPort)
		if err != nil {
			return nil, err
		}
		if seen.Contains(hostPort) {
			continue
		}

		seen.Add(hostPort)
		normalized = append(normalized, hostPort)
	}

	return normalized, nil
}

// IsLoopbackAddress reports whether the host of a normalized host:port
// address is a loopback name or IP.
func IsLoopbackAddress(hostPort string) (bool, error) {
	host, _, err := net.SplitHostPort(hostPort)
	if err != nil {
		return false, fmt.Errorf("invalid address %q: %w", hostPort, err)
	}

	if loopbackHosts.Contains(host) {
		return true, nil
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback(), nil
}
