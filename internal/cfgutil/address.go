// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import "net"

// NormalizeAddress returns addr in host:port form, appending defaultPort when
// addr has no port of its own.  The original parse error is returned when addr
// is malformed for a reason other than a missing port.
func NormalizeAddress(addr, defaultPort string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		return net.JoinHostPort(host, port), nil
	}

	withPort := net.JoinHostPort(addr, defaultPort)
	if _, _, e := net.SplitHostPort(withPort); e != nil {
		return "", err
	}
	return withPort, nil
}

// NormalizeAddresses normalizes every address with NormalizeAddress and drops
// duplicates while keeping the first occurrence order.
func NormalizeAddresses(addrs []string, defaultPort string) ([]string, error) {
	normalized := make([]string, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))

	for _, addr := range addrs {
		n, err := NormalizeAddress(addr, defaultPort)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		normalized = append(normalized, n)
	}

	return normalized, nil
}
