// Package normalize canonicalizes host values before they are compared.
package normalize

import (
	"errors"
	"net"
	"strings"
)

var ErrInvalidHost = errors.New("invalid host")

// Host lowercases a host or host:port value and returns the bare host name,
// without port, brackets or trailing dot.
func Host(raw string) (string, error) {
	host := strings.ToLower(strings.TrimSpace(raw))
	if host == "" || strings.ContainsAny(host, "/?#@\\ \t") {
		return "", ErrInvalidHost
	}

	if h, port, err := net.SplitHostPort(host); err == nil {
		if port == "" {
			return "", ErrInvalidHost
		}
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", ErrInvalidHost
	}
	return host, nil
}

// SameHost reports whether two host values name the same host, ignoring case
// and port.
func SameHost(a, b string) bool {
	ha, err := Host(a)
	if err != nil {
		return false
	}
	hb, err := Host(b)
	if err != nil {
		return false
	}
	return ha == hb
}
