package upstream

import (
	"context"
	"errors"
	"net"
)

// Classify categorizes an upstream failure for metrics labels.
func Classify(err error) string {
	var upErr *Error
	if errors.As(err, &upErr) {
		if upErr.StatusCode >= 500 {
			return "server"
		}
		return "client"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Op == "dial" {
			return "connection_refused"
		}
		return "network"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	return "other"
}
