package ingress

import (
	"errors"
	"net"
	"syscall"
)

// SubmitErrorClass tells whether a failed submit could have reached the queue.
type SubmitErrorClass string

const (
	// Unreachable means the request never left this process.
	Unreachable SubmitErrorClass = "unreachable"
	// Ambiguous means the task may or may not have been enqueued.
	Ambiguous SubmitErrorClass = "ambiguous"
)

// ClassifySubmitError maps a transport error to its class. Dial failures and
// DNS errors are unreachable; timeouts, resets and everything else are ambiguous.
func ClassifySubmitError(err error) SubmitErrorClass {
	if err == nil {
		return ""
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Unreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return Unreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return Unreachable
	}
	return Ambiguous
}
