package delivery

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// Cause classifies a failed delivery attempt
type Cause string

const (
	CauseTimeout    Cause = "timeout"
	CauseConnection Cause = "connection"
	CauseHTTPStatus Cause = "http_status"
	CauseRequest    Cause = "request"
	CauseUnexpected Cause = "unexpected"
)

// MarksUnhealthy reports whether the cause excludes the endpoint for the
// rest of its session
func (c Cause) MarksUnhealthy() bool {
	return c == CauseConnection || c == CauseRequest
}

// Error is a failed attempt against one endpoint
type Error struct {
	Cause      Cause
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error from %s: status %d: %v", e.Cause, e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s error from %s: %v", e.Cause, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify maps a transport error onto a Cause
func classify(endpoint string, err error) *Error {
	return &Error{Cause: causeOf(err), Endpoint: endpoint, Err: err}
}

func causeOf(err error) Cause {
	if errors.Is(err, context.DeadlineExceeded) {
		return CauseTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CauseTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return CauseConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CauseConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return CauseConnection
	}
	var certErr *tls.CertificateVerificationError
	var authErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &authErr) || errors.As(err, &hostErr) {
		return CauseConnection
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return CauseRequest
	}
	return CauseUnexpected
}
