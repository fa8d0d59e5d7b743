package mcp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os/exec"
	"strings"
	"syscall"

	"github.com/longregen/mcphub/internal/domain"
)

// Classify maps a raw transport failure onto the connection error taxonomy.
// Errors that are already classified, and configuration errors, pass
// through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var connErr *domain.ConnectionError
	if errors.As(err, &connErr) || errors.Is(err, domain.ErrConfiguration) {
		return err
	}

	return domain.NewConnectionError(kindOf(err), err)
}

func kindOf(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrConnectionTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return domain.ErrConnectionTimeout
		}
		return domain.ErrDNS
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, exec.ErrNotFound) {
		return domain.ErrConnectionRefused
	}

	if isTLS(err) {
		return domain.ErrTLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrConnectionTimeout
	}

	// mcp-go flattens some causes into strings
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"):
		return domain.ErrConnectionTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "executable file not found"):
		return domain.ErrConnectionRefused
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "server misbehaving"):
		return domain.ErrDNS
	case strings.Contains(msg, "x509:"), strings.Contains(msg, "tls:"), strings.Contains(msg, "certificate"):
		return domain.ErrTLS
	}
	return domain.ErrProtocol
}

func isTLS(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalid          x509.CertificateInvalidError
		verification     *tls.CertificateVerificationError
		header           tls.RecordHeaderError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid) ||
		errors.As(err, &verification) ||
		errors.As(err, &header)
}

// isProtocolOnly reports a server that answered but answered wrongly
func isProtocolOnly(err error) bool {
	var connErr *domain.ConnectionError
	return errors.As(err, &connErr) && connErr.Kind == domain.ErrProtocol
}

// KindLabel is a stable short name for metrics and API payloads
func KindLabel(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration"
	case errors.Is(err, domain.ErrConnectionTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrConnectionRefused):
		return "refused"
	case errors.Is(err, domain.ErrDNS):
		return "dns"
	case errors.Is(err, domain.ErrTLS):
		return "tls"
	case errors.Is(err, domain.ErrToolListing):
		return "tool_listing"
	case errors.Is(err, domain.ErrProtocol):
		return "protocol"
	case errors.Is(err, domain.ErrCredentialsInvalid):
		return "credentials"
	}
	return "other"
}
