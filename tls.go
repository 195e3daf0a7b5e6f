package reql

import (
	"crypto/tls"
	"net"
)

// maybeUpgradeTLS wraps conn in a TLS client connection and completes the
// handshake if cfg is non-nil. Certificate verification, custom CAs, and
// client certificates are entirely cfg's concern; reql does not second-guess
// or supplement whatever TLSConfig the caller supplied.
func maybeUpgradeTLS(conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	if cfg == nil {
		return conn, nil
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, &DriverError{Message: "TLS handshake failed", Cause: err}
	}
	return tlsConn, nil
}
