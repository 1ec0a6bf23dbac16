// Package tlsinfo builds the "tls" scope extension descriptor of spec §4.5
// and §9: cipher suite, negotiated protocol, and a fingerprint/hash of the
// peer certificate rather than the full certificate, so the connection does
// not keep it resident for its lifetime.
package tlsinfo

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"

	"github.com/pagi-server/pagi/pkg/pagi"
)

// From builds a pagi.TLSInfo from a completed handshake's state. Returns a
// zero-value TLSInfo if state is nil (no TLS).
func From(state *tls.ConnectionState) pagi.TLSInfo {
	if state == nil {
		return pagi.TLSInfo{}
	}
	info := pagi.TLSInfo{
		CipherSuite:        tls.CipherSuiteName(state.CipherSuite),
		NegotiatedProtocol: state.NegotiatedProtocol,
		Version:            versionName(state.Version),
	}
	if len(state.PeerCertificates) > 0 {
		sum := sha256.Sum256(state.PeerCertificates[0].Raw)
		info.PeerCertFingerprint = hex.EncodeToString(sum[:])
	}
	return info
}

func versionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLSv1.0"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	default:
		return "unknown"
	}
}
