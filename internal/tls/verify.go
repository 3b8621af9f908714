package tls

import (
	"crypto/x509"
	"strings"
)

// MatchHostname matches hostname against a certificate name pattern.
//
// A match is either a case-insensitive exact equality, or a wildcard match:
// one asterisk is allowed as the left-most component of the pattern and it
// matches the left-most component of the hostname. No other wildcard form is
// recognized. The rules for peer name wild-card matching differ between
// RFC 2818 and RFC 2830, while RFC 3207 (SMTP over TLS) does not specify a
// rule at all; this is the restrictive variant.
func MatchHostname(pattern, hostname string) bool {
	if strings.EqualFold(pattern, hostname) {
		return true
	}
	if !strings.HasPrefix(pattern, "*.") || len(pattern) <= 2 {
		return false
	}
	dot := strings.IndexByte(hostname, '.')
	if dot < 0 {
		return false
	}
	return strings.EqualFold(hostname[dot+1:], pattern[2:])
}

// CommonName extracts the subject CommonName of a certificate, or the empty
// string when the certificate carries none.
func CommonName(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	return cert.Subject.CommonName
}

// IssuerCommonName extracts the issuer CommonName of a certificate, or the
// empty string when the certificate carries none.
func IssuerCommonName(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	return cert.Issuer.CommonName
}

// verifyExtractPeer decides trust and hostname identity for the peer
// certificate and records the results on the connection.
//
// The Subject Alternative Name dNSNames have precedence over the CommonName,
// per the strict reading of RFC 2818 section 3.1: if at least one dNSName is
// present those are verified against the peer hostname and the CommonName is
// ignored, even when none of them match.
func (e *Engine) verifyExtractPeer(c *Conn, peercert *x509.Certificate, trustErr error, hostname string) {
	c.PeerVerified = trustErr == nil

	// Hostname checks are only meaningful over a trust-verified chain and
	// only enforced when requested.
	verifyPeername := c.enforceHostname && c.PeerVerified

	hostnameMatched := false
	dnsFound := 0
	if verifyPeername && peercert != nil {
		for _, name := range peercert.DNSNames {
			dnsFound++
			if MatchHostname(name, hostname) {
				hostnameMatched = true
				break
			}
		}
	}
	if dnsFound > 0 && !hostnameMatched {
		e.logger.LogPeerNameMismatch(hostname, dnsFound)
	}

	c.PeerCN = CommonName(peercert)
	c.IssuerCN = IssuerCommonName(peercert)

	if dnsFound == 0 && verifyPeername && c.PeerCN != "" {
		hostnameMatched = MatchHostname(c.PeerCN, hostname)
		if !hostnameMatched {
			e.logger.LogCommonNameMismatch(hostname, c.PeerCN)
		}
	}
	c.HostnameMatched = hostnameMatched

	if e.cfg.Verbosity >= 1 {
		verified := c.PeerVerified && (!c.enforceHostname || c.HostnameMatched)
		e.logger.LogVerificationResult(verified, c.PeerCN, c.IssuerCN)
	}
}

// verifyChain runs trust-chain verification of the peer certificates against
// the engine's trust anchors. The engine never aborts the handshake on trust
// errors itself; the result feeds the peer verifier instead, which is what
// makes opportunistic encryption to an unverifiable peer possible.
func (e *Engine) verifyChain(peerCerts []*x509.Certificate) error {
	if len(peerCerts) == 0 {
		return NewTLSError(ErrorTypeVerificationFailure, "peer presented no certificate")
	}

	opts := x509.VerifyOptions{
		Roots:         e.roots,
		Intermediates: x509.NewCertPool(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, intermediate := range peerCerts[1:] {
		opts.Intermediates.AddCert(intermediate)
	}

	_, err := peerCerts[0].Verify(opts)
	return err
}
