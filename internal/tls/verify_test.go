package tls

import (
	"crypto/x509"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMatchHostname(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		hostname string
		want     bool
	}{
		{"exact match", "mail.example.com", "mail.example.com", true},
		{"case insensitive exact", "MAIL.Example.COM", "mail.example.com", true},
		{"no match", "mail.example.com", "mail.example.org", false},
		{"wildcard leftmost label", "*.example.com", "mail.example.com", true},
		{"wildcard case insensitive", "*.EXAMPLE.com", "mail.example.COM", true},
		{"wildcard does not cross labels", "*.example.com", "a.b.example.com", false},
		{"wildcard needs a suffix", "*.", "mail.example.com", false},
		{"bare asterisk", "*", "mail.example.com", false},
		{"wildcard not leftmost", "mail.*.com", "mail.example.com", false},
		{"partial label wildcard", "ma*.example.com", "mail.example.com", false},
		{"hostname without dot", "*.example.com", "localhost", false},
		{"wildcard matches parent only", "*.example.com", "example.com", false},
		{"empty pattern", "", "mail.example.com", false},
		{"empty hostname", "*.example.com", "", false},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchHostname(tt.pattern, tt.hostname))
		})
	}
}

func TestMatchHostnameProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		label := rapid.StringMatching(`[a-z0-9]{1,16}`)
		host := label.Draw(rt, "left") + "." + label.Draw(rt, "mid") + "." + label.Draw(rt, "right")

		// Exact equality always matches, in any casing.
		if !MatchHostname(strings.ToUpper(host), host) {
			rt.Fatalf("exact match failed for %q", host)
		}

		// A wildcard over the hostname's own domain matches.
		domain := host[strings.IndexByte(host, '.')+1:]
		if !MatchHostname("*."+domain, host) {
			rt.Fatalf("wildcard *.%s did not match %q", domain, host)
		}

		// A wildcard never matches a hostname with extra leading labels.
		if MatchHostname("*."+domain, "extra."+host) {
			rt.Fatalf("wildcard *.%s crossed label boundary for extra.%s", domain, host)
		}
	})
}

func testVerifierEngine(verbosity int) *Engine {
	return &Engine{
		cfg:    Config{Verbosity: verbosity},
		logger: NewTLSLogger(nil),
	}
}

func makeTestCert(t *testing.T, commonName string, dnsNames []string) *x509.Certificate {
	t.Helper()
	certPEM, _, err := GenerateSelfSignedCertificate(CertificateGenerationOptions{
		CommonName: commonName,
		DNSNames:   dnsNames,
	})
	require.NoError(t, err)
	cert, err := ParseCertificatePEM(certPEM)
	require.NoError(t, err)
	return cert
}

func TestVerifyExtractPeerSANPrecedence(t *testing.T) {
	e := testVerifierEngine(0)

	t.Run("matching SAN", func(t *testing.T) {
		cert := makeTestCert(t, "cn.example.com", []string{"mail.example.com"})
		c := &Conn{enforceHostname: true}
		e.verifyExtractPeer(c, cert, nil, "mail.example.com")

		assert.True(t, c.PeerVerified)
		assert.True(t, c.HostnameMatched)
		assert.Equal(t, "cn.example.com", c.PeerCN)
	})

	t.Run("SAN present suppresses CN fallback even on failure", func(t *testing.T) {
		// The CN names the peer but a dNSName exists, so the CN must be
		// ignored and the match must fail.
		cert := makeTestCert(t, "mail.example.com", []string{"other.example.org"})
		c := &Conn{enforceHostname: true}
		e.verifyExtractPeer(c, cert, nil, "mail.example.com")

		assert.True(t, c.PeerVerified)
		assert.False(t, c.HostnameMatched)
	})

	t.Run("CN fallback without SANs", func(t *testing.T) {
		cert := makeTestCert(t, "mail.example.com", nil)
		c := &Conn{enforceHostname: true}
		e.verifyExtractPeer(c, cert, nil, "mail.example.com")

		assert.True(t, c.HostnameMatched)
	})

	t.Run("wildcard SAN", func(t *testing.T) {
		cert := makeTestCert(t, "", []string{"*.example.com"})
		c := &Conn{enforceHostname: true}
		e.verifyExtractPeer(c, cert, nil, "mail.example.com")

		assert.True(t, c.HostnameMatched)
	})
}

func TestVerifyExtractPeerTrustGating(t *testing.T) {
	e := testVerifierEngine(0)

	t.Run("untrusted chain skips hostname check", func(t *testing.T) {
		cert := makeTestCert(t, "mail.example.com", []string{"mail.example.com"})
		c := &Conn{enforceHostname: true}
		e.verifyExtractPeer(c, cert, assert.AnError, "mail.example.com")

		assert.False(t, c.PeerVerified)
		assert.False(t, c.HostnameMatched, "hostname must not match over an untrusted chain")
		assert.Equal(t, "mail.example.com", c.PeerCN, "peer names are extracted regardless of trust")
	})

	t.Run("no enforcement skips hostname check", func(t *testing.T) {
		cert := makeTestCert(t, "", []string{"mail.example.com"})
		c := &Conn{}
		e.verifyExtractPeer(c, cert, nil, "mail.example.com")

		assert.True(t, c.PeerVerified)
		assert.False(t, c.HostnameMatched)
	})
}

func TestVerifyExtractPeerNameSentinels(t *testing.T) {
	e := testVerifierEngine(1)

	t.Run("nil certificate", func(t *testing.T) {
		c := &Conn{enforceHostname: true}
		e.verifyExtractPeer(c, nil, assert.AnError, "mail.example.com")

		assert.Equal(t, "", c.PeerCN)
		assert.Equal(t, "", c.IssuerCN)
		assert.False(t, c.HostnameMatched)
	})

	t.Run("absent CN never matches", func(t *testing.T) {
		cert := &x509.Certificate{}
		c := &Conn{enforceHostname: true}
		e.verifyExtractPeer(c, cert, nil, "")

		assert.Equal(t, "", c.PeerCN)
		assert.False(t, c.HostnameMatched, "absent CN must not match any hostname, not even an empty one")
	})
}
