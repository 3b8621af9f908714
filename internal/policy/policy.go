// Package policy decides the TLS security level for a destination: whether
// to attempt TLS at all, whether to require it, and whether to require a
// trusted, name-verified server certificate.
package policy

import (
	"fmt"
	"strings"
)

// Level is the TLS security level applied to an outbound connection, ordered
// from weakest to strongest.
type Level int

const (
	// LevelNone disables TLS for the destination.
	LevelNone Level = iota
	// LevelMay uses TLS opportunistically: attempt it, but deliver in the
	// clear when the server does not offer it, and never fail on an
	// unverifiable certificate.
	LevelMay
	// LevelEncrypt requires encryption but not a trusted certificate.
	LevelEncrypt
	// LevelVerify requires encryption over a trusted certificate that
	// names the destination host.
	LevelVerify
)

var levelNames = map[Level]string{
	LevelNone:    "none",
	LevelMay:     "may",
	LevelEncrypt: "encrypt",
	LevelVerify:  "verify",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel maps a configured level name to its Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none":
		return LevelNone, nil
	case "may", "":
		return LevelMay, nil
	case "encrypt":
		return LevelEncrypt, nil
	case "verify":
		return LevelVerify, nil
	default:
		return LevelNone, fmt.Errorf("unknown TLS policy level %q", name)
	}
}

// UseTLS reports whether a connection at this level attempts TLS.
func (l Level) UseTLS() bool { return l > LevelNone }

// EnforceTLS reports whether cleartext fallback is forbidden.
func (l Level) EnforceTLS() bool { return l >= LevelEncrypt }

// EnforceTrust reports whether the server certificate must chain to a
// configured trust anchor.
func (l Level) EnforceTrust() bool { return l >= LevelVerify }

// EnforcePeerName reports whether the server certificate must also name the
// destination host.
func (l Level) EnforcePeerName() bool { return l >= LevelVerify }

// Resolver yields the TLS level for a destination host.
type Resolver interface {
	Resolve(host string) (Level, error)
}
