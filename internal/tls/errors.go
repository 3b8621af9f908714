package tls

import (
	"fmt"
	"strings"
)

// TLSErrorType represents different categories of TLS client errors
type TLSErrorType string

const (
	// Fatal setup errors: the engine cannot be constructed and secure
	// transport stays unavailable for the whole process.
	ErrorTypeConfigValidation TLSErrorType = "config_validation"
	ErrorTypeCipherList       TLSErrorType = "cipher_list"
	ErrorTypeTrustAnchors     TLSErrorType = "trust_anchors"
	ErrorTypeCertificateLoad  TLSErrorType = "certificate_load"
	ErrorTypeEntropy          TLSErrorType = "entropy"

	// Per-connection errors
	ErrorTypeHandshakeFailure    TLSErrorType = "handshake_failure"
	ErrorTypeHandshakeTimeout    TLSErrorType = "handshake_timeout"
	ErrorTypeVerificationFailure TLSErrorType = "verification_failure"
	ErrorTypeConnectionState     TLSErrorType = "connection_state"
)

// TLSError represents a structured TLS error with context
type TLSError struct {
	Type    TLSErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *TLSError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", string(e.Type)))
	parts = append(parts, e.Message)

	if len(e.Context) > 0 {
		var contextParts []string
		for key, value := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", key, value))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

// Unwrap returns the underlying error for error unwrapping
func (e *TLSError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *TLSError) WithContext(key string, value interface{}) *TLSError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewTLSError creates a new TLS error with the specified type and message
func NewTLSError(errorType TLSErrorType, message string) *TLSError {
	return &TLSError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewTLSErrorWithCause creates a new TLS error with an underlying cause
func NewTLSErrorWithCause(errorType TLSErrorType, message string, cause error) *TLSError {
	return &TLSError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// ErrNoEntropy is returned when the external entropy source yields nothing.
// The caller must treat TLS as unavailable for the rest of the process.
var ErrNoEntropy = NewTLSError(ErrorTypeEntropy, "no entropy for TLS key generation: disabling TLS support")

// IsSetupError reports whether err is a fatal engine initialization error.
func IsSetupError(err error) bool {
	if tlsErr, ok := err.(*TLSError); ok {
		switch tlsErr.Type {
		case ErrorTypeConfigValidation, ErrorTypeCipherList, ErrorTypeTrustAnchors,
			ErrorTypeCertificateLoad, ErrorTypeEntropy:
			return true
		}
	}
	return false
}

// IsHandshakeError reports whether err aborted a single connection attempt.
func IsHandshakeError(err error) bool {
	if tlsErr, ok := err.(*TLSError); ok {
		switch tlsErr.Type {
		case ErrorTypeHandshakeFailure, ErrorTypeHandshakeTimeout, ErrorTypeVerificationFailure:
			return true
		}
	}
	return false
}

// IsVerificationError reports whether err is a peer identity policy failure:
// the cryptographic handshake succeeded but the connection was refused.
func IsVerificationError(err error) bool {
	tlsErr, ok := err.(*TLSError)
	return ok && tlsErr.Type == ErrorTypeVerificationFailure
}
