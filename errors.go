package ledger

import (
	"go.pilab.hu/ledger/breaker"
	"go.pilab.hu/ledger/domain"
	lerrors "go.pilab.hu/ledger/errors"
	"go.pilab.hu/ledger/internal/crypto"
)

type (
	APIError            = lerrors.APIError
	SchemaError         = lerrors.SchemaError
	AuthenticationError = lerrors.AuthenticationError
	NetworkError        = lerrors.NetworkError
	FieldErrors         = lerrors.FieldErrors

	// Re-exported from the breaker and cipher packages.
	CircuitOpenError = breaker.CircuitOpenError
	DecryptionError  = crypto.DecryptionError
)

var (
	ErrNotConnected  = lerrors.ErrNotConnected
	ErrCircuitOpen   = breaker.ErrCircuitOpen
	ErrDecryption    = crypto.ErrDecryption
	ErrTokenNotFound = domain.ErrTokenNotFound
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return lerrors.IsTransient(err) }
