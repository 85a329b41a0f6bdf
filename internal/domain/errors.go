package domain

import "errors"

// Errores de validación de entrada. Se usan con errors.Is tras el wrapping.
var (
	ErrInvalidWallet  = errors.New("invalid wallet address")
	ErrInvalidSize    = errors.New("size must be positive")
	ErrInvalidPrice   = errors.New("price out of [0,1]")
	ErrInvalidSide    = errors.New("invalid side")
	ErrInvalidOutcome = errors.New("invalid outcome")
	ErrMissingField   = errors.New("missing required field")
	ErrDuplicateTrade = errors.New("duplicate trade id")
)

// ErrInvalidConfig envuelve cualquier problema de configuración del engine.
var ErrInvalidConfig = errors.New("invalid configuration")
