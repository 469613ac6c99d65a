package settlement

import "errors"

// Settlement error taxonomy. Handlers map these onto HTTP statuses.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidSide         = errors.New("invalid order side")
	ErrInvalidOrderKind    = errors.New("invalid order kind")
	ErrInvalidPair         = errors.New("invalid trading pair")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrQuoteUnavailable    = errors.New("quote unavailable")
	ErrExchangeExecution   = errors.New("exchange execution failed")
)
