package worldtypes

import "errors"

// ErrInsufficientStock is returned by ResourceStock.Debit when a ledger debit would
// drive a balance negative; spec.md §3 requires refusal, never silent clamping.
var ErrInsufficientStock = errors.New("worldtypes: insufficient resource stock")
