package models

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrProtocol            = errors.New("protocol error")
	ErrBadRequest          = errors.New("bad request")
	ErrUnsupportedMethod   = errors.New("method not supported")
	ErrUnknownApp          = errors.New("unknown app")
	ErrUserRejected        = errors.New("rejected by user")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSignerUnavailable   = errors.New("signer unavailable")
	ErrEstimationFailed    = errors.New("estimation failed")
	ErrEstimationStale     = errors.New("estimation does not match payload")
	ErrBroadcastFailed     = errors.New("broadcast failed")
	ErrTransport           = errors.New("bridge transport error")
	ErrOrderExpired        = errors.New("order expired")
	ErrOrderFinalized      = errors.New("order already sent for execution")
	ErrNotSigner           = errors.New("wallet is not a signer of this multisig")
	ErrPollTimeout         = errors.New("gave up waiting, check again later")
)

// NotEnoughBalanceError is returned when the selected strategy cannot cover the operation.
type NotEnoughBalanceError struct {
	Asset     string
	Required  *big.Int
	Available *big.Int
}

func (e *NotEnoughBalanceError) Error() string {
	return fmt.Sprintf("not enough %s: required %s, available %s", e.Asset, e.Required, e.Available)
}

func (e *NotEnoughBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// Shortfall is the missing amount.
func (e *NotEnoughBalanceError) Shortfall() *big.Int {
	return new(big.Int).Sub(e.Required, e.Available)
}

// CheckBalance returns a NotEnoughBalanceError when available < required.
func CheckBalance(asset string, required, available *big.Int) error {
	if available == nil {
		available = new(big.Int)
	}
	if available.Cmp(required) < 0 {
		return &NotEnoughBalanceError{
			Asset:     asset,
			Required:  new(big.Int).Set(required),
			Available: new(big.Int).Set(available),
		}
	}
	return nil
}
