// Package reward computes reward deltas for normalized events. The policy is
// a pure function: everything it needs about the account's history is passed
// in by the caller, and it never touches storage.
package reward

import (
	"github.com/shopspring/decimal"

	"github.com/wnt/rewards/internal/event"
)

const (
	// ConnectionBonus is credited for the first wallet-connection event
	// ever recorded for an address, across all chains.
	ConnectionBonus = 1000

	// depositMultiplier scales deposits up to the multiplier cap.
	depositMultiplier = 10
)

// multiplierCap is the largest amount still rewarded at the full multiplier.
// Above it, deposits earn one point per unit instead.
var multiplierCap = decimal.NewFromInt(1000)

// Delta returns the points to credit for an event. firstConnection reports
// whether the address has no prior wallet-connection action; duplicate is the
// idempotency guard's verdict for the event's transaction hash. A duplicate
// verdict forces a zero delta regardless of kind: a redelivered transaction
// earns nothing. Deltas are never negative.
func Delta(kind event.Kind, amount decimal.Decimal, firstConnection, duplicate bool) int64 {
	if duplicate {
		return 0
	}
	switch kind {
	case event.KindWalletConnected:
		if firstConnection {
			return ConnectionBonus
		}
		return 0
	case event.KindDepositConfirmed:
		return depositDelta(amount)
	default:
		return 0
	}
}

// depositDelta implements the deposit formula: floor(amount * 10) for
// 0 < amount <= 1000, floor(amount) beyond that, nothing for zero or
// negative amounts.
func depositDelta(amount decimal.Decimal) int64 {
	if amount.Sign() <= 0 {
		return 0
	}
	if amount.Cmp(multiplierCap) <= 0 {
		return amount.Mul(decimal.NewFromInt(depositMultiplier)).IntPart()
	}
	return amount.IntPart()
}
