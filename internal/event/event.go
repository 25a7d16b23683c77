package event

import (
	"github.com/shopspring/decimal"
)

// Kind identifies the type of an incoming webhook event.
type Kind string

const (
	// KindWalletConnected is emitted when a wallet connects for the first
	// time on a chain. Eligible for the one-time connection bonus.
	KindWalletConnected Kind = "wallet_connected"

	// KindDepositConfirmed is emitted when a deposit has been confirmed
	// upstream. Carries an amount and usually a transaction hash.
	KindDepositConfirmed Kind = "deposit_confirmed"

	// KindUnknown covers every other event type. Recorded in the audit
	// trail but never rewarded.
	KindUnknown Kind = "unknown"
)

// DefaultChainID is assumed when a payload does not name a chain.
const DefaultChainID = "0"

// Event is the canonical form of a webhook payload after normalization.
// Amount is zero when the payload carried none (or an unparseable one) and
// TxHash is empty when no hash field was present.
type Event struct {
	Address string
	ChainID string
	Kind    Kind
	Amount  decimal.Decimal
	TxHash  string

	// Raw is the original payload serialized as JSON with the resolved
	// chain id merged in, kept verbatim for the audit trail.
	Raw string
}

// Resolved reports whether the payload named a wallet address. Unresolved
// events are skipped by the ledger but still audited.
func (e Event) Resolved() bool {
	return e.Address != ""
}
