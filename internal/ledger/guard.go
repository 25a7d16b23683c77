package ledger

// verdict is the idempotency guard's decision for a candidate transaction
// hash against a chain row's last-seen hash.
type verdict int

const (
	// verdictFresh means the event has not been seen before and may be
	// rewarded. Events without a hash are always fresh: there is nothing
	// to deduplicate on, an accepted risk.
	verdictFresh verdict = iota

	// verdictDuplicate means the hash matches the chain row's last-seen
	// hash; the event is a redelivery and earns nothing.
	verdictDuplicate
)

// checkTxHash compares a candidate hash against the stored last-seen hash
// for a chain row. lastTxHash is nil until the first hashed event arrives.
func checkTxHash(lastTxHash *string, candidate string) verdict {
	if candidate == "" || lastTxHash == nil {
		return verdictFresh
	}
	if *lastTxHash == candidate {
		return verdictDuplicate
	}
	return verdictFresh
}
