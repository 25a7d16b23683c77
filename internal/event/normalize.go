package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Normalize converts an arbitrary decoded payload into a canonical Event.
// Payloads that are not key/value mappings (e.g. a plain-text body) produce
// an unresolved Event whose Raw field still carries the original content, so
// the caller can audit what arrived.
func Normalize(payload any) Event {
	fields, ok := payload.(map[string]any)
	if !ok {
		return Event{Kind: KindUnknown, ChainID: DefaultChainID, Raw: serialize(payload)}
	}

	e := Event{
		Address: resolveAddress(fields),
		ChainID: resolveChainID(fields),
		Kind:    resolveKind(fields),
		Amount:  resolveAmount(fields),
		TxHash:  resolveTxHash(fields),
	}

	// Merge the resolved chain id into the audited copy so audit rows are
	// self-describing even when the payload relied on the default chain.
	audited := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		audited[k] = v
	}
	audited["chainId"] = e.ChainID
	e.Raw = serialize(audited)

	return e
}

// resolveAddress probes userAddress, then address, then a nested
// user.address. Only non-empty strings count.
func resolveAddress(fields map[string]any) string {
	if addr := stringField(fields, "userAddress"); addr != "" {
		return addr
	}
	if addr := stringField(fields, "address"); addr != "" {
		return addr
	}
	if user, ok := fields["user"].(map[string]any); ok {
		return stringField(user, "address")
	}
	return ""
}

// resolveChainID accepts the chain id as a string or a number; JSON payloads
// usually carry `"chainId": 1`. The default chain applies only when the field
// is absent entirely.
func resolveChainID(fields map[string]any) string {
	for _, key := range []string{"chainId", "chain_id"} {
		switch v := fields[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case json.Number:
			return v.String()
		}
	}
	return DefaultChainID
}

func resolveKind(fields map[string]any) Kind {
	raw := stringField(fields, "event")
	if raw == "" {
		raw = stringField(fields, "type")
	}
	switch Kind(strings.ToLower(raw)) {
	case KindWalletConnected:
		return KindWalletConnected
	case KindDepositConfirmed:
		return KindDepositConfirmed
	default:
		return KindUnknown
	}
}

// resolveAmount accepts numeric values directly; string values are stripped
// of everything that is not a digit, '.' or '-' before parsing, so inputs
// like "1,234.56 USDC" still resolve. Anything unparseable is zero.
func resolveAmount(fields map[string]any) decimal.Decimal {
	switch v := fields["amount"].(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return d
		}
	case string:
		cleaned := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' || r == '-' {
				return r
			}
			return -1
		}, v)
		if d, err := decimal.NewFromString(cleaned); err == nil {
			return d
		}
	}
	return decimal.Zero
}

func resolveTxHash(fields map[string]any) string {
	for _, key := range []string{"txHash", "hash", "transactionHash"} {
		if hash := stringField(fields, key); hash != "" {
			return hash
		}
	}
	return ""
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func serialize(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	case nil:
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}
