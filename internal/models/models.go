package models

import (
	"time"
)

// User represents a wallet address known to the reward ledger. The address
// is taken verbatim from the event payload and used as the primary key; the
// Rewards column holds the aggregate balance across all chains and must
// always equal the sum of the user's ChainReward balances.
type User struct {
	Address   string `gorm:"primaryKey;size:255"`
	Rewards   int64  `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Relationships
	ChainRewards []ChainReward `gorm:"foreignKey:UserAddress;references:Address"`
}

// ChainReward holds a user's reward balance on a single chain. One row per
// (user_address, chain_id) pair, created lazily the first time an address is
// seen on that chain. LastTxHash records the most recently considered
// transaction hash for duplicate detection; nil until a hashed event arrives.
type ChainReward struct {
	ID          uint   `gorm:"primaryKey"`
	UserAddress string `gorm:"size:255;not null;uniqueIndex:uk_user_chain"`
	ChainID     string `gorm:"size:50;not null;uniqueIndex:uk_user_chain"`
	Rewards     int64  `gorm:"not null;default:0"`
	LastTxHash  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserAction is the append-only audit trail: one row per processed event,
// including duplicates and events whose address could not be resolved.
// Deliberately no foreign key to users so unresolved payloads can still be
// recorded without creating a user row.
type UserAction struct {
	ID          uint      `gorm:"primaryKey"`
	UserAddress string    `gorm:"size:255;index"`
	ActionType  string    `gorm:"size:100;not null"`
	ActionData  string    `gorm:"type:text"`
	PerformedAt time.Time `gorm:"autoCreateTime"`
}
