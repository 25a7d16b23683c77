// Package ledger owns the reward ledger: per-chain and aggregate balances
// plus the append-only audit trail. All mutations go through Store.Apply,
// which runs as a single transaction serialized per wallet address.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wnt/rewards/internal/event"
	"github.com/wnt/rewards/internal/metrics"
	"github.com/wnt/rewards/internal/models"
	"github.com/wnt/rewards/internal/reward"
)

// ErrNotFound is returned by GetUser for an address the ledger has never
// credited.
var ErrNotFound = errors.New("user not found")

// Status describes what Apply did with an event.
type Status string

const (
	// StatusApplied means the event was processed against the ledger.
	// The delta may still be zero (repeat connection, unknown kind).
	StatusApplied Status = "applied"

	// StatusDuplicate means the transaction hash was already seen for the
	// chain row; balances are unchanged but the event was audited.
	StatusDuplicate Status = "duplicate"

	// StatusSkipped means no wallet address could be resolved; nothing was
	// credited but the payload was audited.
	StatusSkipped Status = "skipped"
)

// actionTypeUnresolved marks audit rows for payloads without a resolvable
// address.
const actionTypeUnresolved = "unresolved"

// Result reports the outcome of applying one event.
type Result struct {
	Status       Status     `json:"status"`
	EventKind    event.Kind `json:"eventKind"`
	ChainID      string     `json:"chainId"`
	TxHash       string     `json:"txHash,omitempty"`
	ChainBalance int64      `json:"chainBalance"`
	TotalBalance int64      `json:"totalBalance"`
}

// ChainBalance is one entry of a user's per-chain breakdown.
type ChainBalance struct {
	ChainID string `json:"chainId"`
	Balance int64  `json:"balance"`
}

// Action is an audit record as exposed to callers.
type Action struct {
	Type        string    `json:"type"`
	Data        string    `json:"data"`
	PerformedAt time.Time `json:"performedAt"`
}

// UserView is the read-back snapshot for a single address.
type UserView struct {
	Address       string         `json:"address"`
	Balance       int64          `json:"balance"`
	ChainBalances []ChainBalance `json:"chainBalances"`
	Actions       []Action       `json:"actions"`
}

// UserSummary is one row of the user listing.
type UserSummary struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

// Store is the reward ledger over a relational database. The database
// handle is injected at construction; Store owns no connection lifecycle.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a ledger store on top of an existing database handle.
func NewStore(db *gorm.DB, logger zerolog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "ledger").Logger(),
	}, nil
}

// Apply normalizes a webhook payload and applies it to the ledger in a
// single transaction: upsert the user and chain rows, run the idempotency
// check, credit the reward delta, recompute the aggregate balance and append
// an audit action. Storage errors roll the whole transaction back and are
// returned to the caller; a duplicate transaction hash is a normal outcome,
// not an error.
func (s *Store) Apply(ctx context.Context, payload any) (*Result, error) {
	e := event.Normalize(payload)

	if !e.Resolved() {
		return s.recordUnresolved(ctx, e)
	}

	log := s.logger.With().Str("address", e.Address).Str("chain_id", e.ChainID).Logger()

	var res Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, e.Address)
		if err != nil {
			return err
		}

		chain, err := upsertChainRow(tx, e.Address, e.ChainID)
		if err != nil {
			return err
		}

		v := checkTxHash(chain.LastTxHash, e.TxHash)
		if v == verdictFresh && e.TxHash != "" {
			hash := e.TxHash
			chain.LastTxHash = &hash
		}

		firstConnection := false
		if e.Kind == event.KindWalletConnected {
			firstConnection, err = noPriorConnection(tx, e.Address)
			if err != nil {
				return err
			}
		}

		delta := reward.Delta(e.Kind, e.Amount, firstConnection, v == verdictDuplicate)
		if delta < 0 {
			return fmt.Errorf("reward policy produced negative delta %d for %s", delta, e.Kind)
		}
		chain.Rewards += delta

		if err := tx.Save(chain).Error; err != nil {
			return fmt.Errorf("failed to update chain reward: %w", err)
		}

		total, err := sumChainRewards(tx, e.Address)
		if err != nil {
			return err
		}
		if err := tx.Model(user).Update("rewards", total).Error; err != nil {
			return fmt.Errorf("failed to update total balance: %w", err)
		}

		action := models.UserAction{
			UserAddress: e.Address,
			ActionType:  string(e.Kind),
			ActionData:  e.Raw,
		}
		if err := tx.Create(&action).Error; err != nil {
			return fmt.Errorf("failed to record user action: %w", err)
		}

		res = Result{
			Status:       StatusApplied,
			EventKind:    e.Kind,
			ChainID:      e.ChainID,
			TxHash:       e.TxHash,
			ChainBalance: chain.Rewards,
			TotalBalance: total,
		}
		if v == verdictDuplicate {
			res.Status = StatusDuplicate
		}

		if delta > 0 {
			metrics.PointsCredited.Add(float64(delta))
		}
		return nil
	})
	if err != nil {
		metrics.EventsProcessed.WithLabelValues("error").Inc()
		metrics.DatabaseErrors.Inc()
		log.Error().Err(err).Msg("Failed to apply event")
		return nil, fmt.Errorf("failed to apply event: %w", err)
	}

	metrics.EventsProcessed.WithLabelValues(string(res.Status)).Inc()
	log.Info().
		Str("status", string(res.Status)).
		Str("event", string(res.EventKind)).
		Int64("chain_balance", res.ChainBalance).
		Int64("total_balance", res.TotalBalance).
		Msg("Event applied")

	return &res, nil
}

// recordUnresolved audits a payload that named no wallet address. No user or
// chain row is created.
func (s *Store) recordUnresolved(ctx context.Context, e event.Event) (*Result, error) {
	action := models.UserAction{
		ActionType: actionTypeUnresolved,
		ActionData: e.Raw,
	}
	if err := s.db.WithContext(ctx).Create(&action).Error; err != nil {
		metrics.EventsProcessed.WithLabelValues("error").Inc()
		metrics.DatabaseErrors.Inc()
		return nil, fmt.Errorf("failed to record unresolved event: %w", err)
	}

	metrics.EventsProcessed.WithLabelValues(string(StatusSkipped)).Inc()
	s.logger.Info().Str("event", string(e.Kind)).Msg("No wallet address in payload, event skipped")

	return &Result{
		Status:    StatusSkipped,
		EventKind: e.Kind,
		ChainID:   e.ChainID,
	}, nil
}

// GetUser returns the current snapshot for an address: aggregate balance,
// per-chain balances and the full action history in arrival order. The three
// reads run in one repeatable-read transaction so a concurrent Apply cannot
// produce a snapshot where the total disagrees with the chain breakdown.
func (s *Store) GetUser(ctx context.Context, address string) (*UserView, error) {
	var (
		user    models.User
		chains  []models.ChainReward
		actions []models.UserAction
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, "address = ?", address).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load user: %w", err)
		}

		if err := tx.
			Where("user_address = ?", address).
			Order("chain_id").
			Find(&chains).Error; err != nil {
			return fmt.Errorf("failed to load chain rewards: %w", err)
		}

		if err := tx.
			Where("user_address = ?", address).
			Order("id").
			Find(&actions).Error; err != nil {
			return fmt.Errorf("failed to load user actions: %w", err)
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}

	view := &UserView{
		Address:       user.Address,
		Balance:       user.Rewards,
		ChainBalances: make([]ChainBalance, 0, len(chains)),
		Actions:       make([]Action, 0, len(actions)),
	}
	for _, c := range chains {
		view.ChainBalances = append(view.ChainBalances, ChainBalance{ChainID: c.ChainID, Balance: c.Rewards})
	}
	for _, a := range actions {
		view.Actions = append(view.Actions, Action{Type: a.ActionType, Data: a.ActionData, PerformedAt: a.PerformedAt})
	}
	return view, nil
}

// ListUsers returns every known address with its aggregate balance.
func (s *Store) ListUsers(ctx context.Context) ([]UserSummary, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("address").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	summaries := make([]UserSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, UserSummary{Address: u.Address, Balance: u.Rewards})
	}
	return summaries, nil
}

// lockUser upserts the user row and takes a row lock on it, serializing
// concurrent applies for the same address. Applies for different addresses
// proceed in parallel.
func lockUser(tx *gorm.DB, address string) (*models.User, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.User{Address: address}).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	var user models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, "address = ?", address).Error; err != nil {
		return nil, fmt.Errorf("failed to lock user row: %w", err)
	}
	return &user, nil
}

// upsertChainRow ensures exactly one chain_rewards row exists for the pair
// and returns it. The unique index on (user_address, chain_id) makes the
// create a no-op on redelivery races; the user row lock makes the re-read
// stable.
func upsertChainRow(tx *gorm.DB, address, chainID string) (*models.ChainReward, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ChainReward{UserAddress: address, ChainID: chainID}).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert chain reward: %w", err)
	}

	var chain models.ChainReward
	if err := tx.First(&chain, "user_address = ? AND chain_id = ?", address, chainID).Error; err != nil {
		return nil, fmt.Errorf("failed to load chain reward: %w", err)
	}
	return &chain, nil
}

// noPriorConnection reports whether the address has never had a
// wallet-connection action recorded, across all chains. The current event's
// action has not been appended yet when this runs.
func noPriorConnection(tx *gorm.DB, address string) (bool, error) {
	var count int64
	if err := tx.Model(&models.UserAction{}).
		Where("user_address = ? AND action_type = ?", address, string(event.KindWalletConnected)).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check connection history: %w", err)
	}
	return count == 0, nil
}

// sumChainRewards recomputes the aggregate balance from every chain row of
// the user, inside the caller's transaction.
func sumChainRewards(tx *gorm.DB, address string) (int64, error) {
	var total int64
	if err := tx.Model(&models.ChainReward{}).
		Where("user_address = ?", address).
		Select("COALESCE(SUM(rewards), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to sum chain rewards: %w", err)
	}
	return total, nil
}
