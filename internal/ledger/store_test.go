package ledger

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnt/rewards/internal/config"
	"github.com/wnt/rewards/internal/database"
	"github.com/wnt/rewards/internal/event"
	"github.com/wnt/rewards/internal/models"
)

// testStore connects to the database configured via DB_* environment
// variables. Tests use unique addresses so they can share a database.
func testStore(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("RUN_DB_TESTS") != "true" {
		t.Skip("Skipping ledger database tests. Set RUN_DB_TESTS=true to enable.")
	}

	cfg, err := config.Load()
	require.NoError(t, err, "ledger tests need DB_* environment variables")

	db, err := database.Connect(cfg)
	require.NoError(t, err)

	store, err := NewStore(db, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func testAddress() string {
	return "0xtest" + uuid.NewString()
}

func TestNewStoreRequiresDB(t *testing.T) {
	_, err := NewStore(nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestApplyDepositAndDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addr := testAddress()

	payload := map[string]any{
		"address": addr,
		"chainId": "1",
		"event":   "deposit_confirmed",
		"amount":  500.0,
		"txHash":  "0xdead",
	}

	res, err := s.Apply(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, res.Status)
	assert.EqualValues(t, 5000, res.ChainBalance)
	assert.EqualValues(t, 5000, res.TotalBalance)

	// Redelivery of the same transaction credits nothing
	res, err = s.Apply(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)
	assert.EqualValues(t, 5000, res.ChainBalance)
	assert.EqualValues(t, 5000, res.TotalBalance)

	view, err := s.GetUser(ctx, addr)
	require.NoError(t, err)
	assert.EqualValues(t, 5000, view.Balance)
	assert.Len(t, view.Actions, 2, "duplicates are still audited")
}

func TestDuplicateHashNeverCreditsAcrossKinds(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addr := testAddress()
	hash := "0x" + uuid.NewString()

	res, err := s.Apply(ctx, map[string]any{
		"address": addr,
		"chainId": "1",
		"event":   "deposit_confirmed",
		"amount":  100.0,
		"txHash":  hash,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1000, res.TotalBalance)

	// A connection event redelivered with the same hash must not earn the
	// first-connection bonus
	res, err = s.Apply(ctx, map[string]any{
		"address": addr,
		"chainId": "1",
		"event":   "wallet_connected",
		"txHash":  hash,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)
	assert.EqualValues(t, 1000, res.TotalBalance)

	view, err := s.GetUser(ctx, addr)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, view.Balance)
}

func TestDepositOverMultiplierCap(t *testing.T) {
	s := testStore(t)
	addr := testAddress()

	res, err := s.Apply(context.Background(), map[string]any{
		"address": addr,
		"event":   "deposit_confirmed",
		"amount":  "1500",
		"txHash":  "0x" + uuid.NewString(),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1500, res.ChainBalance)
}

func TestConnectionBonusOncePerUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addr := testAddress()

	res, err := s.Apply(ctx, map[string]any{
		"address": addr,
		"chainId": "1",
		"event":   "wallet_connected",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, res.Status)
	assert.EqualValues(t, 1000, res.TotalBalance)

	// Connecting again on a different chain earns nothing more
	res, err = s.Apply(ctx, map[string]any{
		"address": addr,
		"chainId": "2",
		"event":   "wallet_connected",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, res.Status)
	assert.EqualValues(t, 0, res.ChainBalance)
	assert.EqualValues(t, 1000, res.TotalBalance)
}

func TestAggregateEqualsSumOfChains(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addr := testAddress()

	for i, chain := range []string{"1", "2", "1", "56"} {
		_, err := s.Apply(ctx, map[string]any{
			"address": addr,
			"chainId": chain,
			"event":   "deposit_confirmed",
			"amount":  100.0,
			"txHash":  fmt.Sprintf("0x%d-%s", i, uuid.NewString()),
		})
		require.NoError(t, err)
	}

	view, err := s.GetUser(ctx, addr)
	require.NoError(t, err)

	var sum int64
	for _, cb := range view.ChainBalances {
		sum += cb.Balance
	}
	assert.Equal(t, view.Balance, sum)
	assert.EqualValues(t, 4000, view.Balance)
	assert.Len(t, view.ChainBalances, 3)
	assert.Len(t, view.Actions, 4)
}

func TestConcurrentDepositsNoLostUpdates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addr := testAddress()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Apply(ctx, map[string]any{
				"address": addr,
				"chainId": "1",
				"event":   "deposit_confirmed",
				"amount":  100.0,
				"txHash":  fmt.Sprintf("0x%d-%s", i, uuid.NewString()),
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "apply %d failed", i)
	}

	view, err := s.GetUser(ctx, addr)
	require.NoError(t, err)
	assert.EqualValues(t, n*1000, view.Balance)
	require.Len(t, view.ChainBalances, 1)
	assert.EqualValues(t, n*1000, view.ChainBalances[0].Balance)
}

func TestGetUserSnapshotConsistentUnderConcurrentApplies(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addr := testAddress()

	// Seed the user so reads do not race user creation
	_, err := s.Apply(ctx, map[string]any{"address": addr, "event": "wallet_connected"})
	require.NoError(t, err)

	done := make(chan struct{})
	var applyErr error
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			chain := fmt.Sprintf("%d", i%3)
			if _, err := s.Apply(ctx, map[string]any{
				"address": addr,
				"chainId": chain,
				"event":   "deposit_confirmed",
				"amount":  100.0,
				"txHash":  fmt.Sprintf("0x%d-%s", i, uuid.NewString()),
			}); err != nil {
				applyErr = err
				return
			}
		}
	}()

	// Every snapshot read while writes are in flight must satisfy the
	// aggregate invariant
	for {
		select {
		case <-done:
			require.NoError(t, applyErr)
			view, err := s.GetUser(ctx, addr)
			require.NoError(t, err)
			assert.EqualValues(t, 1000+20*1000, view.Balance)
			return
		default:
			view, err := s.GetUser(ctx, addr)
			require.NoError(t, err)
			var sum int64
			for _, cb := range view.ChainBalances {
				sum += cb.Balance
			}
			assert.Equal(t, view.Balance, sum, "snapshot violated the aggregate invariant")
		}
	}
}

func TestDepositsWithoutHashAlwaysCredit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addr := testAddress()

	for i := 0; i < 2; i++ {
		res, err := s.Apply(ctx, map[string]any{
			"address": addr,
			"event":   "deposit_confirmed",
			"amount":  50.0,
		})
		require.NoError(t, err)
		assert.Equal(t, StatusApplied, res.Status)
	}

	view, err := s.GetUser(ctx, addr)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, view.Balance)
}

func TestUnresolvedPayloadIsAuditedOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	marker := uuid.NewString()
	res, err := s.Apply(ctx, map[string]any{"event": "deposit_confirmed", "amount": 500.0, "marker": marker})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.EqualValues(t, 0, res.TotalBalance)

	// One audit row, no user row
	var count int64
	require.NoError(t, s.db.Model(&models.UserAction{}).
		Where("action_type = ? AND action_data LIKE ?", actionTypeUnresolved, "%"+marker+"%").
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestUnknownEventKindIsAudited(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addr := testAddress()

	res, err := s.Apply(ctx, map[string]any{"address": addr, "event": "nft_minted"})
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, res.Status)
	assert.Equal(t, event.KindUnknown, res.EventKind)
	assert.EqualValues(t, 0, res.TotalBalance)

	view, err := s.GetUser(ctx, addr)
	require.NoError(t, err)
	assert.Len(t, view.Actions, 1)
	assert.Equal(t, string(event.KindUnknown), view.Actions[0].Type)
}

func TestGetUserUnknownAddress(t *testing.T) {
	s := testStore(t)

	_, err := s.GetUser(context.Background(), testAddress())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUsersIncludesCreated(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addr := testAddress()

	_, err := s.Apply(ctx, map[string]any{"address": addr, "event": "wallet_connected"})
	require.NoError(t, err)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)

	found := false
	for _, u := range users {
		if u.Address == addr {
			found = true
			assert.EqualValues(t, 1000, u.Balance)
		}
	}
	assert.True(t, found, "created user missing from listing")
}
