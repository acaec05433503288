package vault

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/corebank/internal/money"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestSaveAndLoadVault(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	v := Vault{
		ID:              "V-1",
		BranchID:        "BR-01",
		MaximumCapacity: money.FromInt(1000000),
		Balance:         money.FromInt(400000),
		PreviousBalance: money.FromInt(380000),
		Custodians: []Custodian{
			{UserID: "head-henry", IsLeader: true},
			{UserID: "deputy-diane"},
		},
	}
	require.NoError(t, store.SaveVault(ctx, v))

	loaded, err := store.LoadVault(ctx, "V-1")
	require.NoError(t, err)
	assert.Equal(t, "BR-01", loaded.BranchID)
	assert.True(t, loaded.Balance.Equal(money.FromInt(400000)))
	assert.True(t, loaded.PreviousBalance.Equal(money.FromInt(380000)))
	require.Len(t, loaded.Custodians, 2)
	assert.True(t, loaded.Custodians[0].IsLeader)
	assert.Equal(t, "deputy-diane", loaded.Custodians[1].UserID)
	assert.False(t, loaded.Custodians[1].IsLeader)
}

func TestSaveVaultUpsertsBalance(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	v := Vault{ID: "V-1", BranchID: "BR-01", MaximumCapacity: money.FromInt(1000000), Balance: money.FromInt(100)}
	require.NoError(t, store.SaveVault(ctx, v))

	v.PreviousBalance = v.Balance
	v.Balance = money.FromInt(250)
	require.NoError(t, store.SaveVault(ctx, v))

	loaded, err := store.LoadVault(ctx, "V-1")
	require.NoError(t, err)
	assert.True(t, loaded.Balance.Equal(money.FromInt(250)))
	assert.True(t, loaded.PreviousBalance.Equal(money.FromInt(100)))
}

func TestLoadUnknownVault(t *testing.T) {
	store := setupStore(t)

	_, err := store.LoadVault(context.Background(), "V-9")
	assert.ErrorIs(t, err, ErrVaultNotFound)
}

func TestSoftDeleteHidesVault(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveVault(ctx, Vault{ID: "V-1", BranchID: "BR-01"}))
	require.NoError(t, store.DeleteVault(ctx, "V-1", "admin"))

	_, err := store.LoadVault(ctx, "V-1")
	assert.ErrorIs(t, err, ErrVaultNotFound)
}

func TestMovementLifecyclePersistence(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	m := Movement{
		ID:          "M-1",
		VaultID:     "V-1",
		TellerID:    "T-1",
		BranchID:    "BR-01",
		Amount:      money.FromInt(50000),
		Direction:   DirectionToTeller,
		Requester:   "teller-alice",
		Status:      MovementPending,
		RequestedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveMovement(ctx, m))

	now := time.Now().UTC()
	m.Status = MovementApproved
	m.Approver = "head-henry"
	m.Comment = "morning float"
	m.DecidedAt = &now
	require.NoError(t, store.SaveMovement(ctx, m))

	movements, err := store.ListMovements(ctx, "V-1")
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, MovementApproved, movements[0].Status)
	assert.Equal(t, "head-henry", movements[0].Approver)
	assert.Equal(t, "morning float", movements[0].Comment)
	require.NotNil(t, movements[0].DecidedAt)
	assert.True(t, movements[0].Amount.Equal(money.FromInt(50000)))
	assert.Equal(t, DirectionToTeller, movements[0].Direction)
}

func TestListMovementsScopedToVault(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, vaultID := range []string{"V-1", "V-1", "V-2"} {
		require.NoError(t, store.SaveMovement(ctx, Movement{
			ID:          string(rune('A' + i)),
			VaultID:     vaultID,
			TellerID:    "T-1",
			BranchID:    "BR-01",
			Amount:      money.FromInt(100),
			Direction:   DirectionToTeller,
			Requester:   "teller-alice",
			Status:      MovementPending,
			RequestedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	movements, err := store.ListMovements(ctx, "V-1")
	require.NoError(t, err)
	require.Len(t, movements, 2)
	// Newest first.
	assert.Equal(t, "B", movements[0].ID)
	assert.Equal(t, "A", movements[1].ID)
}

func TestServiceStateSurvivesRestart(t *testing.T) {
	store := setupStore(t)

	svc := NewService(&mockCashMover{}, store)
	require.NoError(t, svc.Register(Vault{
		ID:              "V-1",
		BranchID:        "BR-01",
		MaximumCapacity: money.FromInt(1000000),
		Balance:         money.FromInt(400000),
		Custodians: []Custodian{
			{UserID: "head-henry", IsLeader: true},
			{UserID: "deputy-diane"},
		},
	}))

	movement, err := svc.RequestMovement("V-1", "T-1", money.FromInt(50000), DirectionToTeller, "teller-alice")
	require.NoError(t, err)
	_, err = svc.Approve(movement.ID, "head-henry", "morning float")
	require.NoError(t, err)

	pending, err := svc.RequestMovement("V-1", "T-2", money.FromInt(20000), DirectionToTeller, "teller-carla")
	require.NoError(t, err)

	// A fresh service over the same database sees the balances, the
	// operation log and the undecided movement.
	reborn := NewService(&mockCashMover{}, store)
	require.NoError(t, reborn.Load(context.Background()))

	v, err := reborn.Get("V-1")
	require.NoError(t, err)
	assert.True(t, v.Balance.Equal(money.FromInt(350000)))
	assert.True(t, v.PreviousBalance.Equal(money.FromInt(400000)))
	require.Len(t, v.Custodians, 2)

	log, err := reborn.OperationLog("V-1")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.True(t, log[0].Delta.Equal(money.FromInt(50000).Neg()))

	decided, err := reborn.Approve(pending.ID, "deputy-diane", "after restart")
	require.NoError(t, err)
	assert.Equal(t, MovementApproved, decided.Status)

	v, err = reborn.Get("V-1")
	require.NoError(t, err)
	assert.True(t, v.Balance.Equal(money.FromInt(330000)))
}

func TestAppendOperation(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendOperation(ctx, Operation{
		VaultID:    "V-1",
		MovementID: "M-1",
		Delta:      money.FromInt(50000).Neg(),
		Balance:    money.FromInt(350000),
		Actor:      "head-henry",
		At:         time.Now().UTC(),
	}))
}
