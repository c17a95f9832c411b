package store

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/settlecore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore connects to the database named by TEST_DATABASE_URL. Tests that
// need a live Postgres are skipped when it is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewStore(pool)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func createTestAccount(t *testing.T, s *Store, p models.CreateAccountParams) *models.Account {
	t.Helper()
	if p.AssetCode == "" {
		p.AssetCode = "XYZ"
	}
	account, err := s.CreateAccount(context.Background(), p)
	require.NoError(t, err)
	return account
}

func TestSaveAndPeekUncredited(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	acc := createTestAccount(t, s, models.CreateAccountParams{AssetScale: 9})

	require.NoError(t, s.SaveUncredited(ctx, acc.ID, big.NewInt(5), 11))
	require.NoError(t, s.SaveUncredited(ctx, acc.ID, big.NewInt(855), 12))
	require.NoError(t, s.SaveUncredited(ctx, acc.ID, big.NewInt(1), 10))

	leftover, err := s.PeekUncredited(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "1005", leftover.Value.String())
	assert.Equal(t, uint8(12), leftover.Scale)
}

func TestLoadCreditableKeepsRemainder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	acc := createTestAccount(t, s, models.CreateAccountParams{AssetScale: 9})

	require.NoError(t, s.SaveUncredited(ctx, acc.ID, big.NewInt(5), 11))
	require.NoError(t, s.SaveUncredited(ctx, acc.ID, big.NewInt(855), 12))
	require.NoError(t, s.SaveUncredited(ctx, acc.ID, big.NewInt(1), 10))

	credit, err := s.LoadCreditable(ctx, acc.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, "1", credit.String())

	leftover, err := s.PeekUncredited(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "5", leftover.Value.String())
	assert.Equal(t, uint8(12), leftover.Scale)

	// Destructive: a second extraction finds nothing creditable.
	credit, err = s.LoadCreditable(ctx, acc.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, "0", credit.String())
}

func TestLoadCreditableSurvivesWideValues(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	acc := createTestAccount(t, s, models.CreateAccountParams{AssetScale: 9})

	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)
	require.NoError(t, s.SaveUncredited(ctx, acc.ID, huge, 18))

	leftover, err := s.PeekUncredited(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, huge.String(), leftover.Value.String())
	assert.Equal(t, uint8(18), leftover.Scale)
}

func TestClearUncredited(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	acc := createTestAccount(t, s, models.CreateAccountParams{AssetScale: 9})

	require.NoError(t, s.SaveUncredited(ctx, acc.ID, big.NewInt(1005), 12))
	require.NoError(t, s.ClearUncredited(ctx, acc.ID))

	leftover, err := s.PeekUncredited(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, leftover.IsZero())
	assert.Equal(t, uint8(0), leftover.Scale)
}

func TestIdempotencyFirstWriteWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := "idem-" + t.Name()
	s.Pool().Exec(ctx, "DELETE FROM idempotency_keys WHERE key = $1", key)

	require.NoError(t, s.SaveIdempotentData(ctx, key, "hash-1", 200, []byte(`{"ok":true}`)))
	// Second write with different contents must not overwrite.
	require.NoError(t, s.SaveIdempotentData(ctx, key, "hash-2", 500, []byte(`{"ok":false}`)))

	data, err := s.LoadIdempotentData(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "hash-1", data.InputHash)
	assert.Equal(t, 200, data.ResponseStatus)
	assert.JSONEq(t, `{"ok":true}`, string(data.ResponseBody))
}

func TestLoadIdempotentDataAbsent(t *testing.T) {
	s := testStore(t)

	data, err := s.LoadIdempotentData(context.Background(), "never-used-key")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSettlementEngineDirectoryDoesNotOverride(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	withOverride := createTestAccount(t, s, models.CreateAccountParams{
		AssetCode:           "ABC",
		AssetScale:          9,
		SettlementEngineURL: "http://settlement.example",
	})
	withoutOverride := createTestAccount(t, s, models.CreateAccountParams{
		AssetCode:  "ABC",
		AssetScale: 9,
	})

	require.NoError(t, s.SetSettlementEngines(ctx, []models.SettlementEngine{
		{AssetCode: "ABC", URL: "http://settle-abc.example"},
		{AssetCode: "XYZ", URL: "http://settle-xyz.example"},
	}))

	accounts, err := s.GetAccounts(ctx, []int64{withOverride.ID, withoutOverride.ID})
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	// The individually configured URL wins; the directory only fills gaps.
	assert.Equal(t, "http://settlement.example", accounts[0].SettlementEngineURL)
	assert.Equal(t, "http://settle-abc.example", accounts[1].SettlementEngineURL)
}

func TestGetAccountsDuplicateIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	acc := createTestAccount(t, s, models.CreateAccountParams{AssetScale: 9})

	// Repeating an id must not be mistaken for a missing account.
	accounts, err := s.GetAccounts(ctx, []int64{acc.ID, acc.ID})
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, acc.ID, accounts[0].ID)

	_, err = s.GetAccounts(ctx, []int64{acc.ID, acc.ID, -1})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestResolveSettlementEngine(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetSettlementEngines(ctx, []models.SettlementEngine{
		{AssetCode: "ABC", URL: "http://settle-abc.example"},
	}))

	url, err := s.ResolveSettlementEngine(ctx, &models.Account{AssetCode: "ABC"})
	require.NoError(t, err)
	assert.Equal(t, "http://settle-abc.example", url)

	url, err = s.ResolveSettlementEngine(ctx, &models.Account{
		AssetCode:           "ABC",
		SettlementEngineURL: "http://mine.example",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://mine.example", url)

	url, err = s.ResolveSettlementEngine(ctx, &models.Account{AssetCode: "UNKNOWN"})
	require.NoError(t, err)
	assert.Equal(t, "", url)
}
