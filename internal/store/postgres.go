package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/settlecore/internal/models"
)

var ErrAccountNotFound = errors.New("account not found")

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id BIGSERIAL PRIMARY KEY,
	asset_code TEXT NOT NULL,
	asset_scale SMALLINT NOT NULL,
	balance BIGINT NOT NULL DEFAULT 0,
	prepaid_amount BIGINT NOT NULL DEFAULT 0,
	min_balance BIGINT NOT NULL DEFAULT 0,
	settlement_engine_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS uncredited_amounts (
	account_id BIGINT PRIMARY KEY,
	value NUMERIC NOT NULL DEFAULT 0,
	scale SMALLINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key TEXT PRIMARY KEY,
	input_hash TEXT NOT NULL,
	response_status INT NOT NULL DEFAULT 0,
	response_body BYTEA,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS settlement_engines (
	asset_code TEXT PRIMARY KEY,
	url TEXT NOT NULL
);
`

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Pool exposes the underlying connection pool for callers that compose
// multiple store operations inside one transaction.
func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

// EnsureSchema creates the backing tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema bootstrap failed: %w", err)
	}
	return nil
}

// CreateAccount inserts a new account with zero balance and prepaid amount.
func (s *Store) CreateAccount(ctx context.Context, p models.CreateAccountParams) (*models.Account, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO accounts (asset_code, asset_scale, min_balance, settlement_engine_url)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		p.AssetCode, p.AssetScale, p.MinBalance, p.SettlementEngineURL,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("account insert failed: %w", err)
	}
	return &models.Account{
		ID:                  id,
		AssetCode:           p.AssetCode,
		AssetScale:          p.AssetScale,
		MinBalance:          p.MinBalance,
		SettlementEngineURL: p.SettlementEngineURL,
	}, nil
}

// GetAccount retrieves a single account by ID, without engine resolution.
func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	var a models.Account
	err := s.db.QueryRow(ctx,
		`SELECT id, asset_code, asset_scale, balance, prepaid_amount, min_balance, settlement_engine_url
		 FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.AssetCode, &a.AssetScale, &a.Balance, &a.PrepaidAmount, &a.MinBalance, &a.SettlementEngineURL)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// GetAccounts retrieves the given accounts and materializes the effective
// settlement-engine URL onto each returned record: an account's own override
// is kept as-is, accounts without one get the directory default for their
// asset code. The resolution is computed per read and never written back.
func (s *Store) GetAccounts(ctx context.Context, ids []int64) ([]models.Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, asset_code, asset_scale, balance, prepaid_amount, min_balance, settlement_engine_url
		 FROM accounts WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]models.Account, 0, len(ids))
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.AssetCode, &a.AssetScale, &a.Balance, &a.PrepaidAmount, &a.MinBalance, &a.SettlementEngineURL); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	unique := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	if len(accounts) != len(unique) {
		return nil, ErrAccountNotFound
	}

	engines, err := s.settlementEngineMap(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].SettlementEngineURL == "" {
			accounts[i].SettlementEngineURL = engines[accounts[i].AssetCode]
		}
	}
	return accounts, nil
}
