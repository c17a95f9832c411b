package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/settlecore/internal/models"
)

// SetSettlementEngines replaces the per-asset-code directory of default
// settlement-engine endpoints wholesale.
func (s *Store) SetSettlementEngines(ctx context.Context, engines []models.SettlementEngine) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM settlement_engines"); err != nil {
		return fmt.Errorf("directory reset failed: %w", err)
	}
	for _, e := range engines {
		_, err := tx.Exec(ctx,
			"INSERT INTO settlement_engines (asset_code, url) VALUES ($1, $2)",
			e.AssetCode, e.URL)
		if err != nil {
			return fmt.Errorf("directory insert failed: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ResolveSettlementEngine returns the account's effective settlement-engine
// endpoint: its own override when set, otherwise the directory default for
// its asset code, otherwise empty. Account state is never mutated.
func (s *Store) ResolveSettlementEngine(ctx context.Context, account *models.Account) (string, error) {
	if account.SettlementEngineURL != "" {
		return account.SettlementEngineURL, nil
	}
	var url string
	err := s.db.QueryRow(ctx,
		"SELECT url FROM settlement_engines WHERE asset_code = $1", account.AssetCode,
	).Scan(&url)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return url, nil
}

func (s *Store) settlementEngineMap(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, "SELECT asset_code, url FROM settlement_engines")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	engines := make(map[string]string)
	for rows.Next() {
		var code, url string
		if err := rows.Scan(&code, &url); err != nil {
			return nil, err
		}
		engines[code] = url
	}
	return engines, rows.Err()
}
