package store

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/punchamoorthee/settlecore/internal/models"
)

// The leftover tracker banks settlement value too fine-grained to credit at an
// account's native scale. All read-modify-write paths lock the leftover row
// (inserting it first if absent) so two concurrent settlements for the same
// account serialize instead of losing an update.

// SaveUncredited adds value at the given scale into the account's leftover
// total in its own transaction.
func (s *Store) SaveUncredited(ctx context.Context, accountID int64, value *big.Int, scale uint8) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.SaveUncreditedTx(ctx, tx, accountID, value, scale); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveUncreditedTx is SaveUncredited running inside the caller's transaction.
func (s *Store) SaveUncreditedTx(ctx context.Context, tx pgx.Tx, accountID int64, value *big.Int, scale uint8) error {
	leftover, err := lockLeftover(ctx, tx, accountID)
	if err != nil {
		return err
	}
	leftover.Add(value, scale)
	return writeLeftover(ctx, tx, accountID, leftover)
}

// LoadCreditable removes and returns the portion of the account's leftover
// total that is a whole number at targetScale; the fractional remainder stays
// banked. Destructive: call it once per settlement-credit attempt.
func (s *Store) LoadCreditable(ctx context.Context, accountID int64, targetScale uint8) (*big.Int, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	credit, err := s.LoadCreditableTx(ctx, tx, accountID, targetScale)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return credit, nil
}

// LoadCreditableTx is LoadCreditable running inside the caller's transaction.
func (s *Store) LoadCreditableTx(ctx context.Context, tx pgx.Tx, accountID int64, targetScale uint8) (*big.Int, error) {
	leftover, err := lockLeftover(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	credit := leftover.Extract(targetScale)
	if err := writeLeftover(ctx, tx, accountID, leftover); err != nil {
		return nil, err
	}
	return credit, nil
}

// PeekUncredited is a non-destructive read of the current leftover total.
// Accounts with no recorded leftover report (0, 0).
func (s *Store) PeekUncredited(ctx context.Context, accountID int64) (*models.LeftoverAmount, error) {
	var (
		value pgtype.Numeric
		scale uint8
	)
	err := s.db.QueryRow(ctx,
		"SELECT value, scale FROM uncredited_amounts WHERE account_id = $1", accountID,
	).Scan(&value, &scale)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.NewLeftoverAmount(), nil
		}
		return nil, err
	}
	v, err := numericToBigInt(value)
	if err != nil {
		return nil, err
	}
	return &models.LeftoverAmount{Value: v, Scale: scale}, nil
}

// ClearUncredited resets the account's leftover total to (0, 0).
func (s *Store) ClearUncredited(ctx context.Context, accountID int64) error {
	_, err := s.db.Exec(ctx, "DELETE FROM uncredited_amounts WHERE account_id = $1", accountID)
	return err
}

// lockLeftover ensures the leftover row exists and acquires its row lock,
// returning the current total. The insert-then-lock pair is what serializes
// concurrent settlements for one account.
func lockLeftover(ctx context.Context, tx pgx.Tx, accountID int64) (*models.LeftoverAmount, error) {
	_, err := tx.Exec(ctx,
		"INSERT INTO uncredited_amounts (account_id, value, scale) VALUES ($1, 0, 0) ON CONFLICT (account_id) DO NOTHING",
		accountID)
	if err != nil {
		return nil, fmt.Errorf("leftover row init failed: %w", err)
	}

	var (
		value pgtype.Numeric
		scale uint8
	)
	err = tx.QueryRow(ctx,
		"SELECT value, scale FROM uncredited_amounts WHERE account_id = $1 FOR UPDATE", accountID,
	).Scan(&value, &scale)
	if err != nil {
		return nil, fmt.Errorf("leftover lock failed: %w", err)
	}
	v, err := numericToBigInt(value)
	if err != nil {
		return nil, err
	}
	return &models.LeftoverAmount{Value: v, Scale: scale}, nil
}

func writeLeftover(ctx context.Context, tx pgx.Tx, accountID int64, leftover *models.LeftoverAmount) error {
	_, err := tx.Exec(ctx,
		"UPDATE uncredited_amounts SET value = $1, scale = $2 WHERE account_id = $3",
		bigIntToNumeric(leftover.Value), leftover.Scale, accountID)
	if err != nil {
		return fmt.Errorf("leftover update failed: %w", err)
	}
	return nil
}

// numericToBigInt converts a scanned NUMERIC to the integer it stores.
// Postgres may hand back a shortened mantissa with a positive exponent
// (e.g. 1000 as 1e3), so the exponent is multiplied back in exactly.
func numericToBigInt(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid || n.NaN {
		return nil, fmt.Errorf("leftover value is not a number")
	}
	if n.Int == nil {
		return new(big.Int), nil
	}
	v := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	} else if n.Exp < 0 {
		return nil, fmt.Errorf("leftover value %s has fractional digits", n.Int)
	}
	return v, nil
}

func bigIntToNumeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		v = new(big.Int)
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Valid: true}
}
