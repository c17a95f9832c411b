package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/settlecore/internal/models"
	"github.com/punchamoorthee/settlecore/internal/store"
)

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
	ErrAmountTooLarge      = errors.New("creditable amount exceeds the native unit range")
)

type SettlementService struct {
	db    *pgxpool.Pool
	store *store.Store
}

func NewSettlementService(db *pgxpool.Pool, st *store.Store) *SettlementService {
	return &SettlementService{db: db, store: st}
}

// ApplyIncomingSettlement credits a reported settlement to the account inside
// one transaction: the amount is banked into the leftover total at its
// reported scale, the whole-unit portion at the account's native scale is
// extracted, and that credit first repays outstanding debt (negative balance)
// before accumulating as prepaid.
//
// When idempotencyKey is non-empty the call is applied at most once: a replay
// with the same input hash returns the stored outcome as the second return
// value, a replay with a different hash fails with ErrIdempotencyMismatch,
// and a concurrent duplicate fails with ErrIdempotencyConflict.
func (s *SettlementService) ApplyIncomingSettlement(ctx context.Context, accountID int64, amount *big.Int, scale uint8, idempotencyKey, inputHash string) (*models.SettlementResponse, *models.IdempotentData, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if idempotencyKey != "" {
		// Reserve the key before touching any balance. A concurrent
		// duplicate blocks on the unique index and loses with 23505, so
		// the credit below can never apply twice.
		var storedHash string
		var storedStatus int
		var storedBody []byte
		err = tx.QueryRow(ctx,
			"SELECT input_hash, response_status, response_body FROM idempotency_keys WHERE key = $1",
			idempotencyKey,
		).Scan(&storedHash, &storedStatus, &storedBody)
		if err == nil {
			if storedHash != inputHash {
				return nil, nil, ErrIdempotencyMismatch
			}
			return nil, &models.IdempotentData{
				Key:            idempotencyKey,
				InputHash:      storedHash,
				ResponseStatus: storedStatus,
				ResponseBody:   storedBody,
			}, nil
		} else if err != pgx.ErrNoRows {
			return nil, nil, fmt.Errorf("idempotency query failed: %w", err)
		}

		_, err = tx.Exec(ctx,
			"INSERT INTO idempotency_keys (key, input_hash) VALUES ($1, $2)",
			idempotencyKey, inputHash)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return nil, nil, ErrIdempotencyConflict
			}
			return nil, nil, fmt.Errorf("key reservation failed: %w", err)
		}
	}

	var balance, prepaid int64
	var assetScale uint8
	err = tx.QueryRow(ctx,
		"SELECT balance, prepaid_amount, asset_scale FROM accounts WHERE id = $1 FOR UPDATE", accountID,
	).Scan(&balance, &prepaid, &assetScale)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, store.ErrAccountNotFound
		}
		return nil, nil, fmt.Errorf("lock acquisition failed: %w", err)
	}

	if err := s.store.SaveUncreditedTx(ctx, tx, accountID, amount, scale); err != nil {
		return nil, nil, err
	}
	credit, err := s.store.LoadCreditableTx(ctx, tx, accountID, assetScale)
	if err != nil {
		return nil, nil, err
	}
	if !credit.IsInt64() {
		return nil, nil, ErrAmountTooLarge
	}

	newBalance, newPrepaid, ok := applyCredit(balance, prepaid, credit.Int64())
	if !ok {
		return nil, nil, ErrAmountTooLarge
	}
	_, err = tx.Exec(ctx,
		"UPDATE accounts SET balance = $1, prepaid_amount = $2 WHERE id = $3",
		newBalance, newPrepaid, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("balance update failed: %w", err)
	}

	resp := &models.SettlementResponse{
		AccountID:     accountID,
		Balance:       newBalance,
		PrepaidAmount: newPrepaid,
	}

	if idempotencyKey != "" {
		respBody, err := json.Marshal(resp)
		if err != nil {
			return nil, nil, err
		}
		_, err = tx.Exec(ctx,
			"UPDATE idempotency_keys SET response_status = $1, response_body = $2 WHERE key = $3",
			http.StatusOK, respBody, idempotencyKey)
		if err != nil {
			return nil, nil, fmt.Errorf("idempotency finalize failed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return resp, nil, nil
}

// Withdraw debits previously settled or prepaid funds. The withdrawable bound
// is balance + prepaid_amount - min_balance; a request above it fails with
// ErrInsufficientFunds and mutates nothing. Prepaid funds are debited before
// the balance. There is no idempotency layer here: callers must deduplicate
// retries themselves.
func (s *SettlementService) Withdraw(ctx context.Context, accountID int64, amount int64) (*models.SettlementResponse, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance, prepaid, minBalance int64
	err = tx.QueryRow(ctx,
		"SELECT balance, prepaid_amount, min_balance FROM accounts WHERE id = $1 FOR UPDATE", accountID,
	).Scan(&balance, &prepaid, &minBalance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}

	if amount > balance+prepaid-minBalance {
		return nil, ErrInsufficientFunds
	}

	newBalance, newPrepaid := splitWithdrawal(balance, prepaid, amount)
	_, err = tx.Exec(ctx,
		"UPDATE accounts SET balance = $1, prepaid_amount = $2 WHERE id = $3",
		newBalance, newPrepaid, accountID)
	if err != nil {
		return nil, fmt.Errorf("balance update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return &models.SettlementResponse{
		AccountID:     accountID,
		Balance:       newBalance,
		PrepaidAmount: newPrepaid,
	}, nil
}

// applyCredit repays outstanding debt before growing the prepaid amount.
// The third result is false when the resulting prepaid amount would exceed
// the int64 range; balance+credit itself cannot overflow since balance is
// negative and credit non-negative on that path.
func applyCredit(balance, prepaid, credit int64) (int64, int64, bool) {
	if balance >= 0 {
		if credit > math.MaxInt64-prepaid {
			return balance, prepaid, false
		}
		return balance, prepaid + credit, true
	}
	if balance+credit <= 0 {
		return balance + credit, prepaid, true
	}
	excess := balance + credit
	if excess > math.MaxInt64-prepaid {
		return balance, prepaid, false
	}
	return 0, prepaid + excess, true
}

// splitWithdrawal debits prepaid funds first, then the balance.
func splitWithdrawal(balance, prepaid, amount int64) (int64, int64) {
	fromPrepaid := amount
	if prepaid < fromPrepaid {
		fromPrepaid = prepaid
	}
	return balance - (amount - fromPrepaid), prepaid - fromPrepaid
}
