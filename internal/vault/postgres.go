package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresVault keeps account and escrow balances in PostgreSQL and journals
// every movement in vault_transfers. Amounts are stored as NUMERIC.
type PostgresVault struct {
	pool *pgxpool.Pool
}

// NewPostgresVault creates a PostgreSQL-backed vault. The schema is created
// by the store migrations.
func NewPostgresVault(pool *pgxpool.Pool) *PostgresVault {
	return &PostgresVault{pool: pool}
}

// Credit adds funds to an owner's account.
func (v *PostgresVault) Credit(ctx context.Context, asset, owner common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return v.withTx(ctx, func(tx pgx.Tx) error {
		if err := creditAccount(ctx, tx, asset, owner, amount); err != nil {
			return err
		}
		return journal(ctx, tx, "credit", asset, 0, owner, amount)
	})
}

// Balance returns an owner's account balance.
func (v *PostgresVault) Balance(ctx context.Context, asset, owner common.Address) (decimal.Decimal, error) {
	var s string
	err := v.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM vault_accounts WHERE asset = $1 AND owner = $2`,
		asset.Hex(), owner.Hex()).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("vault: balance %s: %w", owner.Hex(), err)
	}
	return decimal.NewFromString(s)
}

func (v *PostgresVault) Deposit(ctx context.Context, asset common.Address, marketID uint64, from common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return v.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE vault_accounts SET balance = balance - $3::NUMERIC
			 WHERE asset = $1 AND owner = $2 AND balance >= $3::NUMERIC`,
			asset.Hex(), from.Hex(), amount.String())
		if err != nil {
			return fmt.Errorf("vault: debit %s: %w", from.Hex(), err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s needs %s", ErrInsufficientFunds, from.Hex(), amount)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO vault_escrows (asset, market_id, balance) VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (asset, market_id) DO UPDATE SET balance = vault_escrows.balance + EXCLUDED.balance`,
			asset.Hex(), int64(marketID), amount.String()); err != nil {
			return fmt.Errorf("vault: credit escrow %d: %w", marketID, err)
		}
		return journal(ctx, tx, "deposit", asset, marketID, from, amount)
	})
}

// Disburse pays every transfer out of the market escrow in one transaction.
func (v *PostgresVault) Disburse(ctx context.Context, asset common.Address, marketID uint64, transfers []Transfer) error {
	legs, sum := compact(transfers)
	if len(legs) == 0 {
		return nil
	}
	return v.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE vault_escrows SET balance = balance - $3::NUMERIC
			 WHERE asset = $1 AND market_id = $2 AND balance >= $3::NUMERIC`,
			asset.Hex(), int64(marketID), sum.String())
		if err != nil {
			return fmt.Errorf("vault: debit escrow %d: %w", marketID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: escrow %d needs %s", ErrInsufficientFunds, marketID, sum)
		}

		for _, tr := range legs {
			if err := creditAccount(ctx, tx, asset, tr.To, tr.Amount); err != nil {
				return err
			}
			if err := journal(ctx, tx, "payout", asset, marketID, tr.To, tr.Amount); err != nil {
				return err
			}
		}
		return nil
	})
}

func (v *PostgresVault) EscrowBalance(ctx context.Context, asset common.Address, marketID uint64) (decimal.Decimal, error) {
	var s string
	err := v.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM vault_escrows WHERE asset = $1 AND market_id = $2`,
		asset.Hex(), int64(marketID)).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("vault: escrow %d: %w", marketID, err)
	}
	return decimal.NewFromString(s)
}

// withTx runs fn in a transaction, rolling back if fn fails.
func (v *PostgresVault) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vault: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("vault: rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("vault: commit transaction: %w", err)
	}
	return nil
}

func creditAccount(ctx context.Context, tx pgx.Tx, asset, owner common.Address, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO vault_accounts (asset, owner, balance) VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (asset, owner) DO UPDATE SET balance = vault_accounts.balance + EXCLUDED.balance`,
		asset.Hex(), owner.Hex(), amount.String())
	if err != nil {
		return fmt.Errorf("vault: credit %s: %w", owner.Hex(), err)
	}
	return nil
}

func journal(ctx context.Context, tx pgx.Tx, kind string, asset common.Address, marketID uint64, account common.Address, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO vault_transfers (id, kind, asset, market_id, account, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
		uuid.New().String(), kind, asset.Hex(), int64(marketID), account.Hex(), amount.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("vault: journal %s: %w", kind, err)
	}
	return nil
}
