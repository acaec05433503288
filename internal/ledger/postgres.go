package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/corebank/internal/money"
)

// PostgresStore is the durable Store. Monetary columns are NUMERIC with
// scale 2; every write runs in a SERIALIZABLE transaction with a bounded
// retry on serialization failure.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore wraps a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

const serializationFailure = "40001"

// Create inserts a new account row.
func (p *PostgresStore) Create(ctx context.Context, account *Account) error {
	return p.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)",
			account.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check account existence: %w", err)
		}
		if exists {
			return fmt.Errorf("account %s already exists", account.ID)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO accounts (
				id, product_id, branch_id, bank_id,
				balance, previous_balance, blocked_amount, block_reason,
				status, overdraft_allowance, version, deleted
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false)
		`, account.ID, account.ProductID, account.BranchID, account.BankID,
			account.Balance.String(), account.PreviousBalance.String(),
			account.BlockedAmount.String(), account.BlockReason,
			string(account.Status), account.OverdraftAllowance.String(), account.Version)
		if err != nil {
			return fmt.Errorf("failed to insert account: %w", err)
		}
		return nil
	})
}

// Get loads an account row. Soft-deleted rows are invisible.
func (p *PostgresStore) Get(ctx context.Context, accountID string) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		account                                    Account
		balance, previous, blocked, overdraft      string
		status                                     string
		blockedAt, releasedAt, deletedAt           *time.Time
	)
	err := p.Pool.QueryRow(queryCtx, `
		SELECT
			id, product_id, branch_id, bank_id,
			balance::text, previous_balance::text, blocked_amount::text, block_reason,
			blocked_at, block_released_at,
			status, overdraft_allowance::text, version,
			deleted, deleted_by, deleted_at
		FROM accounts
		WHERE id = $1 AND NOT deleted
	`, accountID).Scan(
		&account.ID, &account.ProductID, &account.BranchID, &account.BankID,
		&balance, &previous, &blocked, &account.BlockReason,
		&blockedAt, &releasedAt,
		&status, &overdraft, &account.Version,
		&account.Deleted, &account.DeletedBy, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if account.Balance, err = money.FromString(balance); err != nil {
		return nil, err
	}
	if account.PreviousBalance, err = money.FromString(previous); err != nil {
		return nil, err
	}
	if account.BlockedAmount, err = money.FromString(blocked); err != nil {
		return nil, err
	}
	if account.OverdraftAllowance, err = money.FromString(overdraft); err != nil {
		return nil, err
	}
	account.Status = Status(status)
	account.BlockedAt = blockedAt
	account.BlockReleasedAt = releasedAt
	account.DeletedAt = deletedAt
	return &account, nil
}

// Save writes an account back under the optimistic version check: the row
// must still be at version-1 or the write reports ErrVersionConflict.
func (p *PostgresStore) Save(ctx context.Context, account *Account) error {
	return p.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts SET
				balance = $2, previous_balance = $3, blocked_amount = $4,
				block_reason = $5, blocked_at = $6, block_released_at = $7,
				status = $8, version = $9
			WHERE id = $1 AND version = $10 AND NOT deleted
		`, account.ID,
			account.Balance.String(), account.PreviousBalance.String(),
			account.BlockedAmount.String(), account.BlockReason,
			account.BlockedAt, account.BlockReleasedAt,
			string(account.Status), account.Version, account.Version-1)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: account %s", ErrVersionConflict, account.ID)
		}
		return nil
	})
}

// GetPosting loads a posting by reference; nil means the reference is unseen.
func (p *PostgresStore) GetPosting(ctx context.Context, reference string) (*Posting, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		posting                    Posting
		delta, previous, newBal    string
		kind                       string
	)
	err := p.Pool.QueryRow(queryCtx, `
		SELECT reference, account_id, delta::text, kind,
		       previous_balance::text, new_balance::text, posted_at
		FROM postings
		WHERE reference = $1
	`, reference).Scan(
		&posting.Reference, &posting.AccountID, &delta, &kind,
		&previous, &newBal, &posting.PostedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get posting: %w", err)
	}

	if posting.Delta, err = money.FromString(delta); err != nil {
		return nil, err
	}
	if posting.PreviousBalance, err = money.FromString(previous); err != nil {
		return nil, err
	}
	if posting.NewBalance, err = money.FromString(newBal); err != nil {
		return nil, err
	}
	posting.Kind = OperationKind(kind)
	return &posting, nil
}

// SavePosting inserts an immutable posting row; references are write-once.
func (p *PostgresStore) SavePosting(ctx context.Context, posting *Posting) error {
	return p.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO postings (
				reference, account_id, delta, kind,
				previous_balance, new_balance, posted_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, posting.Reference, posting.AccountID, posting.Delta.String(),
			string(posting.Kind), posting.PreviousBalance.String(),
			posting.NewBalance.String(), posting.PostedAt)
		if err != nil {
			return fmt.Errorf("failed to insert posting: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) withSerializableRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	const maxRetries = 3

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = p.runSerializable(ctx, fn)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != serializationFailure {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return fmt.Errorf("gave up after serialization failures: %w", err)
}

func (p *PostgresStore) runSerializable(ctx context.Context, fn func(tx pgx.Tx) error) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := p.Pool.Acquire(queryCtx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(queryCtx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
