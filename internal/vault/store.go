package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/corebank/internal/money"
)

// Store persists vault state, movements and the operation log over
// database/sql. Monetary columns are stored as fixed-scale decimal text.
// Deletion is logical only.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the vault tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS vaults (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL,
		maximum_capacity TEXT NOT NULL,
		balance TEXT NOT NULL,
		previous_balance TEXT NOT NULL,
		custodians TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		deleted_by TEXT,
		deleted_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS vault_movements (
		id TEXT PRIMARY KEY,
		vault_id TEXT NOT NULL,
		teller_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		direction TEXT NOT NULL,
		requester TEXT NOT NULL,
		approver TEXT,
		comment TEXT,
		status TEXT NOT NULL,
		requested_at TIMESTAMP NOT NULL,
		decided_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_vault_movements_vault ON vault_movements(vault_id);

	CREATE TABLE IF NOT EXISTS vault_operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vault_id TEXT NOT NULL,
		movement_id TEXT NOT NULL,
		delta TEXT NOT NULL,
		balance TEXT NOT NULL,
		actor TEXT NOT NULL,
		at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vault_operations_vault ON vault_operations(vault_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("vault migration failed: %w", err)
	}
	return nil
}

// SaveVault upserts a vault row.
func (s *Store) SaveVault(ctx context.Context, v Vault) error {
	custodians := make([]string, 0, len(v.Custodians))
	for _, c := range v.Custodians {
		entry := c.UserID
		if c.IsLeader {
			entry += "!leader"
		}
		custodians = append(custodians, entry)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vaults (id, branch_id, maximum_capacity, balance, previous_balance, custodians)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			balance = excluded.balance,
			previous_balance = excluded.previous_balance,
			custodians = excluded.custodians
	`, v.ID, v.BranchID, v.MaximumCapacity.String(), v.Balance.String(),
		v.PreviousBalance.String(), strings.Join(custodians, ","))
	if err != nil {
		return fmt.Errorf("failed to save vault %s: %w", v.ID, err)
	}
	return nil
}

// LoadVault reads a vault row. Soft-deleted rows are invisible.
func (s *Store) LoadVault(ctx context.Context, vaultID string) (*Vault, error) {
	var (
		v                            Vault
		capacity, balance, previous  string
		custodians                   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, maximum_capacity, balance, previous_balance, custodians
		FROM vaults
		WHERE id = ? AND deleted = 0
	`, vaultID).Scan(&v.ID, &v.BranchID, &capacity, &balance, &previous, &custodians)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, vaultID)
		}
		return nil, fmt.Errorf("failed to load vault %s: %w", vaultID, err)
	}

	if v.MaximumCapacity, err = money.FromString(capacity); err != nil {
		return nil, err
	}
	if v.Balance, err = money.FromString(balance); err != nil {
		return nil, err
	}
	if v.PreviousBalance, err = money.FromString(previous); err != nil {
		return nil, err
	}
	if custodians != "" {
		for _, entry := range strings.Split(custodians, ",") {
			leader := strings.HasSuffix(entry, "!leader")
			v.Custodians = append(v.Custodians, Custodian{
				UserID:   strings.TrimSuffix(entry, "!leader"),
				IsLeader: leader,
			})
		}
	}
	return &v, nil
}

// ListVaults reads every live vault row, for reloading service state at
// startup.
func (s *Store) ListVaults(ctx context.Context) ([]Vault, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, maximum_capacity, balance, previous_balance, custodians
		FROM vaults
		WHERE deleted = 0
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vaults: %w", err)
	}
	defer rows.Close()

	var vaults []Vault
	for rows.Next() {
		var (
			v                           Vault
			capacity, balance, previous string
			custodians                  string
		)
		if err := rows.Scan(&v.ID, &v.BranchID, &capacity, &balance, &previous, &custodians); err != nil {
			return nil, fmt.Errorf("failed to scan vault: %w", err)
		}
		if v.MaximumCapacity, err = money.FromString(capacity); err != nil {
			return nil, err
		}
		if v.Balance, err = money.FromString(balance); err != nil {
			return nil, err
		}
		if v.PreviousBalance, err = money.FromString(previous); err != nil {
			return nil, err
		}
		if custodians != "" {
			for _, entry := range strings.Split(custodians, ",") {
				v.Custodians = append(v.Custodians, Custodian{
					UserID:   strings.TrimSuffix(entry, "!leader"),
					IsLeader: strings.HasSuffix(entry, "!leader"),
				})
			}
		}
		vaults = append(vaults, v)
	}
	return vaults, rows.Err()
}

// DeleteVault soft-deletes a vault row.
func (s *Store) DeleteVault(ctx context.Context, vaultID, actor string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE vaults SET deleted = 1, deleted_by = ?, deleted_at = ? WHERE id = ?
	`, actor, time.Now().UTC(), vaultID)
	if err != nil {
		return fmt.Errorf("failed to delete vault %s: %w", vaultID, err)
	}
	return nil
}

// SaveMovement upserts a movement row.
func (s *Store) SaveMovement(ctx context.Context, m Movement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_movements (
			id, vault_id, teller_id, branch_id, amount, direction,
			requester, approver, comment, status, requested_at, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			approver = excluded.approver,
			comment = excluded.comment,
			status = excluded.status,
			decided_at = excluded.decided_at
	`, m.ID, m.VaultID, m.TellerID, m.BranchID, m.Amount.String(), string(m.Direction),
		m.Requester, m.Approver, m.Comment, string(m.Status), m.RequestedAt, m.DecidedAt)
	if err != nil {
		return fmt.Errorf("failed to save movement %s: %w", m.ID, err)
	}
	return nil
}

// ListMovements returns all movements for a vault, newest first.
func (s *Store) ListMovements(ctx context.Context, vaultID string) ([]Movement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vault_id, teller_id, branch_id, amount, direction,
		       requester, approver, comment, status, requested_at, decided_at
		FROM vault_movements
		WHERE vault_id = ?
		ORDER BY requested_at DESC
	`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var (
			m         Movement
			amount    string
			direction string
			status    string
			approver  sql.NullString
			comment   sql.NullString
			decidedAt sql.NullTime
		)
		err := rows.Scan(&m.ID, &m.VaultID, &m.TellerID, &m.BranchID, &amount, &direction,
			&m.Requester, &approver, &comment, &status, &m.RequestedAt, &decidedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		if m.Amount, err = money.FromString(amount); err != nil {
			return nil, err
		}
		m.Direction = Direction(direction)
		m.Status = MovementStatus(status)
		m.Approver = approver.String
		m.Comment = comment.String
		if decidedAt.Valid {
			at := decidedAt.Time
			m.DecidedAt = &at
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// AppendOperation records one vault operation-log entry.
func (s *Store) AppendOperation(ctx context.Context, op Operation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_operations (vault_id, movement_id, delta, balance, actor, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, op.VaultID, op.MovementID, op.Delta.String(), op.Balance.String(), op.Actor, op.At)
	if err != nil {
		return fmt.Errorf("failed to append vault operation: %w", err)
	}
	return nil
}

// ListOperations reads a vault's operation log in commit order.
func (s *Store) ListOperations(ctx context.Context, vaultID string) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vault_id, movement_id, delta, balance, actor, at
		FROM vault_operations
		WHERE vault_id = ?
		ORDER BY id
	`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vault operations: %w", err)
	}
	defer rows.Close()

	var operations []Operation
	for rows.Next() {
		var (
			op             Operation
			delta, balance string
		)
		if err := rows.Scan(&op.VaultID, &op.MovementID, &delta, &balance, &op.Actor, &op.At); err != nil {
			return nil, fmt.Errorf("failed to scan vault operation: %w", err)
		}
		if op.Delta, err = money.FromString(delta); err != nil {
			return nil, err
		}
		if op.Balance, err = money.FromString(balance); err != nil {
			return nil, err
		}
		operations = append(operations, op)
	}
	return operations, rows.Err()
}
