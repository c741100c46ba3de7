package bank

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/toolpay/toolpay/internal/idgen"
	"github.com/toolpay/toolpay/internal/pagination"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed bank store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Balance retrieves an account's balance in one denomination
func (p *PostgresStore) Balance(ctx context.Context, address, denom string) (*Balance, error) {
	bal := &Balance{Address: address, Denom: denom}

	err := p.db.QueryRowContext(ctx, `
		SELECT available::TEXT, updated_at
		FROM account_balances WHERE address = $1 AND denom = $2
	`, address, denom).Scan(&bal.Available, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// Balances retrieves all non-zero balances held by an account
func (p *PostgresStore) Balances(ctx context.Context, address string) ([]*Balance, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT denom, available::TEXT, updated_at
		FROM account_balances
		WHERE address = $1 AND available > 0
		ORDER BY denom
	`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make([]*Balance, 0)
	for rows.Next() {
		bal := &Balance{Address: address}
		if err := rows.Scan(&bal.Denom, &bal.Available, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// Deposit credits an account
func (p *PostgresStore) Deposit(ctx context.Context, address, denom, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := credit(ctx, tx, address, denom, amount); err != nil {
		return err
	}
	if err := record(ctx, tx, address, "deposit", denom, amount, reference); err != nil {
		return err
	}

	return tx.Commit()
}

// Transfer atomically moves funds between accounts
func (p *PostgresStore) Transfer(ctx context.Context, from, to, denom, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Guarded debit: only succeeds when the source holds enough
	res, err := tx.ExecContext(ctx, `
		UPDATE account_balances
		SET available = available - $3::NUMERIC(78,0), updated_at = NOW()
		WHERE address = $1 AND denom = $2 AND available >= $3::NUMERIC(78,0)
	`, from, denom, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInsufficientFunds
	}

	if err := credit(ctx, tx, to, denom, amount); err != nil {
		return err
	}

	if err := record(ctx, tx, from, "transfer_out", denom, amount, reference); err != nil {
		return err
	}
	if err := record(ctx, tx, to, "transfer_in", denom, amount, reference); err != nil {
		return err
	}

	return tx.Commit()
}

// History retrieves the most recent balance movements for an account,
// resuming after the cursor position when one is given.
func (p *PostgresStore) History(ctx context.Context, address string, limit int, before *pagination.Cursor) ([]*Entry, error) {
	query := `
		SELECT id, address, type, denom, amount::TEXT, COALESCE(reference, ''), created_at
		FROM account_entries
		WHERE address = $1`
	args := []any{address}
	if before != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, before.CreatedAt, before.ID)
	}
	query += fmt.Sprintf(`
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.Address, &e.Type, &e.Denom, &e.Amount, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func credit(ctx context.Context, tx *sql.Tx, address, denom, amount string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO account_balances (address, denom, available, updated_at)
		VALUES ($1, $2, $3::NUMERIC(78,0), NOW())
		ON CONFLICT (address, denom) DO UPDATE SET
			available  = account_balances.available + $3::NUMERIC(78,0),
			updated_at = NOW()
	`, address, denom, amount)
	return err
}

func record(ctx context.Context, tx *sql.Tx, address, entryType, denom, amount, reference string) error {
	var ref sql.NullString
	if reference != "" {
		ref = sql.NullString{String: reference, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO account_entries (id, address, type, denom, amount, reference, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(78,0), $6, $7)
	`, idgen.WithPrefix("entry"), address, entryType, denom, amount, ref, time.Now())
	return err
}

// Verify interface compliance
var _ Store = (*PostgresStore)(nil)
