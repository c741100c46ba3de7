package escrow

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists escrow state in PostgreSQL. Every Store method
// is a single transaction, so each operation commits atomically.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureConfig seeds the singleton config row if it does not exist yet.
// An existing row wins, so a restart never clobbers the persisted frozen
// flag.
func (p *PostgresStore) EnsureConfig(ctx context.Context, cfg Config) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_config (id, owner, fee_percent, frozen, max_ttl, freeze_blocks_settlement)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		cfg.Owner, cfg.FeePercent, cfg.Frozen, cfg.MaxTTL, cfg.FreezeBlocksSettlement,
	)
	return err
}

func (p *PostgresStore) Config(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	err := p.db.QueryRowContext(ctx, `
		SELECT owner, fee_percent, frozen, max_ttl, freeze_blocks_settlement
		FROM escrow_config WHERE id = 1`,
	).Scan(&cfg.Owner, &cfg.FeePercent, &cfg.Frozen, &cfg.MaxTTL, &cfg.FreezeBlocksSettlement)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("escrow config row missing (run EnsureConfig)")
	}
	return cfg, err
}

func (p *PostgresStore) SetFrozen(ctx context.Context, frozen bool) error {
	result, err := p.db.ExecContext(ctx, `UPDATE escrow_config SET frozen = $1 WHERE id = 1`, frozen)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("escrow config row missing (run EnsureConfig)")
	}
	return nil
}

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) (uint64, error) {
	var id uint64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO escrows (caller, provider, tool_id, max_fee, denom, auth_token, expires, lock_height)
		VALUES ($1, $2, $3, $4::NUMERIC(78,0), $5, $6, $7, $8)
		RETURNING id`,
		e.Caller, e.Provider, e.ToolID, e.MaxFee, e.Denom, e.AuthToken, e.Expires, e.LockHeight,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

const escrowColumns = `id, caller, provider, tool_id, max_fee::TEXT, denom, auth_token, expires, lock_height`

func (p *PostgresStore) Get(ctx context.Context, id uint64) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

func (p *PostgresStore) Settle(ctx context.Context, id uint64, feeDenom, feeAmount string) (*Escrow, error) {
	fee, err := ParseAmount(feeAmount)
	if err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `DELETE FROM escrows WHERE id = $1 RETURNING `+escrowColumns, id)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}

	if fee.Sign() > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collected_fees (denom, amount)
			VALUES ($1, $2::NUMERIC(78,0))
			ON CONFLICT (denom) DO UPDATE SET amount = collected_fees.amount + $2::NUMERIC(78,0)`,
			feeDenom, feeAmount,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PostgresStore) ListExpired(ctx context.Context, height uint64, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE expires <= $1
		ORDER BY id
		LIMIT $2`, height, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresStore) PendingByDenom(ctx context.Context) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT denom, SUM(max_fee)::TEXT
		FROM escrows
		GROUP BY denom`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]string)
	for rows.Next() {
		var denom, total string
		if err := rows.Scan(&denom, &total); err != nil {
			return nil, err
		}
		result[denom] = total
	}
	return result, rows.Err()
}

func (p *PostgresStore) FeeBalances(ctx context.Context) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT denom, amount::TEXT FROM collected_fees WHERE amount > 0`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]string)
	for rows.Next() {
		var denom, amount string
		if err := rows.Scan(&denom, &amount); err != nil {
			return nil, err
		}
		result[denom] = amount
	}
	return result, rows.Err()
}

func (p *PostgresStore) DrainFees(ctx context.Context, denom string) (string, error) {
	// RETURNING sees post-update values, so join against the old row to
	// report the drained amount.
	var amount string
	err := p.db.QueryRowContext(ctx, `
		UPDATE collected_fees c SET amount = 0
		FROM (SELECT denom, amount FROM collected_fees WHERE denom = $1 AND amount > 0 FOR UPDATE) old
		WHERE c.denom = old.denom
		RETURNING old.amount::TEXT`, denom).Scan(&amount)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return amount, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(s scanner) (*Escrow, error) {
	e := &Escrow{}
	err := s.Scan(&e.ID, &e.Caller, &e.Provider, &e.ToolID, &e.MaxFee, &e.Denom, &e.AuthToken, &e.Expires, &e.LockHeight)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func scanEscrows(rows *sql.Rows) ([]*Escrow, error) {
	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
