package registry

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed registry store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const toolColumns = `tool_id, provider, price::TEXT, denom, COALESCE(description, ''), COALESCE(endpoint, ''), active, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, tool *Tool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tools (tool_id, provider, price, denom, description, endpoint, active, created_at, updated_at)
		VALUES ($1, $2, $3::NUMERIC(78,0), $4, $5, $6, $7, $8, $9)
	`, tool.ToolID, tool.Provider, tool.Price, tool.Denom,
		nullable(tool.Description), nullable(tool.Endpoint),
		tool.Active, tool.CreatedAt, tool.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
		return ErrToolExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, toolID string) (*Tool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+toolColumns+` FROM tools WHERE tool_id = $1
	`, toolID)

	tool, err := scanTool(row)
	if err == sql.ErrNoRows {
		return nil, ErrToolNotFound
	}
	return tool, err
}

func (p *PostgresStore) Update(ctx context.Context, tool *Tool) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE tools
		SET price = $2::NUMERIC(78,0), denom = $3, description = $4,
		    endpoint = $5, active = $6, updated_at = $7
		WHERE tool_id = $1
	`, tool.ToolID, tool.Price, tool.Denom,
		nullable(tool.Description), nullable(tool.Endpoint),
		tool.Active, tool.UpdatedAt)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrToolNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Tool, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+toolColumns+` FROM tools
		ORDER BY tool_id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tools := make([]*Tool, 0)
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTool(s scanner) (*Tool, error) {
	tool := &Tool{}
	err := s.Scan(&tool.ToolID, &tool.Provider, &tool.Price, &tool.Denom,
		&tool.Description, &tool.Endpoint, &tool.Active,
		&tool.CreatedAt, &tool.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return tool, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Verify interface compliance
var _ Store = (*PostgresStore)(nil)
