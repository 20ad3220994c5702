package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"yuzu/voicegw/internal/collab"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres serves modes, settings and messages from a database. The
// diagnostic journal stays in memory.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and applies pending migrations.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// ResolveMode accepts either the mode's id or its unique name.
func (p *Postgres) ResolveMode(ctx context.Context, id string) (collab.Mode, error) {
	var (
		m    collab.Mode
		temp *float64
	)
	err := p.pool.QueryRow(ctx,
		`SELECT id::text, context, temperature, role FROM modes WHERE id::text = $1 OR name = $1 LIMIT 1`,
		strings.TrimSpace(id)).Scan(&m.ID, &m.Instructions, &temp, &m.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return collab.Mode{}, fmt.Errorf("%w: %s", collab.ErrModeNotFound, id)
	}
	if err != nil {
		return collab.Mode{}, fmt.Errorf("query mode: %w", err)
	}
	m.Temperature = temp
	return m, nil
}

// Settings returns the most recent settings row, or zero Settings when the
// table is empty.
func (p *Postgres) Settings(ctx context.Context) (collab.Settings, error) {
	var st collab.Settings
	err := p.pool.QueryRow(ctx,
		`SELECT model, max_tokens FROM settings ORDER BY created_at DESC LIMIT 1`).Scan(&st.Model, &st.MaxTokens)
	if errors.Is(err, pgx.ErrNoRows) {
		return collab.Settings{}, nil
	}
	if err != nil {
		return collab.Settings{}, fmt.Errorf("query settings: %w", err)
	}
	return st, nil
}

func (p *Postgres) SaveMessage(ctx context.Context, m collab.Message) error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return fmt.Errorf("%w: message without owner", collab.ErrPersistence)
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO messages (user_id, content, is_ai) VALUES ($1, $2, $3)`,
		m.OwnerID, m.Text, m.IsAI)
	if err != nil {
		return fmt.Errorf("%w: %w", collab.ErrPersistence, err)
	}
	return nil
}

// Messages returns the owner's messages, oldest first.
func (p *Postgres) Messages(ctx context.Context, ownerID string) ([]StoredMessage, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, user_id, content, is_ai, created_at FROM messages WHERE user_id = $1 ORDER BY created_at`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StoredMessage, error) {
		var m StoredMessage
		err := row.Scan(&m.ID, &m.OwnerID, &m.Content, &m.IsAI, &m.CreatedAt)
		return m, err
	})
}

// PutMode inserts or replaces a mode by name and returns its id.
func (p *Postgres) PutMode(ctx context.Context, name string, m collab.Mode) (string, error) {
	role := m.Role
	if role == "" {
		role = "assistant"
	}
	var id string
	err := p.pool.QueryRow(ctx, `
		INSERT INTO modes (name, context, temperature, role) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET context = EXCLUDED.context, temperature = EXCLUDED.temperature, role = EXCLUDED.role
		RETURNING id::text`, name, m.Instructions, m.Temperature, role).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert mode: %w", err)
	}
	return id, nil
}

func (p *Postgres) PutSettings(ctx context.Context, st collab.Settings) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO settings (model, max_tokens) VALUES ($1, $2)`, st.Model, st.MaxTokens)
	if err != nil {
		return fmt.Errorf("insert settings: %w", err)
	}
	return nil
}
