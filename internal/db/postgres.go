package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/promptrelay/internal/models"
	"github.com/wuwenbin0122/promptrelay/internal/utils"
)

// Postgres appends audit records to the prompt_audit table, storing prompt
// and response as JSONB. The pool is created on the first Append.
type Postgres struct {
	cfg    utils.PostgresConfig
	pool   *handle[*pgxpool.Pool]
	logger *zap.SugaredLogger
}

func NewPostgres(cfg utils.PostgresConfig, logger *zap.SugaredLogger) *Postgres {
	if logger == nil {
		logger = utils.Logger().Sugar()
	}

	p := &Postgres{cfg: cfg, logger: logger.Named("postgres")}
	p.pool = newHandle(p.connect, func(_ context.Context, pool *pgxpool.Pool) error {
		pool.Close()
		return nil
	})
	return p
}

func (p *Postgres) connect(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(p.cfg.BuildDSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	if p.cfg.MaxConns > 0 {
		poolConfig.MaxConns = p.cfg.MaxConns
	}
	if p.cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = p.cfg.MaxConnLifetime
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(p.cfg.ConnectTimeout))
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := ensureAuditSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	p.logger.Infow("connected", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)

	return pool, nil
}

func ensureAuditSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		strings.Join([]string{
			"CREATE TABLE IF NOT EXISTS prompt_audit (",
			"    id TEXT PRIMARY KEY,",
			"    request_id TEXT NOT NULL DEFAULT '',",
			"    subject TEXT NOT NULL DEFAULT '',",
			"    model TEXT NOT NULL,",
			"    prompt JSONB NOT NULL,",
			"    response JSONB,",
			"    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()",
			")",
		}, "\n"),
		"CREATE INDEX IF NOT EXISTS prompt_audit_timestamp_idx ON prompt_audit (timestamp DESC)",
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}

	return nil
}

const insertAuditSQL = `INSERT INTO prompt_audit (id, request_id, subject, model, prompt, response, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (p *Postgres) Append(ctx context.Context, record *models.AuditRecord) error {
	pool, err := p.pool.get(ctx)
	if err != nil {
		return err
	}

	prompt, err := json.Marshal(record.Prompt)
	if err != nil {
		return fmt.Errorf("postgres: encode prompt: %w", err)
	}

	var response *string
	if len(record.Response) > 0 {
		s := string(record.Response)
		response = &s
	}

	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err = pool.Exec(ctx, insertAuditSQL,
		id,
		record.RequestID,
		record.Subject,
		record.Prompt.Model,
		string(prompt),
		response,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert audit record: %w", err)
	}
	return nil
}

func (p *Postgres) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.pool.close(ctx)
}
