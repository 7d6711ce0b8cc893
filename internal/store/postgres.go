package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"pickupopt/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir applies every *.sql file in dir not yet recorded in
// schema_migrations, in lexical order, each in its own transaction.
func (p *Postgres) MigrateDir(ctx context.Context, dir string) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		name := filepath.Base(f)
		var seen string
		err := p.db.QueryRowContext(ctx, `SELECT name FROM schema_migrations WHERE name=$1`, name).Scan(&seen)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		body, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Info().Str("migration", name).Msg("applied migration")
	}
	return nil
}

func (p *Postgres) SaveOptimization(ctx context.Context, o model.Optimization) (model.Optimization, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	req, err := json.Marshal(o.Request)
	if err != nil {
		return model.Optimization{}, err
	}
	var errKind, errMsg any
	if o.Error != nil {
		errKind, errMsg = o.Error.Kind, o.Error.Message
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO optimizations (id, network, status, request, result, error_kind, error_message, duration_ms, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, result=EXCLUDED.result, error_kind=EXCLUDED.error_kind,
            error_message=EXCLUDED.error_message, duration_ms=EXCLUDED.duration_ms`,
		o.ID, o.Network, o.Status, string(req), nullIfEmpty(o.Result), errKind, errMsg, o.DurationMs, o.CreatedAt)
	if err != nil {
		return model.Optimization{}, err
	}
	return o, nil
}

const selectOptimization = `SELECT id::text, network, status, request, result, error_kind, error_message, duration_ms, created_at FROM optimizations`

func (p *Postgres) GetOptimization(ctx context.Context, id string) (model.Optimization, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Optimization{}, ErrNotFound
	}
	o, err := scanOptimization(p.db.QueryRowContext(ctx, selectOptimization+` WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Optimization{}, ErrNotFound
	}
	return o, err
}

func (p *Postgres) ListOptimizations(ctx context.Context, network, cursor string, limit int) ([]model.Optimization, string, error) {
	limit = clampLimit(limit)
	var (
		where []string
		args  []any
	)
	if network != "" {
		args = append(args, network)
		where = append(where, fmt.Sprintf("network=$%d", len(args)))
	}
	if cursor != "" {
		if _, err := uuid.Parse(cursor); err != nil {
			return nil, "", fmt.Errorf("store: bad cursor: %w", err)
		}
		args = append(args, cursor)
		where = append(where, fmt.Sprintf("(created_at, id) < (SELECT created_at, id FROM optimizations WHERE id=$%d)", len(args)))
	}
	q := selectOptimization
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit+1)
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Optimization{}
	for rows.Next() {
		o, err := scanOptimization(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOptimization(s scanner) (model.Optimization, error) {
	var (
		o               model.Optimization
		req, res        []byte
		errKind, errMsg sql.NullString
	)
	if err := s.Scan(&o.ID, &o.Network, &o.Status, &req, &res, &errKind, &errMsg, &o.DurationMs, &o.CreatedAt); err != nil {
		return model.Optimization{}, err
	}
	if err := json.Unmarshal(req, &o.Request); err != nil {
		return model.Optimization{}, fmt.Errorf("store: decode request: %w", err)
	}
	if len(res) > 0 {
		o.Result = json.RawMessage(res)
	}
	if errKind.Valid {
		o.Error = &model.ErrorInfo{Kind: errKind.String, Message: errMsg.String}
	}
	return o, nil
}

func nullIfEmpty(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

var _ Store = (*Postgres)(nil)
