// Package sqlite is a pure-Go (modernc.org/sqlite, no cgo) source.Store
// implementation, for deployments that want source/rule/backend metadata
// to survive a restart without standing up an external database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tapline/internal/event"
	"tapline/internal/source"
)

const timeFormat = time.RFC3339Nano

// Store is a SQLite-backed source.Store.
type Store struct {
	db *sql.DB
}

var _ source.Store = (*Store)(nil)

// NewStore opens (and migrates) a SQLite database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: foreign_keys: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

type ruleRow struct {
	Kind  source.RuleKind
	Query string
	Regex string
	Sink  string
}

func (s *Store) LoadAllSources(ctx context.Context) ([]*source.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token, owner_id, name, notify_cadence_ms, drop_expr, rules_json,
		       created_at, log_events_updated_at
		FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load sources: %w", err)
	}
	defer rows.Close()

	var out []*source.Source
	for rows.Next() {
		var (
			id, tokStr, owner, name, drop, rulesJSON string
			cadence                                  int64
			createdAt                                string
			updatedAt                                sql.NullString
		)
		if err := rows.Scan(&id, &tokStr, &owner, &name, &cadence, &drop, &rulesJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan source: %w", err)
		}

		tok, err := event.ParseSourceToken(tokStr)
		if err != nil {
			return nil, fmt.Errorf("sqlite: source %s: %w", id, err)
		}
		created, err := time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: source %s: parse created_at: %w", id, err)
		}

		var rows []ruleRow
		if err := json.Unmarshal([]byte(rulesJSON), &rows); err != nil {
			return nil, fmt.Errorf("sqlite: source %s: parse rules: %w", id, err)
		}
		rules := make([]source.Rule, len(rows))
		for i, r := range rows {
			sink, err := event.ParseSourceToken(r.Sink)
			if err != nil {
				return nil, fmt.Errorf("sqlite: source %s: rule sink: %w", id, err)
			}
			rules[i] = source.Rule{Kind: r.Kind, Query: r.Query, Regex: r.Regex, SinkToken: sink}
		}

		src := &source.Source{
			ID:            id,
			Token:         tok,
			OwnerID:       owner,
			Name:          name,
			NotifyCadence: cadence,
			Drop:          drop,
			Rules:         rules,
			CreatedAt:     created,
		}
		if updatedAt.Valid && updatedAt.String != "" {
			t, err := time.Parse(timeFormat, updatedAt.String)
			if err == nil {
				src.LogEventsUpdatedAt = t
			}
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) SaveSource(ctx context.Context, src *source.Source) error {
	rows := make([]ruleRow, len(src.Rules))
	for i, r := range src.Rules {
		rows[i] = ruleRow{Kind: r.Kind, Query: r.Query, Regex: r.Regex, Sink: r.SinkToken.String()}
	}
	rulesJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("sqlite: marshal rules: %w", err)
	}

	var updatedAt any
	if !src.LogEventsUpdatedAt.IsZero() {
		updatedAt = src.LogEventsUpdatedAt.Format(timeFormat)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sources (id, token, owner_id, name, notify_cadence_ms, drop_expr, rules_json, created_at, log_events_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token=excluded.token, owner_id=excluded.owner_id, name=excluded.name,
			notify_cadence_ms=excluded.notify_cadence_ms, drop_expr=excluded.drop_expr,
			rules_json=excluded.rules_json, log_events_updated_at=excluded.log_events_updated_at`,
		src.ID, src.Token.String(), src.OwnerID, src.Name, src.NotifyCadence, src.Drop, string(rulesJSON),
		src.CreatedAt.Format(timeFormat), updatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: save source %s: %w", src.ID, err)
	}
	return nil
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete source %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListBackends(ctx context.Context, sourceID string) ([]*source.SourceBackend, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source_id, type, config_json FROM source_backends WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list backends: %w", err)
	}
	defer rows.Close()

	var out []*source.SourceBackend
	for rows.Next() {
		var id, srcID, typ, cfgJSON string
		if err := rows.Scan(&id, &srcID, &typ, &cfgJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan backend: %w", err)
		}
		cfg := map[string]string{}
		if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
			return nil, fmt.Errorf("sqlite: backend %s: parse config: %w", id, err)
		}
		out = append(out, &source.SourceBackend{ID: id, SourceID: srcID, Type: typ, Config: cfg})
	}
	return out, rows.Err()
}

func (s *Store) SaveBackend(ctx context.Context, b *source.SourceBackend) error {
	cfgJSON, err := json.Marshal(b.Config)
	if err != nil {
		return fmt.Errorf("sqlite: marshal backend config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO source_backends (id, source_id, type, config_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET source_id=excluded.source_id, type=excluded.type, config_json=excluded.config_json`,
		b.ID, b.SourceID, b.Type, string(cfgJSON))
	if err != nil {
		return fmt.Errorf("sqlite: save backend %s: %w", b.ID, err)
	}
	return nil
}

func (s *Store) DeleteBackend(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM source_backends WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete backend %s: %w", id, err)
	}
	return nil
}

func (s *Store) TouchLogEventsUpdatedAt(ctx context.Context, sourceID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sources SET log_events_updated_at = ? WHERE id = ?`, at.Format(timeFormat), sourceID)
	if err != nil {
		return fmt.Errorf("sqlite: touch source %s: %w", sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: touch source %s: %w", sourceID, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: source %s not found", sourceID)
	}
	return nil
}
