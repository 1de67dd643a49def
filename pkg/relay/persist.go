package relay

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/automerge/automerge-go"
)

// Persister backs space documents up to a sql database. Documents are stored
// base64 encoded, one row per medium.
type Persister struct {
	database *sql.DB
	logger   *slog.Logger
}

func (p *Persister) init(ctx context.Context) error {
	if _, err := p.database.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS media (
		id text not null primary key,
		content text
		)`,
	); err != nil {
		return fmt.Errorf("failed to create media table: %w", err)
	}
	return nil
}

// Load ensures the table exists and returns every stored document by medium.
func (p *Persister) Load(ctx context.Context) (map[string]*automerge.Doc, error) {
	if err := p.init(ctx); err != nil {
		return nil, err
	}
	rows, err := p.database.QueryContext(ctx, `SELECT id, content FROM media`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			p.logger.Error("failed to close rows", "err", err)
		}
	}(rows)

	out := make(map[string]*automerge.Doc)
	for rows.Next() {
		var id, rawSave string
		if err := rows.Scan(&id, &rawSave); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(rawSave)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", id, err)
		}
		doc, err := automerge.Load(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to load doc %s: %w", id, err)
		}
		out[id] = doc
	}
	return out, rows.Err()
}

func (p *Persister) Save(ctx context.Context, id string, raw []byte) error {
	content := base64.StdEncoding.EncodeToString(raw)
	if _, err := p.database.ExecContext(ctx,
		`INSERT INTO media (id, content) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET content = excluded.content`,
		id, content,
	); err != nil {
		return fmt.Errorf("failed to backup %s: %w", id, err)
	}
	return nil
}
