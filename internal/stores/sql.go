package stores

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"chartermap/internal/geojson"
)

//go:embed schema.sql
var Schema string

// SQL stores the cache in a database/sql table, it works with the sqlite
// and libsql drivers opened by lib/configutil/libsql.
type SQL struct {
	db *sql.DB
}

// NewSQL applies the schema to db and returns a store over it.
func NewSQL(ctx context.Context, db *sql.DB) (SQL, error) {
	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		return SQL{}, fmt.Errorf("apply cache schema: %w", err)
	}
	return SQL{db: db}, nil
}

func (s SQL) Load(ctx context.Context) (map[string]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `select id, icon, name, description, geom, resolved_at from cache_entry`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := map[string]Entry{}
	for rows.Next() {
		var (
			id         string
			entry      Entry
			geom       sql.NullString
			resolvedAt int64
		)
		err := rows.Scan(&id, &entry.Icon, &entry.Name, &entry.Desc, &geom, &resolvedAt)
		if err != nil {
			return nil, err
		}
		if geom.Valid && geom.String != "" {
			var g geojson.Geometry
			err = json.Unmarshal([]byte(geom.String), &g)
			if err != nil {
				return nil, fmt.Errorf("corrupt geometry for %s: %w", id, err)
			}
			entry.Geom = &g
		}
		if resolvedAt > 0 {
			entry.ResolvedAt = time.UnixMilli(resolvedAt).UTC()
		}
		entries[id] = entry
	}
	return entries, rows.Err()
}

const upsertEntry = `insert into cache_entry (id, icon, name, description, geom, resolved_at)
values (?, ?, ?, ?, ?, ?)
on conflict (id) do update set
    icon = excluded.icon,
    name = excluded.name,
    description = excluded.description,
    geom = excluded.geom,
    resolved_at = excluded.resolved_at`

// Save upserts every entry in a single transaction. Rows whose id is not
// in entries are left alone, the cache never forgets an id.
func (s SQL) Save(ctx context.Context, entries map[string]Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertEntry)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, entry := range entries {
		var geom sql.NullString
		if entry.Geom != nil {
			serialized, err := json.Marshal(entry.Geom)
			if err != nil {
				return fmt.Errorf("marshal geometry for %s: %w", id, err)
			}
			geom = sql.NullString{String: string(serialized), Valid: true}
		}
		var resolvedAt int64
		if !entry.ResolvedAt.IsZero() {
			resolvedAt = entry.ResolvedAt.UnixMilli()
		}
		_, err = stmt.ExecContext(ctx, id, entry.Icon, entry.Name, entry.Desc, geom, resolvedAt)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", id, err)
		}
	}
	return tx.Commit()
}
