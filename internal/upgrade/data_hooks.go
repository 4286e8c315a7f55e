package upgrade

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Hook is a Go-side data patch that SQL migrations cannot express, such as
// vocabulary rewrites over stored values. Hooks run after `golaw migrate up`
// and must be idempotent: the completion row is written after the hook
// itself, so a crash in between replays it on the next run.
type Hook struct {
	Version uint // schema version the hook expects to run against
	Name    string
	Run     func(ctx context.Context, db *sql.DB) error
}

var hooks []Hook

// RegisterDataHook adds a hook at init time. Duplicate names panic so a
// copy-pasted registration cannot silently shadow an earlier one.
func RegisterDataHook(version uint, name string, run func(context.Context, *sql.DB) error) {
	for _, h := range hooks {
		if h.Name == name {
			panic("upgrade: duplicate data hook " + name)
		}
	}
	hooks = append(hooks, Hook{Version: version, Name: name, Run: run})
}

// ordered returns the registry sorted by schema version, stable within one
// version so registration order breaks ties.
func ordered() []Hook {
	out := make([]Hook, len(hooks))
	copy(out, hooks)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// PendingHooks names the registered hooks that have no completion row yet.
func PendingHooks(ctx context.Context, db *sql.DB) ([]string, error) {
	done, err := appliedSet(ctx, db)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, h := range ordered() {
		if !done[h.Name] {
			pending = append(pending, h.Name)
		}
	}
	return pending, nil
}

// RunPendingHooks applies every pending hook in version order and reports
// how many ran. The first failure stops the run; already-applied hooks keep
// their completion rows.
func RunPendingHooks(ctx context.Context, db *sql.DB) (int, error) {
	done, err := appliedSet(ctx, db)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, h := range ordered() {
		if done[h.Name] {
			continue
		}
		started := time.Now()
		if err := h.Run(ctx, db); err != nil {
			return applied, fmt.Errorf("data hook %s: %w", h.Name, err)
		}
		if err := markApplied(ctx, db, h); err != nil {
			return applied, err
		}
		slog.Info("data hook applied", "hook", h.Name, "schema_version", h.Version, "took", time.Since(started))
		applied++
	}
	return applied, nil
}

// appliedSet reads the completion table, creating it on first use.
func appliedSet(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS data_hooks (
			name       TEXT PRIMARY KEY,
			version    INTEGER NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("create data_hooks table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT name FROM data_hooks`)
	if err != nil {
		return nil, fmt.Errorf("read data_hooks: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		done[name] = true
	}
	return done, rows.Err()
}

func markApplied(ctx context.Context, db *sql.DB, h Hook) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO data_hooks (name, version) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		h.Name, h.Version)
	if err != nil {
		return fmt.Errorf("record data hook %s: %w", h.Name, err)
	}
	return nil
}
