package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Migrator applies SQL migrations read from an fs.FS, which is either the
// embedded migrations package or os.DirFS. File names follow the
// golang-migrate layout {version}_{name}.up.sql / .down.sql.
type Migrator struct {
	db  *sql.DB
	src fs.FS
	log zerolog.Logger
}

// MigrationStatus reports one up-migration and whether it is applied.
type MigrationStatus struct {
	Version  string
	Filename string
	Applied  bool
}

func NewMigrator(db *sql.DB, src fs.FS, log zerolog.Logger) *Migrator {
	return &Migrator{db: db, src: src, log: log.With().Str("component", "migrator").Logger()}
}

// Up applies all pending up-migrations in version order, each in its own
// transaction. It returns the number applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}

	for i, f := range pending {
		m.log.Info().Str("file", f).Msg("applying migration")
		content, err := fs.ReadFile(m.src, f)
		if err != nil {
			return i, fmt.Errorf("read migration %s: %w", f, err)
		}
		if err := m.execTx(ctx, string(content),
			`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
			extractVersion(f), f,
		); err != nil {
			return i, fmt.Errorf("migration %s: %w", f, err)
		}
	}
	return len(pending), nil
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return err
	}

	var version, filename string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &filename)
	if errors.Is(err, sql.ErrNoRows) {
		m.log.Info().Msg("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get latest migration: %w", err)
	}

	downFile := strings.Replace(filename, ".up.sql", ".down.sql", 1)
	content, err := fs.ReadFile(m.src, downFile)
	if err != nil {
		return fmt.Errorf("read down migration %s: %w", downFile, err)
	}
	if err := m.execTx(ctx, string(content),
		`DELETE FROM public.schema_migrations WHERE version = $1 AND filename = $2`,
		version, filename,
	); err != nil {
		return fmt.Errorf("down migration %s: %w", downFile, err)
	}

	m.log.Info().Str("file", downFile).Msg("rolled back migration")
	return nil
}

// Pending lists up-migrations not yet recorded in schema_migrations.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range status {
		if !s.Applied {
			out = append(out, s.Filename)
		}
	}
	return out, nil
}

// Status lists every up-migration in version order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := m.getAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}
	files, err := m.listMigrationFiles(".up.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		v := extractVersion(f)
		out = append(out, MigrationStatus{Version: v, Filename: f, Applied: applied[v]})
	}
	return out, nil
}

// execTx runs a migration body and its bookkeeping statement atomically.
func (m *Migrator) execTx(ctx context.Context, body, record string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Migrator) ensureMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) getAppliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) listMigrationFiles(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(m.src, ".")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// extractVersion returns the numeric prefix of a migration file name,
// "000001_pair_log.up.sql" gives "000001".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
