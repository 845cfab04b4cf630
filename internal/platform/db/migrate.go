package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Step is a single schema migration. Steps are compiled into the binary
// rather than loaded from disk so the server has no runtime file
// dependencies.
type Step struct {
	Version int
	Name    string
	SQL     string
}

// Steps is the account-store schema, in order.
var Steps = []Step{
	{
		Version: 1,
		Name:    "users",
		SQL: `CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	},
	{
		Version: 2,
		Name:    "doctor_profiles",
		SQL: `CREATE TABLE IF NOT EXISTS doctor_profiles (
    id UUID NOT NULL,
    user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    license_number TEXT NOT NULL,
    specialty TEXT NOT NULL DEFAULT '',
    consultory_room TEXT NOT NULL DEFAULT ''
)`,
	},
	{
		Version: 3,
		Name:    "admin_profiles",
		SQL: `CREATE TABLE IF NOT EXISTS admin_profiles (
    id UUID NOT NULL,
    user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    department TEXT NOT NULL DEFAULT ''
)`,
	},
}

// MigrationStatus describes one step's applied state.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies the embedded schema steps to a database.
type Migrator struct {
	pool  *pgxpool.Pool
	steps []Step
}

// NewMigrator creates a migrator over the embedded steps.
func NewMigrator(pool *pgxpool.Pool) *Migrator {
	steps := make([]Step, len(Steps))
	copy(steps, Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return &Migrator{pool: pool, steps: steps}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("create _migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.pool.Query(ctx, `SELECT version, applied_at FROM _migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}
	return applied, nil
}

// Up applies every pending step in version order, each in its own
// transaction. Returns the number of steps applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, step := range pending(m.steps, applied) {
		if err := m.apply(ctx, step); err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", step.Version, step.Name, err)
		}
		count++
	}
	return count, nil
}

func (m *Migrator) apply(ctx context.Context, step Step) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, step.SQL); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO _migrations (version, name) VALUES ($1, $2)",
		step.Version, step.Name,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}

// Status returns every known step with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.steps))
	for _, step := range m.steps {
		st := MigrationStatus{Version: step.Version, Name: step.Name}
		if at, ok := applied[step.Version]; ok {
			st.Applied = true
			appliedAt := at
			st.AppliedAt = &appliedAt
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// pending filters steps down to those not yet applied, preserving order.
func pending(steps []Step, applied map[int]time.Time) []Step {
	var out []Step
	for _, step := range steps {
		if _, ok := applied[step.Version]; !ok {
			out = append(out, step)
		}
	}
	return out
}
