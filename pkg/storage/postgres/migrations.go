package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/grc-api/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// RoleNameConstraint is the unique constraint backing custom role names.
const RoleNameConstraint = "organization_roles_org_name_key"

// GetMigrations returns the schema owned by the authorization core, in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create api_keys table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_keys (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL,
					name VARCHAR(255) NOT NULL,
					key_prefix VARCHAR(16) NOT NULL,
					key_hash CHAR(64) NOT NULL UNIQUE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					expires_at TIMESTAMPTZ,
					last_used_at TIMESTAMPTZ,
					revoked_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_api_keys_organization_id ON api_keys(organization_id);
			`,
		},
		{
			Version:     2,
			Description: "Create members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS members (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					roles TEXT[] NOT NULL DEFAULT '{}',
					deactivated BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_members_user_id ON members(user_id);
				CREATE INDEX IF NOT EXISTS idx_members_roles ON members USING GIN (roles);
			`,
		},
		{
			Version:     3,
			Description: "Create organization_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organization_roles (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL,
					name VARCHAR(50) NOT NULL,
					permissions JSONB NOT NULL DEFAULT '{}'::jsonb,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT ` + RoleNameConstraint + ` UNIQUE (organization_id, name),
					CONSTRAINT organization_roles_permissions_object CHECK (jsonb_typeof(permissions) = 'object')
				);
			`,
		},
		{
			Version:     4,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMPTZ NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					organization_id TEXT,
					actor_user_id TEXT,
					actor_email TEXT,
					api_key_id TEXT,
					resource_type VARCHAR(50),
					resource_id TEXT,
					resource_name TEXT,
					request_id VARCHAR(100),
					method VARCHAR(10),
					path TEXT,
					message TEXT,
					error_message TEXT,
					metadata JSONB,
					changes JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_org_time ON audit_logs(organization_id, timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
			`,
		},
	}
}

// RunMigrations executes all pending migrations, each in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)

		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
