// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// CaseStore persists processed cases together with their audit trail.
type CaseStore interface {
	// PersistCase writes the case and all of its audit events in a single
	// transaction. Either everything is stored or nothing is.
	PersistCase(ctx context.Context, c *Case, events []AuditEvent) error

	// GetCase returns ErrNotFound when the case does not exist.
	GetCase(ctx context.Context, caseID string) (*Case, error)

	// ListAuditEvents returns events in execution order. Unknown cases
	// yield an empty slice.
	ListAuditEvents(ctx context.Context, caseID string) ([]AuditEvent, error)
}

// Ledger answers the account context questions asked during enrichment.
type Ledger interface {
	SaveTransaction(ctx context.Context, tx *LedgerTransaction) error
	CountTransactions(ctx context.Context, customerID string, since time.Time) (int, error)
	CountPriorDisputes(ctx context.Context, customerID string, excludeCaseID string) (int, error)
}

// Repository defines the interface for data persistence.
type Repository interface {
	CaseStore
	Ledger

	// ListCases returns the most recent cases, newest first.
	ListCases(ctx context.Context, limit int) ([]*Case, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlitepath"`

	// PostgreSQL specific. PostgresURL, when set, wins over the discrete fields.
	PostgresURL      string `json:"-" mapstructure:"postgresurl"`
	PostgresHost     string `json:"postgresHost" mapstructure:"postgreshost"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgresport"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgresuser"`
	PostgresPassword string `json:"-" mapstructure:"postgrespassword"`
	PostgresDB       string `json:"postgresDb" mapstructure:"postgresdb"`
	PostgresSSLMode  string `json:"postgresSslMode" mapstructure:"postgressslmode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"maxopenconns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"maxidleconns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"connmaxlifetime"`
}
