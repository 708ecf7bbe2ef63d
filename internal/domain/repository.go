// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// RecordFilter narrows Count. A nil Verdict counts every record.
type RecordFilter struct {
	Verdict *Verdict
}

// FraudulentOnly is the filter used for fraud counts.
func FraudulentOnly() RecordFilter {
	v := VerdictFraudulent
	return RecordFilter{Verdict: &v}
}

// AuditStore persists classified transactions.
// Every method requires an accountID; records of different accounts are never mixed.
type AuditStore interface {
	// Append writes one immutable record and returns its identifier.
	Append(ctx context.Context, accountID string, input *TransactionInput, verdict Verdict) (RecordID, error)

	// ListRecent returns up to limit records, most recent first.
	ListRecent(ctx context.Context, accountID string, limit int) ([]*TransactionRecord, error)

	// GetRecord returns a single record owned by accountID.
	GetRecord(ctx context.Context, accountID string, id RecordID) (*TransactionRecord, error)

	Count(ctx context.Context, accountID string, filter RecordFilter) (int64, error)
	SumAmount(ctx context.Context, accountID string) (float64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for store initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgresHost"`
	PostgresPort     int    `mapstructure:"postgresPort"`
	PostgresUser     string `mapstructure:"postgresUser"`
	PostgresPassword string `mapstructure:"postgresPassword"`
	PostgresDB       string `mapstructure:"postgresDb"`
	PostgresSSLMode  string `mapstructure:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}
