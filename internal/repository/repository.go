// Package repository provides the durable audit store for classified transactions.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SQLStore implements domain.AuditStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

var _ domain.AuditStore = (*SQLStore)(nil)

// New opens the configured database and applies the schema.
func New(ctx context.Context, cfg domain.RepositoryConfig) (*SQLStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(ctx, cfg)
	case "postgres":
		db, err = openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, schema := range AllSchemas(s.driver) {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

func requireAccount(accountID string) error {
	if accountID == "" {
		return fmt.Errorf("audit store: %w", domain.ErrAccountRequired)
	}
	return nil
}

// Append writes one immutable record stamped with the current time.
func (s *SQLStore) Append(ctx context.Context, accountID string, in *domain.TransactionInput, verdict domain.Verdict) (domain.RecordID, error) {
	if err := requireAccount(accountID); err != nil {
		return 0, err
	}
	if in == nil {
		return 0, fmt.Errorf("audit store: nil transaction")
	}
	code, ok := in.Type.Code()
	if !ok {
		return 0, &domain.ValidationError{Rule: domain.RuleUnknownTransactionType, Field: "type", Value: string(in.Type)}
	}

	query := `
		INSERT INTO transaction_records (
			account_id, step, type, type_code, amount,
			oldbalance_org, newbalance_orig, oldbalance_dest, newbalance_dest,
			result, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(query),
		accountID, in.Step, string(in.Type), code, in.Amount,
		in.OldBalanceOrigin, in.NewBalanceOrigin, in.OldBalanceDest, in.NewBalanceDest,
		string(verdict), s.now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append record: %w", err)
	}
	return domain.RecordID(id), nil
}

const recordColumns = `
	id, account_id, step, type, type_code, amount,
	oldbalance_org, newbalance_orig, oldbalance_dest, newbalance_dest,
	result, created_at
`

// ListRecent returns up to limit records, newest first. Insertion order breaks timestamp ties.
func (s *SQLStore) ListRecent(ctx context.Context, accountID string, limit int) ([]*domain.TransactionRecord, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []*domain.TransactionRecord{}, nil
	}

	query := `SELECT ` + recordColumns + `
		FROM transaction_records
		WHERE account_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*domain.TransactionRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRecord retrieves one record with account isolation.
func (s *SQLStore) GetRecord(ctx context.Context, accountID string, id domain.RecordID) (*domain.TransactionRecord, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}

	query := `SELECT ` + recordColumns + `
		FROM transaction_records
		WHERE account_id = ? AND id = ?
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, s.rebind(query), accountID, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rec, err
}

// Count returns the number of records matching filter.
func (s *SQLStore) Count(ctx context.Context, accountID string, filter domain.RecordFilter) (int64, error) {
	if err := requireAccount(accountID); err != nil {
		return 0, err
	}

	query := `SELECT COUNT(*) FROM transaction_records WHERE account_id = ?`
	args := []any{accountID}
	if filter.Verdict != nil {
		query += ` AND result = ?`
		args = append(args, string(*filter.Verdict))
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SumAmount returns the total amount. Missing amounts count as zero.
func (s *SQLStore) SumAmount(ctx context.Context, accountID string) (float64, error) {
	if err := requireAccount(accountID); err != nil {
		return 0, err
	}

	query := `SELECT COALESCE(SUM(amount), 0) FROM transaction_records WHERE account_id = ?`

	var total float64
	if err := s.db.QueryRowContext(ctx, s.rebind(query), accountID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.TransactionRecord, error) {
	var (
		rec       domain.TransactionRecord
		id        int64
		typ       string
		result    string
		amount    sql.NullFloat64
		createdAt sql.NullString
	)

	err := row.Scan(
		&id, &rec.AccountID, &rec.Step, &typ, &rec.TypeCode, &amount,
		&rec.OldBalanceOrigin, &rec.NewBalanceOrigin, &rec.OldBalanceDest, &rec.NewBalanceDest,
		&result, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ID = domain.RecordID(id)
	rec.Type = domain.TransactionType(typ)
	rec.Verdict = domain.Verdict(result)
	rec.Amount = amount.Float64
	if createdAt.Valid {
		rec.CreatedAt = parseTimestamp(createdAt.String)
	}
	return &rec, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimestamp returns the zero time for text that matches no known layout.
func parseTimestamp(text string) time.Time {
	text = strings.TrimSpace(text)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
