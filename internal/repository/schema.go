package repository

import "strings"

// Schema definitions for the Harrier audit store.
// The only dialect difference is the auto-increment key, substituted per driver.

const schemaTransactionRecords = `
CREATE TABLE IF NOT EXISTS transaction_records (
    id {{pk}},
    account_id TEXT NOT NULL,
    step BIGINT NOT NULL,
    type TEXT NOT NULL,
    type_code INTEGER NOT NULL,
    amount DOUBLE PRECISION,
    oldbalance_org DOUBLE PRECISION NOT NULL,
    newbalance_orig DOUBLE PRECISION NOT NULL,
    oldbalance_dest DOUBLE PRECISION NOT NULL,
    newbalance_dest DOUBLE PRECISION NOT NULL,
    result TEXT NOT NULL,
    created_at {{ts}}
);

CREATE INDEX IF NOT EXISTS idx_transaction_records_account ON transaction_records(account_id, id);
CREATE INDEX IF NOT EXISTS idx_transaction_records_result ON transaction_records(account_id, result);
`

var dialects = map[string]*strings.Replacer{
	"sqlite": strings.NewReplacer(
		"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ts}}", "TIMESTAMP",
	),
	"postgres": strings.NewReplacer(
		"{{pk}}", "BIGSERIAL PRIMARY KEY",
		"{{ts}}", "TIMESTAMPTZ",
	),
}

// AllSchemas returns all schema statements for driver in order.
func AllSchemas(driver string) []string {
	r, ok := dialects[driver]
	if !ok {
		r = dialects["sqlite"]
	}
	return []string{
		r.Replace(schemaTransactionRecords),
	}
}
