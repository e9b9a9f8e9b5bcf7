package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaDisputeCases = `
CREATE TABLE IF NOT EXISTS dispute_cases (
    id TEXT PRIMARY KEY,
    external_ref TEXT,
    customer_id TEXT,
    merchant_id TEXT,
    amount_minor BIGINT NOT NULL,
    currency TEXT NOT NULL,
    narrative TEXT NOT NULL,
    truncated BOOLEAN NOT NULL DEFAULT FALSE,
    status TEXT NOT NULL,
    classification_label TEXT NOT NULL,
    recommendation_action TEXT NOT NULL,
    classification TEXT NOT NULL,
    recommendation TEXT NOT NULL,
    enrichment TEXT NOT NULL,
    total_cost_usd REAL NOT NULL DEFAULT 0,
    token_usage INTEGER NOT NULL DEFAULT 0,
    latency_ms BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dispute_cases_customer ON dispute_cases(customer_id);
CREATE INDEX IF NOT EXISTS idx_dispute_cases_external_ref ON dispute_cases(external_ref);
CREATE INDEX IF NOT EXISTS idx_dispute_cases_created ON dispute_cases(created_at);
`

const schemaAuditEvents = `
CREATE TABLE IF NOT EXISTS audit_events (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL REFERENCES dispute_cases(id),
    seq INTEGER NOT NULL,
    step TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    latency_ms BIGINT NOT NULL,
    success BOOLEAN NOT NULL,
    detail TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_events_case ON audit_events(case_id, seq);
`

const schemaTransactionLedger = `
CREATE TABLE IF NOT EXISTS transaction_ledger (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    merchant_id TEXT,
    amount_minor BIGINT NOT NULL,
    currency TEXT NOT NULL,
    status TEXT NOT NULL,
    transaction_type TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transaction_ledger_customer ON transaction_ledger(customer_id, occurred_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaDisputeCases,
		schemaAuditEvents,
		schemaTransactionLedger,
	}
}
