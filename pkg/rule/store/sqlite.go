package store

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"warden-hq/warden/pkg/rule"
)

// schema holds the generation and verification report tables. Generations
// are append-only; status flips live -> retired on the previous row when a
// successor is published.
const schema = `
CREATE TABLE IF NOT EXISTS generations (
    generation      INTEGER PRIMARY KEY,
    id              TEXT    NOT NULL,
    base_generation INTEGER NOT NULL,
    status          TEXT    NOT NULL,
    fingerprint     TEXT    NOT NULL,
    rule_count      INTEGER NOT NULL,
    rules_yaml      TEXT    NOT NULL,
    created_at      TEXT    NOT NULL,
    promoted_at     TEXT
);

CREATE INDEX IF NOT EXISTS idx_generations_status ON generations(status);

CREATE TABLE IF NOT EXISTS verification_reports (
    id                  TEXT PRIMARY KEY,
    candidate_id        TEXT    NOT NULL,
    base_generation     INTEGER NOT NULL,
    false_positive_rate REAL    NOT NULL,
    false_negative_rate REAL    NOT NULL,
    baseline_fn_rate    REAL    NOT NULL,
    excluded_rule_ids   TEXT    NOT NULL,
    pass                INTEGER NOT NULL,
    reason              TEXT    NOT NULL,
    evaluated_at        TEXT    NOT NULL
);
`

// ReportRecord is the persisted form of a verification report.
type ReportRecord struct {
	ID                string
	CandidateID       string
	BaseGeneration    uint64
	FalsePositiveRate float64
	FalseNegativeRate float64
	BaselineFNRate    float64
	ExcludedRuleIDs   []string
	Pass              bool
	Reason            string
	EvaluatedAt       time.Time
}

// sqliteBackend is the durable backing for published generations.
type sqliteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// openSQLite opens (creating if needed) the rule store database.
func openSQLite(path string, logger *slog.Logger) (*sqliteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Cause: err}
	}

	// Single writer, WAL for concurrent admin reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, &StorageError{Op: "enable_wal", Cause: err}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, &StorageError{Op: "set_busy_timeout", Cause: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "create_schema", Cause: err}
	}

	return &sqliteBackend{db: db, logger: logger}, nil
}

// saveGeneration inserts the promoted generation and retires the previous
// live row in one transaction.
func (b *sqliteBackend) saveGeneration(promoted *rule.RuleSet, previous uint64) error {
	rulesYAML, err := rule.EncodeSpecs(promoted.Specs())
	if err != nil {
		return &StorageError{Op: "encode_rules", Cause: err}
	}

	tx, err := b.db.Begin()
	if err != nil {
		return &StorageError{Op: "begin", Cause: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE generations SET status = ? WHERE generation = ? AND status = ?`,
		string(rule.StatusRetired), previous, string(rule.StatusLive),
	); err != nil {
		return &StorageError{Op: "retire_previous", Cause: err}
	}

	var promotedAt any
	if promoted.PromotedAt != nil {
		promotedAt = promoted.PromotedAt.Format(time.RFC3339Nano)
	}
	if _, err := tx.Exec(
		`INSERT INTO generations
		 (generation, id, base_generation, status, fingerprint, rule_count, rules_yaml, created_at, promoted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		promoted.Generation,
		promoted.ID,
		promoted.BaseGeneration,
		string(promoted.Status),
		promoted.Fingerprint,
		promoted.Len(),
		string(rulesYAML),
		promoted.CreatedAt.Format(time.RFC3339Nano),
		promotedAt,
	); err != nil {
		return &StorageError{Op: "insert_generation", Cause: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit", Cause: err}
	}
	return nil
}

// loadLive recovers the live generation, or nil when none was published.
func (b *sqliteBackend) loadLive() (*rule.RuleSet, error) {
	row := b.db.QueryRow(
		`SELECT generation, id, base_generation, fingerprint, rules_yaml, created_at, promoted_at
		 FROM generations WHERE status = ? ORDER BY generation DESC LIMIT 1`,
		string(rule.StatusLive),
	)
	rs, err := b.scanGeneration(row, rule.StatusLive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rs, err
}

// loadRetired recovers up to limit retired generations, oldest first.
func (b *sqliteBackend) loadRetired(limit int) ([]retired, error) {
	rows, err := b.db.Query(
		`SELECT generation, id, base_generation, fingerprint, rules_yaml, created_at, promoted_at
		 FROM generations WHERE status = ? ORDER BY generation DESC LIMIT ?`,
		string(rule.StatusRetired), limit,
	)
	if err != nil {
		return nil, &StorageError{Op: "load_retired", Cause: err}
	}
	defer rows.Close()

	var out []retired
	for rows.Next() {
		rs, err := b.scanGeneration(rows, rule.StatusRetired)
		if err != nil {
			// A generation that no longer compiles (schema drift) is
			// logged and skipped rather than wedging startup.
			b.logger.Warn("skipping unrecoverable retired generation", "error", err)
			continue
		}
		out = append(out, retired{set: rs, at: rs.CreatedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "load_retired", Cause: err}
	}

	// Reverse into oldest-first order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (b *sqliteBackend) scanGeneration(row rowScanner, status rule.Status) (*rule.RuleSet, error) {
	var (
		generation, baseGeneration uint64
		id, fingerprint, rulesYAML string
		createdAt                  string
		promotedAt                 sql.NullString
	)
	if err := row.Scan(&generation, &id, &baseGeneration, &fingerprint, &rulesYAML, &createdAt, &promotedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, &StorageError{Op: "scan_generation", Cause: err}
	}

	specs, err := rule.DecodeSpecs("store:"+id, []byte(rulesYAML))
	if err != nil {
		return nil, &StorageError{Op: "decode_rules", Cause: err}
	}
	rules, errs := rule.CompileSpecs(specs, rule.ProvenanceManual, "")
	if len(errs) > 0 {
		// Persisted rules compiled once before; failure here means the
		// stored document was corrupted.
		return nil, &StorageError{Op: "compile_rules", Cause: errs[0]}
	}

	rs := rule.NewRuleSet(status, baseGeneration, rules)
	rs.ID = id
	rs.Generation = generation
	rs.Fingerprint = fingerprint
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rs.CreatedAt = t
	}
	if promotedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, promotedAt.String); err == nil {
			rs.PromotedAt = &t
		}
	}
	return rs, nil
}

// saveReport persists a verification report.
func (b *sqliteBackend) saveReport(rec *ReportRecord) error {
	excluded, err := json.Marshal(rec.ExcludedRuleIDs)
	if err != nil {
		return &StorageError{Op: "encode_report", Cause: err}
	}

	pass := 0
	if rec.Pass {
		pass = 1
	}
	if _, err := b.db.Exec(
		`INSERT INTO verification_reports
		 (id, candidate_id, base_generation, false_positive_rate, false_negative_rate,
		  baseline_fn_rate, excluded_rule_ids, pass, reason, evaluated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CandidateID, rec.BaseGeneration,
		rec.FalsePositiveRate, rec.FalseNegativeRate, rec.BaselineFNRate,
		string(excluded), pass, rec.Reason,
		rec.EvaluatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return &StorageError{Op: "insert_report", Cause: err}
	}
	return nil
}

// close releases the database handle.
func (b *sqliteBackend) close() error {
	return b.db.Close()
}
