package sampler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS incidents (
	id          TEXT PRIMARY KEY,
	request_id  TEXT NOT NULL,
	method      TEXT NOT NULL,
	path        TEXT NOT NULL,
	raw_query   TEXT NOT NULL DEFAULT '',
	client_ip   TEXT NOT NULL DEFAULT '',
	rule_id     TEXT NOT NULL DEFAULT '',
	label       TEXT NOT NULL,
	body_prefix BLOB,
	vector      TEXT,
	repeats     INTEGER NOT NULL DEFAULT 0,
	observed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_observed_at ON incidents(observed_at);
CREATE INDEX IF NOT EXISTS idx_incidents_label ON incidents(label);
`

// Archive is the durable incident store backing the verifier's labeled
// corpus and post-hoc analysis.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (and migrates) the incident archive at path. Use
// ":memory:" for tests.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sampler: open archive: %w", err)
	}
	// The driver is not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sampler: migrate archive: %w", err)
	}
	return &Archive{db: db}, nil
}

// SaveIncident inserts a freshly admitted incident.
func (a *Archive) SaveIncident(ctx context.Context, inc *Incident) error {
	var vector []byte
	if len(inc.Vector) > 0 {
		var err error
		vector, err = json.Marshal(inc.Vector)
		if err != nil {
			return fmt.Errorf("sampler: encode vector: %w", err)
		}
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO incidents
			(id, request_id, method, path, raw_query, client_ip, rule_id, label, body_prefix, vector, repeats, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.RequestID, inc.Method, inc.Path, inc.RawQuery,
		inc.ClientIP, inc.RuleID, string(inc.Label), inc.BodyPrefix,
		vector, inc.Repeats, inc.ObservedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sampler: save incident: %w", err)
	}
	return nil
}

// IncrementRepeats bumps the repeat counter of an archived incident.
func (a *Archive) IncrementRepeats(ctx context.Context, id string) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE incidents SET repeats = repeats + 1, observed_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sampler: increment repeats: %w", err)
	}
	return nil
}

// UpdateLabel rewrites an archived incident's label. Returns false when
// no such incident exists.
func (a *Archive) UpdateLabel(ctx context.Context, id string, label Label) (bool, error) {
	res, err := a.db.ExecContext(ctx,
		`UPDATE incidents SET label = ? WHERE id = ?`,
		string(label), id,
	)
	if err != nil {
		return false, fmt.Errorf("sampler: update label: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sampler: update label: %w", err)
	}
	return n > 0, nil
}

// LoadRecent returns archived incidents observed since the cutoff,
// oldest first, optionally filtered by label.
func (a *Archive) LoadRecent(ctx context.Context, since time.Time, label Label) ([]Incident, error) {
	query := `
		SELECT id, request_id, method, path, raw_query, client_ip, rule_id, label, body_prefix, vector, repeats, observed_at
		FROM incidents WHERE observed_at >= ?`
	args := []any{since.UTC()}
	if label != "" {
		query += ` AND label = ?`
		args = append(args, string(label))
	}
	query += ` ORDER BY observed_at ASC`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sampler: load incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var inc Incident
		var label string
		var vector []byte
		if err := rows.Scan(
			&inc.ID, &inc.RequestID, &inc.Method, &inc.Path, &inc.RawQuery,
			&inc.ClientIP, &inc.RuleID, &label, &inc.BodyPrefix,
			&vector, &inc.Repeats, &inc.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("sampler: scan incident: %w", err)
		}
		inc.Label = Label(label)
		if len(vector) > 0 {
			if err := json.Unmarshal(vector, &inc.Vector); err != nil {
				return nil, fmt.Errorf("sampler: decode vector: %w", err)
			}
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// Close shuts the archive down.
func (a *Archive) Close() error { return a.db.Close() }
