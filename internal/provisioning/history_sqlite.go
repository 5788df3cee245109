package provisioning

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	historyTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// HistoryStore keeps one row per finished run in the provisioning_runs table.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore wraps an open, migrated database.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Record stores rep. Recording the same run twice keeps the first row.
func (h *HistoryStore) Record(ctx context.Context, rep Report) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO provisioning_runs
			(id, started_at, finished_at, serial_port, fqbn, staged, build_ok, upload_ok, identity, success, failure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rep.RunID,
		rep.StartedAt.UTC().Format(historyTimeLayout),
		rep.FinishedAt.UTC().Format(historyTimeLayout),
		rep.SerialPort,
		rep.FQBN,
		boolInt(rep.Staged),
		boolInt(rep.BuildOK),
		boolInt(rep.UploadOK),
		rep.Identity,
		boolInt(rep.Success),
		rep.Failure,
	)
	if err != nil {
		return fmt.Errorf("recording provisioning run %s: %w", rep.RunID, err)
	}
	return nil
}

// List returns the most recent runs first. limit defaults to 50 and is
// capped at 500.
func (h *HistoryStore) List(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, serial_port, fqbn, staged, build_ok, upload_ok, identity, success, failure
		FROM provisioning_runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying provisioning runs: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var (
			r                           Report
			started, finished           string
			staged, build, upload, succ int
		)
		if err := rows.Scan(&r.RunID, &started, &finished, &r.SerialPort, &r.FQBN,
			&staged, &build, &upload, &r.Identity, &succ, &r.Failure); err != nil {
			return nil, fmt.Errorf("scanning provisioning run: %w", err)
		}
		r.StartedAt, _ = time.Parse(historyTimeLayout, started)    //nolint:errcheck // format is ours
		r.FinishedAt, _ = time.Parse(historyTimeLayout, finished) //nolint:errcheck // format is ours
		r.Staged = staged != 0
		r.BuildOK = build != 0
		r.UploadOK = upload != 0
		r.Success = succ != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating provisioning runs: %w", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
