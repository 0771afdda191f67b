// Package store persists analysis runs in SQLite. One row in runs carries
// the run metadata plus the per-feature slices as JSON; the flat output
// table lives in run_rows so signal history can be queried across runs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arborstack/arbor-fdr/internal/models"
	"github.com/arborstack/arbor-fdr/internal/utils"
)

// ErrNotFound reports a run id with no stored record.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	created_at   TEXT NOT NULL,
	mode         TEXT NOT NULL,
	method       TEXT NOT NULL,
	alpha        REAL NOT NULL,
	realized_fdr REAL NOT NULL,
	features     INTEGER NOT NULL,
	signals      INTEGER NOT NULL,
	elapsed_ms   INTEGER NOT NULL,
	digest       TEXT NOT NULL DEFAULT '',
	profile      TEXT NOT NULL DEFAULT '',
	feature_json TEXT NOT NULL,
	column_json  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS run_rows (
	run_id     TEXT NOT NULL REFERENCES runs(run_id),
	pos        INTEGER NOT NULL,
	feature    TEXT NOT NULL,
	node       INTEGER NOT NULL,
	pvalue     REAL NOT NULL,
	sign       INTEGER NOT NULL,
	adj_pvalue REAL NOT NULL,
	signal     INTEGER NOT NULL,
	PRIMARY KEY (run_id, pos)
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_run_rows_signal ON run_rows(signal, node);
`

// Store is a SQLite-backed run archive. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates the database file (and its directory) if needed and applies
// the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &utils.AppError{Op: "store.open", Msg: "creating data directory", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &utils.AppError{Op: "store.open", Msg: "opening database", Err: err}
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &utils.AppError{Op: "store.open", Msg: pragma, Err: err}
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &utils.AppError{Op: "store.open", Msg: "applying schema", Err: err}
	}

	logger.Debug("run store ready", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores one run record and its output rows in a single
// transaction.
func (s *Store) SaveRun(ctx context.Context, rec *models.RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return &utils.AppError{Op: "store.save", Msg: "run record missing id"}
	}

	featureJSON, err := json.Marshal(rec.Features)
	if err != nil {
		return &utils.AppError{Op: "store.save", Msg: "encoding feature records", Err: err}
	}
	columnJSON, err := json.Marshal(rec.Columns)
	if err != nil {
		return &utils.AppError{Op: "store.save", Msg: "encoding column info", Err: err}
	}

	signals := 0
	for _, row := range rec.Output {
		if row.Signal {
			signals++
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &utils.AppError{Op: "store.save", Msg: "starting transaction", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, created_at, mode, method, alpha, realized_fdr,
			features, signals, elapsed_ms, digest, profile, feature_json, column_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, storedTime(rec.CreatedAt), rec.Mode, rec.Method, rec.Alpha, rec.RealizedFDR,
		len(rec.Features), signals, rec.ElapsedMS, rec.Digest, rec.Profile,
		string(featureJSON), string(columnJSON))
	if err != nil {
		return &utils.AppError{Op: "store.save", Msg: "inserting run", Err: err}
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO run_rows (run_id, pos, feature, node, pvalue, sign, adj_pvalue, signal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &utils.AppError{Op: "store.save", Msg: "preparing row insert", Err: err}
	}
	defer insert.Close()
	for pos, row := range rec.Output {
		if _, err := insert.ExecContext(ctx, rec.RunID, pos, row.Feature, row.Node,
			row.PValue, row.Sign, row.AdjP, boolToInt(row.Signal)); err != nil {
			return &utils.AppError{Op: "store.save", Msg: fmt.Sprintf("inserting row %d", pos), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &utils.AppError{Op: "store.save", Msg: "committing", Err: err}
	}
	return nil
}

// GetRun loads one run with its full output table. Returns ErrNotFound for
// unknown ids.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	var (
		rec         models.RunRecord
		createdAt   string
		featureJSON string
		columnJSON  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, created_at, mode, method, alpha, realized_fdr,
			elapsed_ms, digest, profile, feature_json, column_json
		FROM runs WHERE run_id = ?`, runID).
		Scan(&rec.RunID, &createdAt, &rec.Mode, &rec.Method, &rec.Alpha, &rec.RealizedFDR,
			&rec.ElapsedMS, &rec.Digest, &rec.Profile, &featureJSON, &columnJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &utils.AppError{Op: "store.get", Msg: "loading run", Err: err}
	}

	if rec.CreatedAt, err = loadTime(createdAt); err != nil {
		return nil, &utils.AppError{Op: "store.get", Msg: "decoding created_at", Err: err}
	}
	if err := json.Unmarshal([]byte(featureJSON), &rec.Features); err != nil {
		return nil, &utils.AppError{Op: "store.get", Msg: "decoding feature records", Err: err}
	}
	if err := json.Unmarshal([]byte(columnJSON), &rec.Columns); err != nil {
		return nil, &utils.AppError{Op: "store.get", Msg: "decoding column info", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT feature, node, pvalue, sign, adj_pvalue, signal
		FROM run_rows WHERE run_id = ? ORDER BY pos`, runID)
	if err != nil {
		return nil, &utils.AppError{Op: "store.get", Msg: "loading output rows", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var (
			row    models.ResultRow
			signal int
		)
		if err := rows.Scan(&row.Feature, &row.Node, &row.PValue, &row.Sign, &row.AdjP, &signal); err != nil {
			return nil, &utils.AppError{Op: "store.get", Msg: "scanning output row", Err: err}
		}
		row.Signal = signal != 0
		rec.Output = append(rec.Output, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &utils.AppError{Op: "store.get", Msg: "iterating output rows", Err: err}
	}
	return &rec, nil
}

// ListRuns returns run summaries, newest first, honoring the since, mode
// and limit filters.
func (s *Store) ListRuns(ctx context.Context, q models.ListRunsRequest) ([]models.RunSummary, error) {
	var (
		where []string
		args  []any
	)
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, storedTime(q.Since))
	}
	if q.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, q.Mode)
	}

	query := `SELECT run_id, created_at, mode, features, signals, realized_fdr, elapsed_ms, profile FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, run_id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	} else if q.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET; -1 means unbounded.
		query += " LIMIT -1"
	}
	if q.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &utils.AppError{Op: "store.list", Msg: "querying runs", Err: err}
	}
	defer rows.Close()

	var out []models.RunSummary
	for rows.Next() {
		var (
			sum       models.RunSummary
			createdAt string
		)
		if err := rows.Scan(&sum.RunID, &createdAt, &sum.Mode, &sum.Features,
			&sum.Signals, &sum.RealizedFDR, &sum.ElapsedMS, &sum.Profile); err != nil {
			return nil, &utils.AppError{Op: "store.list", Msg: "scanning run summary", Err: err}
		}
		if sum.CreatedAt, err = loadTime(createdAt); err != nil {
			return nil, &utils.AppError{Op: "store.list", Msg: "decoding created_at", Err: err}
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, &utils.AppError{Op: "store.list", Msg: "iterating runs", Err: err}
	}
	return out, nil
}

// DeleteRun removes a run and its rows. Returns ErrNotFound for unknown
// ids.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &utils.AppError{Op: "store.delete", Msg: "starting transaction", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_rows WHERE run_id = ?`, runID); err != nil {
		return &utils.AppError{Op: "store.delete", Msg: "deleting run rows", Err: err}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return &utils.AppError{Op: "store.delete", Msg: "deleting run", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &utils.AppError{Op: "store.delete", Msg: "reading delete result", Err: err}
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// SignalHistory returns every flagged row stored since the given time,
// oldest run first, for cross-run aggregation.
func (s *Store) SignalHistory(ctx context.Context, since time.Time) ([]models.SignalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.created_at, w.feature, w.node, w.sign, w.adj_pvalue
		FROM run_rows w JOIN runs r ON r.run_id = w.run_id
		WHERE w.signal = 1 AND r.created_at >= ?
		ORDER BY r.created_at, r.run_id, w.pos`, storedTime(since))
	if err != nil {
		return nil, &utils.AppError{Op: "store.history", Msg: "querying signal history", Err: err}
	}
	defer rows.Close()

	var out []models.SignalEvent
	for rows.Next() {
		var (
			ev        models.SignalEvent
			createdAt string
		)
		if err := rows.Scan(&ev.RunID, &createdAt, &ev.Feature, &ev.Node, &ev.Sign, &ev.AdjP); err != nil {
			return nil, &utils.AppError{Op: "store.history", Msg: "scanning signal event", Err: err}
		}
		if ev.CreatedAt, err = loadTime(createdAt); err != nil {
			return nil, &utils.AppError{Op: "store.history", Msg: "decoding created_at", Err: err}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &utils.AppError{Op: "store.history", Msg: "iterating signal history", Err: err}
	}
	return out, nil
}

// storedTime renders timestamps as UTC RFC3339 with a fixed-width
// fractional second so string comparison orders them chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func storedTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func loadTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
