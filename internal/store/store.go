// Package store is the SQLite cache behind status queries and the web API.
// Like the JSON snapshot it holds derived state only; dropping the database
// file and rebuilding from the logs loses nothing.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/re3-harness/internal/domain"
	"github.com/hochfrequenz/re3-harness/internal/ledger"
)

// Store provides SQLite-backed ledger persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Replace swaps the whole cached view for a freshly rebuilt ledger
func (s *Store) Replace(l *ledger.Ledger) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM slices`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM workers`); err != nil {
		return err
	}

	for _, e := range l.Slices {
		_, err := tx.Exec(`
			INSERT INTO slices (slice_key, status, claimed_by, claimed_at, target, recorded, last_updated, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.SliceKey,
			string(e.Status),
			nullString(e.Claimant),
			nullTime(e.ClaimedAt),
			e.Target,
			e.Recorded,
			nullTime(e.LastUpdated),
			nullString(e.Error),
		)
		if err != nil {
			return fmt.Errorf("insert slice %s: %w", e.SliceKey, err)
		}
	}

	for id, w := range l.Workers {
		_, err := tx.Exec(`
			INSERT INTO workers (worker_id, last_seen, active_slices, records)
			VALUES (?, ?, ?, ?)
		`, id, nullTime(w.LastSeen), w.Active, w.Records)
		if err != nil {
			return fmt.Errorf("insert worker %s: %w", id, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO meta (key, value) VALUES ('rebuilt_at', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, l.LastUpdated.UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	return tx.Commit()
}

// UpsertSlice writes one ledger entry
func (s *Store) UpsertSlice(e domain.LedgerEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO slices (slice_key, status, claimed_by, claimed_at, target, recorded, last_updated, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slice_key) DO UPDATE SET
			status = excluded.status,
			claimed_by = excluded.claimed_by,
			claimed_at = excluded.claimed_at,
			target = excluded.target,
			recorded = excluded.recorded,
			last_updated = excluded.last_updated,
			error = excluded.error
	`,
		e.SliceKey,
		string(e.Status),
		nullString(e.Claimant),
		nullTime(e.ClaimedAt),
		e.Target,
		e.Recorded,
		nullTime(e.LastUpdated),
		nullString(e.Error),
	)
	return err
}

// GetSlice retrieves one entry by key
func (s *Store) GetSlice(key string) (domain.LedgerEntry, error) {
	row := s.db.QueryRow(`
		SELECT slice_key, status, claimed_by, claimed_at, target, recorded, last_updated, error
		FROM slices WHERE slice_key = ?
	`, key)
	return scanSlice(row.Scan)
}

// ListOptions specifies filters for listing slices
type ListOptions struct {
	Status   domain.SliceStatus
	Claimant string
}

// ListSlices returns entries matching the given options, ordered by key
func (s *Store) ListSlices(opts ListOptions) ([]domain.LedgerEntry, error) {
	query := `SELECT slice_key, status, claimed_by, claimed_at, target, recorded, last_updated, error FROM slices WHERE 1=1`
	var args []interface{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.Claimant != "" {
		query += " AND claimed_by = ?"
		args = append(args, opts.Claimant)
	}
	query += " ORDER BY slice_key"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanSlice(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByStatus tallies cached slices per status
func (s *Store) CountByStatus() (map[domain.SliceStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM slices GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.SliceStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[domain.SliceStatus(status)] = n
	}
	return out, rows.Err()
}

// WorkerRow is one cached worker summary
type WorkerRow struct {
	WorkerID string
	LastSeen time.Time
	Active   int
	Records  int
}

// ListWorkers returns cached worker summaries ordered by ID
func (s *Store) ListWorkers() ([]WorkerRow, error) {
	rows, err := s.db.Query(`SELECT worker_id, last_seen, active_slices, records FROM workers ORDER BY worker_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkerRow
	for rows.Next() {
		var w WorkerRow
		var lastSeen sql.NullTime
		if err := rows.Scan(&w.WorkerID, &lastSeen, &w.Active, &w.Records); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			w.LastSeen = lastSeen.Time
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// RebuiltAt reports when the cache was last replaced
func (s *Store) RebuiltAt() (time.Time, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'rebuilt_at'`).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, value)
}

func scanSlice(scan func(dest ...any) error) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var status string
	var claimant, errMsg sql.NullString
	var claimedAt, lastUpdated sql.NullTime

	if err := scan(&e.SliceKey, &status, &claimant, &claimedAt, &e.Target, &e.Recorded, &lastUpdated, &errMsg); err != nil {
		return domain.LedgerEntry{}, err
	}
	e.Status = domain.SliceStatus(status)
	if claimant.Valid {
		e.Claimant = claimant.String
	}
	if claimedAt.Valid {
		e.ClaimedAt = claimedAt.Time
	}
	if lastUpdated.Valid {
		e.LastUpdated = lastUpdated.Time
	}
	if errMsg.Valid {
		e.Error = errMsg.String
	}
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
