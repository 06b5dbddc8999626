package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/blazeload/blaze/internal/engine/types"
	"github.com/blazeload/blaze/internal/utils"
)

const jobColumns = `id, external_id, url, target_dir, filename, connections, total_bytes, done_bytes, speed,
	state, paused_due_to_disconnect, added_at, started_at, finished_at, error_message, local_path`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (types.Job, error) {
	var j types.Job
	var state string
	var paused int64
	var addedAt int64
	var startedAt, finishedAt sql.NullInt64 // handle nulls

	if err := row.Scan(
		&j.ID, &j.ExternalID, &j.URL, &j.TargetDir, &j.Filename, &j.Connections,
		&j.TotalBytes, &j.DoneBytes, &j.Speed,
		&state, &paused, &addedAt, &startedAt, &finishedAt, &j.ErrorMessage, &j.LocalPath,
	); err != nil {
		return types.Job{}, err
	}

	s, err := types.ParseJobState(state)
	if err != nil {
		return types.Job{}, fmt.Errorf("job %s: %w", j.ID, err)
	}
	j.State = s
	j.PausedDueToDisconnect = paused != 0
	j.AddedAt = fromUnixNano(sql.NullInt64{Int64: addedAt, Valid: true})
	j.StartedAt = fromUnixNano(startedAt)
	j.FinishedAt = fromUnixNano(finishedAt)

	return j, nil
}

func toUnixNano(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromUnixNano(v sql.NullInt64) time.Time {
	if !v.Valid || v.Int64 == 0 {
		return time.Time{}
	}
	return time.Unix(0, v.Int64)
}

// LoadAllJobs returns every stored job in insertion order.
func LoadAllJobs() ([]types.Job, error) {
	db := getDBHelper()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY added_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			utils.Debug("Error closing rows: %v", err)
		}
	}()

	var jobs []types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetJob returns a single job by ID, or nil if it does not exist.
func GetJob(id string) (*types.Job, error) {
	db := getDBHelper()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	row := db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return &j, nil
}

// UpsertJobs writes all given jobs in a single transaction.
func UpsertJobs(jobs ...types.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	return withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO jobs (` + jobColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				external_id=excluded.external_id,
				url=excluded.url,
				target_dir=excluded.target_dir,
				filename=excluded.filename,
				connections=excluded.connections,
				total_bytes=excluded.total_bytes,
				done_bytes=excluded.done_bytes,
				speed=excluded.speed,
				state=excluded.state,
				paused_due_to_disconnect=excluded.paused_due_to_disconnect,
				added_at=excluded.added_at,
				started_at=excluded.started_at,
				finished_at=excluded.finished_at,
				error_message=excluded.error_message,
				local_path=excluded.local_path
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, j := range jobs {
			paused := 0
			if j.PausedDueToDisconnect {
				paused = 1
			}
			if _, err := stmt.Exec(
				j.ID, j.ExternalID, j.URL, j.TargetDir, j.Filename, j.Connections,
				j.TotalBytes, j.DoneBytes, j.Speed,
				j.State.String(), paused, j.AddedAt.UnixNano(), toUnixNano(j.StartedAt), toUnixNano(j.FinishedAt),
				j.ErrorMessage, j.LocalPath,
			); err != nil {
				return fmt.Errorf("failed to upsert job %s: %w", j.ID, err)
			}
		}
		return nil
	})
}

// DeleteJobs removes every stored job matching pred and returns how many were removed.
func DeleteJobs(pred func(types.Job) bool) (int, error) {
	jobs, err := LoadAllJobs()
	if err != nil {
		return 0, err
	}

	var ids []any
	for _, j := range jobs {
		if pred(j) {
			ids = append(ids, j.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err = withTx(func(tx *sql.Tx) error {
		// Batch to stay well below SQLite's parameter limit.
		const batchSize = 200
		for i := 0; i < len(ids); i += batchSize {
			end := min(i+batchSize, len(ids))
			batch := ids[i:end]
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
			if _, err := tx.Exec("DELETE FROM jobs WHERE id IN ("+placeholders+")", batch...); err != nil {
				return fmt.Errorf("failed to delete jobs: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Store exposes the package-level database as a job store.
type Store struct{}

// NewStore returns a Store backed by the configured database.
func NewStore() *Store {
	return &Store{}
}

func (*Store) LoadAll() ([]types.Job, error) {
	return LoadAllJobs()
}

func (*Store) Upsert(jobs ...types.Job) error {
	return UpsertJobs(jobs...)
}

func (*Store) DeleteWhere(pred func(types.Job) bool) (int, error) {
	return DeleteJobs(pred)
}
