package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// terminalStatusList is the SQL fragment matching terminal statuses.
const terminalStatusList = `('completed', 'failed', 'timeout', 'cancelled')`

// Insert persists a new task record.
func (db *DB) Insert(rec *models.TaskRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	waitFor, err := encodeStrings(rec.WaitFor)
	if err != nil {
		return fmt.Errorf("encode wait_for: %w", err)
	}
	config, err := encodeConfig(rec.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO tasks (id, requester_key, parent_id, title, status, spawn_depth,
			wait_for, config, created_at, started_at, completed_at, result, error, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.RequesterKey, nullString(rec.ParentID), rec.Title, string(rec.Status),
		rec.SpawnDepth, waitFor, config, formatTime(rec.CreatedAt),
		nullTime(rec.StartedAt), nullTime(rec.CompletedAt),
		rec.Result, rec.Error, string(rec.ErrorKind),
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record with the given ID.
func (db *DB) Get(id string) (*models.TaskRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(taskSelect+` WHERE id = ?`, id)
	rec, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return rec, nil
}

// UpdateStatus transitions a record's status and applies the patch.
// Terminal records are immutable; transitions must move forward.
func (db *DB) UpdateStatus(id string, status models.TaskStatus, patch StatusPatch) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.conn.QueryRow(`SELECT status FROM tasks WHERE id = ?`, id)
	var current string
	if err := row.Scan(&current); err == sql.ErrNoRows {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("get task %s: %w", id, err)
	}

	cur := models.TaskStatus(current)
	if cur.Terminal() {
		return fmt.Errorf("update task %s: %w", id, ErrTerminal)
	}
	if !cur.CanTransition(status) {
		return fmt.Errorf("update task %s: invalid transition %s -> %s", id, cur, status)
	}

	_, err := db.conn.Exec(`
		UPDATE tasks
		SET status = ?,
			started_at = COALESCE(?, started_at),
			completed_at = COALESCE(?, completed_at),
			result = CASE WHEN ? != '' THEN ? ELSE result END,
			error = CASE WHEN ? != '' THEN ? ELSE error END,
			error_kind = CASE WHEN ? != '' THEN ? ELSE error_kind END
		WHERE id = ?
	`,
		string(status),
		nullTime(patch.StartedAt), nullTime(patch.CompletedAt),
		patch.Result, patch.Result,
		patch.Error, patch.Error,
		string(patch.ErrorKind), string(patch.ErrorKind),
		id,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	return nil
}

// GetActiveByRequester returns all non-terminal records for a requester key.
func (db *DB) GetActiveByRequester(key string) ([]*models.TaskRecord, error) {
	return db.queryTasks(taskSelect+` WHERE requester_key = ? AND status NOT IN `+terminalStatusList+` ORDER BY created_at`, key)
}

// GetChildren returns all records whose parent is the given task.
func (db *DB) GetChildren(parentID string) ([]*models.TaskRecord, error) {
	return db.queryTasks(taskSelect+` WHERE parent_id = ? ORDER BY created_at`, parentID)
}

// GetSubtree returns the record with the given ID and all its descendants,
// parents before children.
func (db *DB) GetSubtree(rootID string) ([]*models.TaskRecord, error) {
	return db.queryTasks(`
		WITH RECURSIVE subtree(id, depth) AS (
			SELECT id, 0 FROM tasks WHERE id = ?
			UNION ALL
			SELECT t.id, s.depth + 1 FROM tasks t
			JOIN subtree s ON t.parent_id = s.id
		)
		`+taskSelect+`
		JOIN subtree s ON tasks.id = s.id
		ORDER BY s.depth, tasks.created_at
	`, rootID)
}

// ListActive returns all non-terminal records.
func (db *DB) ListActive() ([]*models.TaskRecord, error) {
	return db.queryTasks(taskSelect + ` WHERE status NOT IN ` + terminalStatusList + ` ORDER BY created_at`)
}

// PurgeTerminal deletes terminal records older than the given age.
func (db *DB) PurgeTerminal(olderThan time.Duration) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := db.conn.Exec(`
		DELETE FROM tasks
		WHERE status IN `+terminalStatusList+` AND completed_at IS NOT NULL AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge terminal tasks: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

const taskSelect = `
	SELECT tasks.id, tasks.requester_key, tasks.parent_id, tasks.title, tasks.status,
		tasks.spawn_depth, tasks.wait_for, tasks.config, tasks.created_at,
		tasks.started_at, tasks.completed_at, tasks.result, tasks.error, tasks.error_kind
	FROM tasks`

// scanner abstracts *sql.Row and *sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

// scanTask scans one task row.
func scanTask(row scanner) (*models.TaskRecord, error) {
	var rec models.TaskRecord
	var parentID, waitFor, config, startedAt, completedAt, result, errMsg, errKind sql.NullString
	var status, createdAt string

	err := row.Scan(
		&rec.ID, &rec.RequesterKey, &parentID, &rec.Title, &status,
		&rec.SpawnDepth, &waitFor, &config, &createdAt,
		&startedAt, &completedAt, &result, &errMsg, &errKind,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = models.TaskStatus(status)
	rec.ParentID = parentID.String
	rec.Result = result.String
	rec.Error = errMsg.String
	rec.ErrorKind = models.ErrorKind(errKind.String)

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = created
	rec.StartedAt = parseNullableTime(startedAt)
	rec.CompletedAt = parseNullableTime(completedAt)

	if waitFor.Valid && waitFor.String != "" {
		if err := json.Unmarshal([]byte(waitFor.String), &rec.WaitFor); err != nil {
			return nil, fmt.Errorf("decode wait_for: %w", err)
		}
	}
	if config.Valid && config.String != "" {
		if err := json.Unmarshal([]byte(config.String), &rec.Config); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	return &rec, nil
}

// queryTasks runs a query returning task rows.
func (db *DB) queryTasks(query string, args ...any) ([]*models.TaskRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var records []*models.TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// encodeStrings JSON-encodes a string slice, empty slices as NULL.
func encodeStrings(ss []string) (any, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// encodeConfig JSON-encodes a config map, empty maps as NULL.
func encodeConfig(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// nullString converts an empty string to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime converts a nil time pointer to NULL.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
