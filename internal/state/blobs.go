package state

import (
	"database/sql"
	"fmt"
)

// BlobRecord is one persisted session row.
type BlobRecord struct {
	ID           string
	WorkflowName string
	State        string
	UpdatedAt    float64
	Data         []byte
}

// SaveSession inserts or replaces a session blob and applies counter
// deltas in the same transaction.
func (db *DB) SaveSession(rec BlobRecord, counters map[string]int64) error {
	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO session_blobs (id, workflow_name, state, updated_at, data)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				workflow_name = excluded.workflow_name,
				state = excluded.state,
				updated_at = excluded.updated_at,
				data = excluded.data
		`, rec.ID, rec.WorkflowName, rec.State, rec.UpdatedAt, rec.Data)
		if err != nil {
			return fmt.Errorf("save session %s: %w", rec.ID, err)
		}
		return addCounters(tx, counters)
	})
}

// DeleteSessions removes the given session blobs. It returns the number of
// rows deleted.
func (db *DB) DeleteSessions(ids []string) (int64, error) {
	var total int64
	err := db.Transaction(func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.Exec("DELETE FROM session_blobs WHERE id = ?", id)
			if err != nil {
				return fmt.Errorf("delete session %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("get rows affected: %w", err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// LoadSessions returns every stored session blob.
func (db *DB) LoadSessions() ([]BlobRecord, error) {
	rows, err := db.Query("SELECT id, workflow_name, state, updated_at, data FROM session_blobs ORDER BY updated_at")
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	var out []BlobRecord
	for rows.Next() {
		var rec BlobRecord
		if err := rows.Scan(&rec.ID, &rec.WorkflowName, &rec.State, &rec.UpdatedAt, &rec.Data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Counters returns all persisted counters.
func (db *DB) Counters() (map[string]int64, error) {
	rows, err := db.Query("SELECT name, value FROM store_counters")
	if err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var v int64
		if err := rows.Scan(&name, &v); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		out[name] = v
	}
	return out, rows.Err()
}

func addCounters(tx *sql.Tx, counters map[string]int64) error {
	for name, delta := range counters {
		if delta == 0 {
			continue
		}
		_, err := tx.Exec(`
			INSERT INTO store_counters (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = value + excluded.value
		`, name, delta)
		if err != nil {
			return fmt.Errorf("update counter %s: %w", name, err)
		}
	}
	return nil
}
