package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"visionrelay/internal/models"
)

// LogRepository implements repository.LogRepository for SQLite. It also acts
// as a sink for the detection log buffer.
type LogRepository struct {
	db *DB
}

// NewLogRepository creates a new SQLite log repository.
func NewLogRepository(db *DB) *LogRepository {
	return &LogRepository{db: db}
}

// Name identifies the repository in buffer flush logs.
func (r *LogRepository) Name() string {
	return "sqlite"
}

// Write archives a flushed batch.
func (r *LogRepository) Write(ctx context.Context, entries []models.LogEntry) error {
	return r.InsertBatch(ctx, entries)
}

// InsertBatch stores entries and their detections in a single transaction.
func (r *LogRepository) InsertBatch(ctx context.Context, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entryStmt, err := tx.PrepareContext(ctx, `INSERT INTO log_entries (timestamp, model) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer entryStmt.Close()

	detStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (entry_id, class, confidence, x1, y1, x2, y2)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer detStmt.Close()

	for _, entry := range entries {
		result, err := entryStmt.ExecContext(ctx, entry.Timestamp, entry.Model)
		if err != nil {
			return fmt.Errorf("failed to insert log entry: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read log entry id: %w", err)
		}
		for _, det := range entry.Detections {
			b := det.Box
			if _, err := detStmt.ExecContext(ctx, id, det.Class, det.Confidence, b[0], b[1], b[2], b[3]); err != nil {
				return fmt.Errorf("failed to insert detection: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Recent returns up to limit of the newest archived entries, oldest first.
func (r *LogRepository) Recent(ctx context.Context, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		return []models.LogEntry{}, nil
	}

	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT e.id, e.timestamp, e.model, d.class, d.confidence, d.x1, d.y1, d.x2, d.y2
		FROM (SELECT id, timestamp, model FROM log_entries ORDER BY id DESC LIMIT ?) e
		LEFT JOIN detections d ON d.entry_id = e.id
		ORDER BY e.id ASC, d.id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	entries := []models.LogEntry{}
	lastID := int64(-1)
	for rows.Next() {
		var (
			id         int64
			timestamp  float64
			model      string
			class      sql.NullString
			confidence sql.NullFloat64
			box        [4]sql.NullInt64
		)
		if err := rows.Scan(&id, &timestamp, &model, &class, &confidence, &box[0], &box[1], &box[2], &box[3]); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if id != lastID {
			entries = append(entries, models.LogEntry{
				Timestamp:  timestamp,
				Model:      model,
				Detections: []models.Detection{},
			})
			lastID = id
		}
		if !class.Valid {
			continue
		}
		current := &entries[len(entries)-1]
		current.Detections = append(current.Detections, models.Detection{
			Class:      class.String,
			Confidence: confidence.Float64,
			Box:        [4]int{int(box[0].Int64), int(box[1].Int64), int(box[2].Int64), int(box[3].Int64)},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate log entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of archived entries.
func (r *LogRepository) Count(ctx context.Context) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM log_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count log entries: %w", err)
	}
	return count, nil
}

// CountByClass returns how often each class was detected across the archive.
func (r *LogRepository) CountByClass(ctx context.Context) (map[string]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `SELECT class, COUNT(*) FROM detections GROUP BY class`)
	if err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, fmt.Errorf("failed to scan detection count: %w", err)
		}
		counts[class] = n
	}
	return counts, rows.Err()
}

// DeleteBefore removes entries logged before the given time.
func (r *LogRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `DELETE FROM log_entries WHERE timestamp < ?`, models.EpochSeconds(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete log entries: %w", err)
	}
	return result.RowsAffected()
}
