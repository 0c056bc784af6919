package repository

import (
	"context"
	"time"

	"visionrelay/internal/models"
)

// LogRepository archives detection log entries beyond the in-memory buffer.
type LogRepository interface {
	// Create operations
	InsertBatch(ctx context.Context, entries []models.LogEntry) error

	// Read operations
	Recent(ctx context.Context, limit int) ([]models.LogEntry, error)
	Count(ctx context.Context) (int, error)
	CountByClass(ctx context.Context) (map[string]int, error)

	// Delete operations
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
