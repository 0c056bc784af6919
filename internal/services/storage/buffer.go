package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"visionrelay/internal/logger"
	"visionrelay/internal/models"
)

const (
	// DefaultCapacity bounds how many log entries stay in memory.
	DefaultCapacity = 1000
	// FlushInterval defines how often pending entries are handed to sinks.
	FlushInterval = 5 * time.Second
)

// Sink receives log entries after they leave the in-memory buffer's write path.
// The sqlite archive and the NATS publisher implement it.
type Sink interface {
	Name() string
	Write(ctx context.Context, entries []models.LogEntry) error
}

// BufferService keeps the most recent detection log entries in a fixed-size ring
// and periodically forwards new entries to the configured sinks.
type BufferService struct {
	mu      sync.Mutex
	ring    []models.LogEntry
	head    int // index of the oldest entry
	size    int
	pending []models.LogEntry
	sinks   []Sink
	logger  *logger.Logger
}

// NewBufferService creates a buffer holding at most capacity entries.
func NewBufferService(capacity int, logger *logger.Logger, sinks ...Sink) *BufferService {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &BufferService{
		ring:   make([]models.LogEntry, capacity),
		sinks:  sinks,
		logger: logger,
	}
}

// Capacity is the maximum number of retained entries.
func (s *BufferService) Capacity() int {
	return len(s.ring)
}

// Len is the number of retained entries.
func (s *BufferService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Append stores entry, evicting the oldest one when the buffer is full.
func (s *BufferService) Append(entry models.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	capacity := len(s.ring)
	if s.size < capacity {
		s.ring[(s.head+s.size)%capacity] = entry
		s.size++
	} else {
		s.ring[s.head] = entry
		s.head = (s.head + 1) % capacity
	}

	if len(s.sinks) == 0 {
		return
	}
	if len(s.pending) >= capacity {
		s.pending = s.pending[1:]
		s.logger.Warning("Sink backlog full, dropping oldest pending log entry")
	}
	s.pending = append(s.pending, entry)
}

// Snapshot returns a copy of the retained entries, oldest first.
func (s *BufferService) Snapshot() []models.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.LogEntry, s.size)
	capacity := len(s.ring)
	for i := 0; i < s.size; i++ {
		out[i] = s.ring[(s.head+i)%capacity]
	}
	return out
}

// MarshalIndent renders the current snapshot as an indented JSON document.
func (s *BufferService) MarshalIndent() ([]byte, error) {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode detection logs")
	}
	return data, nil
}

// Run flushes pending entries to the sinks every interval until ctx is done,
// then flushes once more.
func (s *BufferService) Run(ctx context.Context, interval time.Duration) {
	if len(s.sinks) == 0 {
		return
	}
	if interval <= 0 {
		interval = FlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush hands every pending entry to each sink. Sink failures are logged; the
// entries are not retried.
func (s *BufferService) Flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, sink := range s.sinks {
		if err := sink.Write(ctx, batch); err != nil {
			s.logger.Error("Failed to flush %d log entries to %s: %v", len(batch), sink.Name(), err)
			continue
		}
	}
	s.logger.Info("Flushed %d log entries to %d sink(s)", len(batch), len(s.sinks))
}
