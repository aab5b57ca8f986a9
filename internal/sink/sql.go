package sink

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	xerrors "CeleryPulse/internal/errors"
	"CeleryPulse/internal/storage/sqldb"
)

const defaultMaxPending = 50000

type sqlPoint struct {
	measurement string
	task        string
	event       string
	queue       string
	value       float64
	recordedAt  int64
}

// SQLSink buffers points in memory and writes them to metric_points in a
// single transaction per Commit. When the buffer is full the oldest points are
// discarded.
type SQLSink struct {
	db         *sql.DB
	ownsDB     bool
	maxPending int
	logger     *slog.Logger

	mu      sync.Mutex
	pending []sqlPoint
	dropped int
}

// SQLOption configures a SQLSink.
type SQLOption func(*SQLSink)

// WithMaxPending caps the number of buffered points.
func WithMaxPending(n int) SQLOption {
	return func(s *SQLSink) {
		if n > 0 {
			s.maxPending = n
		}
	}
}

// WithSQLLogger sets the logger used for dropped-point warnings.
func WithSQLLogger(logger *slog.Logger) SQLOption {
	return func(s *SQLSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// OpenSQLSink opens the database, applies migrations and returns a sink that
// owns the connection pool.
func OpenSQLSink(ctx context.Context, cfg sqldb.Config, opts ...SQLOption) (*SQLSink, error) {
	db, err := sqldb.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := sqldb.Migrate(ctx, db, cfg.Driver); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "migrate metric_points")
	}
	s := NewSQLSink(db, opts...)
	s.ownsDB = true
	return s, nil
}

// NewSQLSink wraps an already migrated database.
func NewSQLSink(db *sql.DB, opts ...SQLOption) *SQLSink {
	s := &SQLSink{db: db, maxPending: defaultMaxPending, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *SQLSink) EmitTask(m TaskMetric) {
	s.push(sqlPoint{
		measurement: MeasurementTask,
		task:        m.Task,
		event:       string(m.Event),
		value:       m.Duration,
		recordedAt:  pointTime(m.Timestamp).UnixMilli(),
	})
}

func (s *SQLSink) EmitQueue(m QueueMetric) {
	s.push(sqlPoint{
		measurement: MeasurementQueue,
		queue:       m.Queue,
		value:       float64(m.Depth),
		recordedAt:  pointTime(m.Timestamp).UnixMilli(),
	})
}

func (s *SQLSink) EmitWorkers(m WorkerMetric) {
	s.push(sqlPoint{
		measurement: MeasurementWorker,
		value:       float64(m.Count),
		recordedAt:  pointTime(m.Timestamp).UnixMilli(),
	})
}

func (s *SQLSink) push(p sqlPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.maxPending {
		s.pending = s.pending[1:]
		s.dropped++
	}
	s.pending = append(s.pending, p)
}

// Commit writes the pending points. Points taken by a failed commit are
// lost; delivery is best effort.
func (s *SQLSink) Commit(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	dropped := s.dropped
	s.pending = nil
	s.dropped = 0
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("sql sink buffer overflow, oldest points dropped", slog.Int("dropped", dropped))
	}
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "begin metric transaction")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metric_points
        (measurement, tag_task, tag_event, tag_queue, value, recorded_at)
        VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "prepare metric insert")
	}
	defer stmt.Close()

	for _, p := range batch {
		if _, err := stmt.ExecContext(ctx, p.measurement, p.task, p.event, p.queue, p.value, p.recordedAt); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeSinkFailure, err, "insert metric point")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "commit metric transaction")
	}
	return nil
}

// Close releases the pool when the sink opened it.
func (s *SQLSink) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}
