package sink

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	xerrors "CeleryPulse/internal/errors"
)

// Measurement names written to InfluxDB.
const (
	MeasurementTask   = "task_stats"
	MeasurementQueue  = "queue_stats"
	MeasurementWorker = "worker_stats"
)

// InfluxConfig describes the InfluxDB v2 endpoint.
type InfluxConfig struct {
	URL       string
	Token     string
	Org       string
	Bucket    string
	BatchSize uint
}

// InfluxSink writes points through the non-blocking InfluxDB write API.
// Points are buffered by the client and Commit forces a flush.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPI
	logger *slog.Logger

	done   chan struct{}
	closed atomic.Bool
}

// NewInfluxSink connects to InfluxDB. Write errors are reported
// asynchronously by the client and logged.
func NewInfluxSink(cfg InfluxConfig, logger *slog.Logger) (*InfluxSink, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "influxdb url is empty")
	}
	if cfg.Bucket == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "influxdb bucket is empty")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 500
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := influxdb2.DefaultOptions().SetBatchSize(cfg.BatchSize)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	writer := client.WriteAPI(cfg.Org, cfg.Bucket)

	s := &InfluxSink{client: client, writer: writer, logger: logger, done: make(chan struct{})}
	go s.drainErrors(writer.Errors())
	return s, nil
}

func (s *InfluxSink) drainErrors(errs <-chan error) {
	for {
		select {
		case <-s.done:
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.logger.Warn("influxdb write failed",
				slog.Any("error", xerrors.Wrap(xerrors.CodeSinkFailure, err, "influxdb write failed")))
		}
	}
}

func (s *InfluxSink) EmitTask(m TaskMetric) {
	if s.closed.Load() {
		return
	}
	s.writer.WritePoint(influxdb2.NewPoint(MeasurementTask,
		map[string]string{"task": m.Task, "event": string(m.Event)},
		map[string]interface{}{"duration": m.Duration},
		pointTime(m.Timestamp)))
}

func (s *InfluxSink) EmitQueue(m QueueMetric) {
	if s.closed.Load() {
		return
	}
	s.writer.WritePoint(influxdb2.NewPoint(MeasurementQueue,
		map[string]string{"queue": m.Queue},
		map[string]interface{}{"count": m.Depth},
		pointTime(m.Timestamp)))
}

func (s *InfluxSink) EmitWorkers(m WorkerMetric) {
	if s.closed.Load() {
		return
	}
	s.writer.WritePoint(influxdb2.NewPoint(MeasurementWorker,
		map[string]string{},
		map[string]interface{}{"count": m.Count},
		pointTime(m.Timestamp)))
}

// Commit flushes buffered points. The client flushes an empty buffer as a
// no-op.
func (s *InfluxSink) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return errors.New("influxdb sink closed")
	}
	s.writer.Flush()
	return nil
}

// Close flushes pending points and closes the client.
func (s *InfluxSink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Client.Close flushes every write API it handed out.
	s.client.Close()
	close(s.done)
	return nil
}
