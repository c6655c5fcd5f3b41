// Package job runs asynchronous jobs on a bounded worker pool and stores the
// data they consume and produce.
//
// A job moves QUEUED -> STARTED -> FINISHED|FAILED, or QUEUED -> CANCELLED
// when cancelled before a worker picks it up. Terminal states are final.
// Equivalent submissions can be coalesced onto an existing job so a flood of
// identical requests results in one execution.
package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"mime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"depot/internal/apperrors"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/robfig/cron/v3"
)

// Limits
const (
	maxDataNameLength = 256
	maxDataSize       = 64 << 20 // 64MB
)

// Runner executes one kind of job.
type Runner interface {
	Run(ctx context.Context, rc *RunContext) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, rc *RunContext) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, rc *RunContext) error { return f(ctx, rc) }

// Registration pairs a specification kind with its decoder and runner.
type Registration struct {
	Kind   string
	New    func() Specification // returns a pointer for JSON decoding
	Runner Runner
}

// Listener observes job transitions. Implementations must not block.
type Listener interface {
	JobTransitioned(ctx context.Context, snap Snapshot)
}

// MetricsRecorder is an optional interface for recording job metrics.
type MetricsRecorder interface {
	RecordJobCreated(ctx context.Context, kind string)
	RecordJobCoalesced(ctx context.Context, kind string)
	RecordJobCompleted(ctx context.Context, kind string, success bool, durationSeconds float64)
	RecordJobCancelled(ctx context.Context, kind string)
	RecordJobQueueSize(ctx context.Context, size int64)
	RecordJobsExpired(ctx context.Context, count int64)
}

// Config holds configuration for the job service.
type Config struct {
	Store         DataStore
	Registrations []Registration
	Workers       int           // concurrent job workers (default: 2)
	QueueSize     int           // pending jobs buffer (default: 256)
	Retention     time.Duration // how long terminal jobs are kept (default: 2h)
	Listener      Listener      // optional
	Metrics       MetricsRecorder
	Now           func() time.Time
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Retention <= 0 {
		c.Retention = 2 * time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Service manages job lifecycle, execution and data storage.
type Service struct {
	table         *jobTable
	store         DataStore
	registrations map[string]Registration
	queue         chan *record
	retention     time.Duration
	listener      Listener
	metrics       MetricsRecorder
	now           func() time.Time
	logger        *slog.Logger

	// Internal counters (for Stats())
	submitted atomic.Int64
	coalesced atomic.Int64
	expired   atomic.Int64

	cronMu sync.Mutex
	cron   *cron.Cron

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewService creates a job service and starts its workers.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("data store is required")
	}
	cfg = cfg.withDefaults()

	regs := make(map[string]Registration, len(cfg.Registrations))
	for _, r := range cfg.Registrations {
		if r.Kind == "" || r.New == nil || r.Runner == nil {
			return nil, fmt.Errorf("incomplete registration for kind %q", r.Kind)
		}
		if _, dup := regs[r.Kind]; dup {
			return nil, fmt.Errorf("duplicate registration for kind %q", r.Kind)
		}
		regs[r.Kind] = r
	}

	s := &Service{
		table:         newJobTable(),
		store:         cfg.Store,
		registrations: regs,
		queue:         make(chan *record, cfg.QueueSize),
		retention:     cfg.Retention,
		listener:      cfg.Listener,
		metrics:       cfg.Metrics,
		now:           cfg.Now,
		logger:        slog.With("component", "jobs"),
		shutdown:      make(chan struct{}),
	}

	s.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go s.worker()
	}

	s.logger.Info("Job service started", "workers", cfg.Workers, "queue", cfg.QueueSize, "kinds", s.Kinds())
	return s, nil
}

// Kinds returns the registered specification kinds in sorted order.
func (s *Service) Kinds() []string {
	return slices.Sorted(maps.Keys(s.registrations))
}

func (s *Service) registration(kind string) (Registration, bool) {
	r, ok := s.registrations[kind]
	return r, ok
}

// StoreSuppliedData persists an input payload and returns its metadata.
// Gzip payloads are stored as received and decoded only when a runner reads them.
func (s *Service) StoreSuppliedData(ctx context.Context, name, mediaType string, encoding Encoding, r io.Reader) (Data, error) {
	if name == "" {
		return Data{}, apperrors.Validation("name", "data name is required")
	}
	if len(name) > maxDataNameLength {
		return Data{}, apperrors.Validation("name", fmt.Sprintf("data name exceeds maximum length of %d", maxDataNameLength))
	}
	if _, _, err := mime.ParseMediaType(mediaType); err != nil {
		return Data{}, apperrors.Validation("mediaType", fmt.Sprintf("invalid media type %q", mediaType))
	}
	if !encoding.Valid() {
		return Data{}, apperrors.Validation("encoding", fmt.Sprintf("unknown encoding %q", encoding))
	}

	payload, err := io.ReadAll(io.LimitReader(r, maxDataSize+1))
	if err != nil {
		return Data{}, apperrors.Storage("read supplied data", err)
	}
	if len(payload) > maxDataSize {
		return Data{}, apperrors.Validation("data", fmt.Sprintf("data exceeds maximum size of %d bytes", maxDataSize))
	}
	if encoding == EncodingGzip {
		if _, err := gzip.NewReader(bytes.NewReader(payload)); err != nil {
			return Data{}, apperrors.Validation("encoding", "data is not a gzip stream")
		}
	}

	data := Data{
		GUID:      uuid.NewString(),
		Name:      name,
		MediaType: mediaType,
		Encoding:  encoding,
		Use:       DataSupplied,
		Size:      int64(len(payload)),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Put(ctx, data, payload); err != nil {
		s.logger.Error("Failed to store supplied data", "name", name, "error", err)
		return Data{}, apperrors.Storage("store supplied data", err)
	}

	s.logger.Info("Supplied data stored", "dataGuid", data.GUID, "name", name, "size", data.Size)
	return data, nil
}

// Submit validates spec and queues it, or returns the GUID of an equivalent
// job selected by mode.
func (s *Service) Submit(ctx context.Context, spec Specification, mode CoalesceMode) (string, error) {
	if s.closed.Load() {
		return "", apperrors.Unavailable("job service", "shutting down")
	}
	if err := validateSpecification(spec); err != nil {
		return "", err
	}
	kind := spec.Kind()
	reg, ok := s.registration(kind)
	if !ok {
		return "", apperrors.Validation("type", fmt.Sprintf("unknown job type: %q", kind))
	}

	supplied := slices.Clone(spec.SuppliedDataGUIDs())
	for _, g := range supplied {
		_, ok, err := s.store.Stat(ctx, g)
		if err != nil {
			return "", apperrors.Storage("stat supplied data", err)
		}
		if !ok {
			return "", apperrors.Validation("suppliedDataGuids", fmt.Sprintf("supplied data %s not found", g))
		}
	}

	key, err := spec.CoalesceKey()
	if err != nil {
		s.logger.Warn("Coalesce key unavailable, job will always execute", "type", kind, "error", err)
		key = ""
	}

	// The queued job runs a private copy so later changes to spec by the
	// caller cannot reach it.
	encoded, err := json.Marshal(spec)
	if err != nil {
		return "", apperrors.Validation("specification", fmt.Sprintf("failed to marshal %s specification: %v", kind, err))
	}
	stored, err := decodeAs(reg.New, encoded)
	if err != nil {
		return "", apperrors.Validation("specification", fmt.Sprintf("failed to copy %s specification: %v", kind, err))
	}

	// Only admit sends to the queue and it holds the table lock, so a free
	// slot observed here is still free at the send below. Close marks the
	// service closed under the same lock, so no job is queued after the
	// workers start draining.
	rec, coalesced, err := s.table.admit(key, mode, func() (*record, error) {
		if s.closed.Load() {
			return nil, apperrors.Unavailable("job service", "shutting down")
		}
		if len(s.queue) >= cap(s.queue) {
			return nil, apperrors.Unavailable("job queue", "queue is full")
		}
		rec := &record{
			snap: Snapshot{
				GUID:              uuid.NewString(),
				Specification:     stored,
				Status:            StatusQueued,
				CreatedAt:         s.now().UTC(),
				SuppliedDataGUIDs: supplied,
			},
			done:    make(chan struct{}),
			encoded: encoded,
			newSpec: reg.New,
		}
		s.notify(ctx, rec.snapshot())
		s.queue <- rec
		return rec, nil
	})
	if err != nil {
		s.logger.Warn("Job submission rejected", "type", kind, "error", err)
		return "", err
	}

	logger := s.logger.With("jobGuid", rec.snap.GUID, "type", kind)
	if coalesced {
		s.coalesced.Add(1)
		if s.metrics != nil {
			s.metrics.RecordJobCoalesced(ctx, kind)
		}
		logger.Info("Job coalesced", "mode", mode.String())
		return rec.snap.GUID, nil
	}

	s.submitted.Add(1)
	if s.metrics != nil {
		s.metrics.RecordJobCreated(ctx, kind)
	}
	logger.Info("Job queued", "owner", spec.OwnerUserNickname())
	return rec.snap.GUID, nil
}

// Immediate submits spec and waits, ignoring caller cancellation, until the
// job reaches a terminal state. suppressDuplicateCoalesce forces a new job.
func (s *Service) Immediate(ctx context.Context, spec Specification, suppressDuplicateCoalesce bool) (string, error) {
	mode := CoalesceActive
	if suppressDuplicateCoalesce {
		mode = CoalesceNone
	}
	guid, err := s.Submit(ctx, spec, mode)
	if err != nil {
		return "", err
	}
	if err := s.AwaitJobFinishedUninterruptibly(guid, 0); err != nil {
		return guid, err
	}
	return guid, nil
}

// TryGetJob returns a copy of the job's snapshot. It never blocks on execution.
func (s *Service) TryGetJob(guid string) (Snapshot, bool) {
	return s.table.snapshot(guid)
}

// AwaitJobFinishedUninterruptibly blocks until the job is terminal or timeout
// elapses. A timeout of zero or less waits without a deadline. Timing out
// leaves the job untouched.
func (s *Service) AwaitJobFinishedUninterruptibly(guid string, timeout time.Duration) error {
	return s.AwaitJobFinished(context.Background(), guid, timeout)
}

// AwaitJobFinished is AwaitJobFinishedUninterruptibly bounded additionally by ctx.
func (s *Service) AwaitJobFinished(ctx context.Context, guid string, timeout time.Duration) error {
	rec, ok := s.table.get(guid)
	if !ok {
		return apperrors.NotFound("job", guid)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-rec.done:
		return nil
	case <-deadline:
		return apperrors.Timeout("job", guid, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryObtainData returns a stored payload as received. ok is false when guid is unknown.
func (s *Service) TryObtainData(ctx context.Context, guid string) (Data, io.ReadCloser, bool, error) {
	data, payload, ok, err := s.store.Get(ctx, guid)
	if err != nil {
		return Data{}, nil, false, apperrors.Storage("get data", err)
	}
	if !ok {
		return Data{}, nil, false, nil
	}
	return data, io.NopCloser(bytes.NewReader(payload)), true, nil
}

// Cancel cancels a queued job. Jobs that have started cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, guid string) error {
	rec, ok := s.table.get(guid)
	if !ok {
		return apperrors.NotFound("job", guid)
	}
	snap, err := s.table.transition(rec, StatusCancelled, func(sn *Snapshot) {
		t := s.now().UTC()
		sn.CancelledAt = &t
	})
	if err != nil {
		return apperrors.Conflict("job", guid, fmt.Sprintf("cannot cancel job in status %s", snap.Status))
	}

	kind := snap.Specification.Kind()
	if s.metrics != nil {
		s.metrics.RecordJobCancelled(ctx, kind)
	}
	s.logger.Info("Job cancelled", "jobGuid", guid, "type", kind)
	s.notify(ctx, snap)
	return nil
}

// List returns the jobs matching filter ordered by creation.
func (s *Service) List(filter ListFilter) []Snapshot {
	return s.table.list(filter)
}

// Stats returns current job service statistics.
func (s *Service) Stats() Stats {
	return Stats{
		QueueDepth: len(s.queue),
		Submitted:  s.submitted.Load(),
		Coalesced:  s.coalesced.Load(),
		Expired:    s.expired.Load(),
		ByStatus:   s.table.counts(),
	}
}

// Ready checks the data store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if s.closed.Load() {
		return apperrors.Unavailable("job service", "shutting down")
	}
	if err := s.store.Ping(ctx); err != nil {
		return apperrors.Storage("ping data store", err)
	}
	return nil
}

// Close stops accepting jobs and waits for queued and running jobs to finish.
// The context deadline controls how long to wait for drain.
func (s *Service) Close(ctx context.Context) error {
	if s.table.closeWith(&s.closed) {
		return nil // already closed
	}

	s.logger.Info("Job service shutting down", "queued", len(s.queue))
	s.StopMaintenance()

	// Signal workers to stop
	close(s.shutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Job service shutdown complete", "submitted", s.submitted.Load(), "coalesced", s.coalesced.Load())
		return nil
	case <-ctx.Done():
		s.logger.Warn("Job service shutdown timed out", "remaining", len(s.queue))
		return ctx.Err()
	}
}

func (s *Service) notify(ctx context.Context, snap Snapshot) {
	if s.listener != nil {
		s.listener.JobTransitioned(ctx, snap)
	}
}
