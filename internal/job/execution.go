package job

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"depot/internal/apperrors"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// worker runs jobs from the queue until shutdown.
func (s *Service) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			// Drain remaining jobs before exiting
			s.drainQueue()
			return
		case rec := <-s.queue:
			s.execute(rec)
		}
	}
}

// drainQueue runs remaining jobs after shutdown signal.
func (s *Service) drainQueue() {
	for {
		select {
		case rec := <-s.queue:
			s.execute(rec)
		default:
			return // queue empty
		}
	}
}

// execute runs one job to completion. Started jobs are never interrupted.
func (s *Service) execute(rec *record) {
	ctx := context.Background()
	kind := rec.snap.Specification.Kind()
	logger := s.logger.With("jobGuid", rec.snap.GUID, "type", kind)

	if s.metrics != nil {
		s.metrics.RecordJobQueueSize(ctx, int64(len(s.queue)))
	}

	startedAt := s.now().UTC()
	started, err := s.table.transition(rec, StatusStarted, func(sn *Snapshot) {
		sn.StartedAt = &startedAt
	})
	if err != nil {
		// Cancelled while queued
		logger.Debug("Skipping job", "status", started.Status)
		return
	}
	logger.Info("Job started")
	s.notify(ctx, started)

	reg, _ := s.registration(kind)
	rc := &RunContext{
		svc:    s,
		rec:    rec,
		spec:   rec.snap.Specification,
		logger: logger,
	}

	runErr := runSafely(ctx, reg.Runner, rc)
	var generated []string
	if runErr == nil {
		generated, runErr = rc.commit(ctx)
	}

	finishedAt := s.now().UTC()
	var final Snapshot
	if runErr != nil {
		final, err = s.table.transition(rec, StatusFailed, func(sn *Snapshot) {
			sn.FinishedAt = &finishedAt
			sn.FailureReason = runErr.Error()
			sn.GeneratedDataGUIDs = nil
		})
		logger.Error("Job failed", "error", runErr)
	} else {
		final, err = s.table.transition(rec, StatusFinished, func(sn *Snapshot) {
			sn.FinishedAt = &finishedAt
			sn.ProgressPercent = 100
			sn.GeneratedDataGUIDs = generated
		})
		logger.Info("Job finished", "generated", len(generated), "duration", finishedAt.Sub(startedAt))
	}
	if err != nil {
		logger.Error("Job transition rejected", "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordJobCompleted(ctx, kind, runErr == nil, finishedAt.Sub(startedAt).Seconds())
	}
	s.notify(ctx, final)
}

// runSafely invokes the runner, converting a panic into an error.
func runSafely(ctx context.Context, runner Runner, rc *RunContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			rc.logger.Error("Job runner panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("runner panic: %v", r)
		}
	}()
	return runner.Run(ctx, rc)
}

// RunContext gives a runner access to its inputs, outputs and progress.
// It is confined to the worker executing the job.
type RunContext struct {
	svc     *Service
	rec     *record
	spec    Specification
	logger  *slog.Logger
	outputs []*Output
}

// GUID returns the job's GUID.
func (rc *RunContext) GUID() string { return rc.rec.snap.GUID }

// Specification returns the job's specification.
func (rc *RunContext) Specification() Specification { return rc.spec }

// Logger returns a logger scoped to the job.
func (rc *RunContext) Logger() *slog.Logger { return rc.logger }

// SetProgress records the job's completion percentage.
func (rc *RunContext) SetProgress(percent int) {
	rc.svc.table.setProgress(rc.rec, percent)
}

// OpenInput opens one of the job's supplied data payloads, decoding gzip.
func (rc *RunContext) OpenInput(ctx context.Context, guid string) (Data, io.ReadCloser, error) {
	if !slices.Contains(rc.spec.SuppliedDataGUIDs(), guid) {
		return Data{}, nil, apperrors.Validation("suppliedDataGuids", fmt.Sprintf("data %s was not supplied to this job", guid))
	}
	data, payload, ok, err := rc.svc.store.Get(ctx, guid)
	if err != nil {
		return Data{}, nil, apperrors.Storage("get supplied data", err)
	}
	if !ok {
		return Data{}, nil, apperrors.NotFound("data", guid)
	}

	if data.Encoding == EncodingGzip {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return Data{}, nil, apperrors.Storage("decode supplied data", err)
		}
		return data, zr, nil
	}
	return data, io.NopCloser(bytes.NewReader(payload)), nil
}

// OpenSoleInput opens the job's only supplied payload.
func (rc *RunContext) OpenSoleInput(ctx context.Context) (Data, io.ReadCloser, error) {
	guids := rc.spec.SuppliedDataGUIDs()
	if len(guids) != 1 {
		return Data{}, nil, apperrors.Validation("suppliedDataGuids", fmt.Sprintf("expected exactly one supplied data, got %d", len(guids)))
	}
	return rc.OpenInput(ctx, guids[0])
}

// CreateOutput starts a generated payload. Its bytes are buffered and only
// stored if the runner returns without error.
func (rc *RunContext) CreateOutput(name, mediaType string) *Output {
	out := &Output{name: name, mediaType: mediaType}
	rc.outputs = append(rc.outputs, out)
	return out
}

// commit stores the buffered outputs. On a storage failure the outputs
// already stored are removed so none of them appear as valid results.
func (rc *RunContext) commit(ctx context.Context) ([]string, error) {
	guids := make([]string, 0, len(rc.outputs))
	for _, out := range rc.outputs {
		data := Data{
			GUID:      uuid.NewString(),
			Name:      out.name,
			MediaType: out.mediaType,
			Encoding:  EncodingNone,
			Use:       DataGenerated,
			Size:      int64(out.buf.Len()),
			CreatedAt: rc.svc.now().UTC(),
		}
		if err := rc.svc.store.Put(ctx, data, out.buf.Bytes()); err != nil {
			rc.rollback(guids)
			return nil, apperrors.Storage("store generated data", err)
		}
		guids = append(guids, data.GUID)
	}
	return guids, nil
}

func (rc *RunContext) rollback(guids []string) {
	if len(guids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rc.svc.store.Delete(ctx, guids...); err != nil {
		rc.logger.Error("Failed to remove partial generated data", "dataGuids", guids, "error", err)
	}
}

// Output is a buffered generated payload.
type Output struct {
	name      string
	mediaType string
	buf       bytes.Buffer
}

// Write implements io.Writer.
func (o *Output) Write(p []byte) (int, error) { return o.buf.Write(p) }

// Name returns the payload name.
func (o *Output) Name() string { return o.name }
