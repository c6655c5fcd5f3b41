package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"depot/internal/job"
	"depot/pkg/cloudevent"

	"github.com/google/uuid"
)

// EventTypePrefix prefixes the CloudEvent type of every job transition.
const EventTypePrefix = "org.haiku.depot.job."

// JobPublisher turns job transitions into CloudEvents on subjects of the form
// <prefix>.<status>, e.g. depot.jobs.finished.
type JobPublisher struct {
	dispatcher *Dispatcher
	source     string
	prefix     string
	logger     *slog.Logger
}

// NewJobPublisher creates a job.Listener publishing through d.
func NewJobPublisher(d *Dispatcher) *JobPublisher {
	return &JobPublisher{
		dispatcher: d,
		source:     d.config.Source,
		prefix:     d.config.SubjectPrefix,
		logger:     slog.With("component", "events"),
	}
}

// JobTransitioned implements job.Listener. It never blocks; events that do not
// fit in the buffer are dropped.
func (p *JobPublisher) JobTransitioned(_ context.Context, snap job.Snapshot) {
	event := p.Build(snap)
	if err := p.dispatcher.Dispatch(event); err != nil && !errors.Is(err, ErrBufferFull) {
		p.logger.Debug("Job event not dispatched", "jobGuid", snap.GUID, "error", err)
	}
}

// Build creates the event for a snapshot.
func (p *JobPublisher) Build(snap job.Snapshot) *Event {
	status := strings.ToLower(string(snap.Status))
	data := map[string]any{
		"guid":               snap.GUID,
		"status":             string(snap.Status),
		"progressPercent":    snap.ProgressPercent,
		"suppliedDataGuids":  nonNil(snap.SuppliedDataGUIDs),
		"generatedDataGuids": nonNil(snap.GeneratedDataGUIDs),
	}
	if snap.Specification != nil {
		data["type"] = snap.Specification.Kind()
		if owner := snap.Specification.OwnerUserNickname(); owner != "" {
			data["ownerUserNickname"] = owner
		}
	}
	if snap.FailureReason != "" {
		data["failureReason"] = snap.FailureReason
	}

	at := snap.CreatedAt
	for _, ts := range []*time.Time{snap.StartedAt, snap.FinishedAt, snap.CancelledAt} {
		if ts != nil && ts.After(at) {
			at = *ts
		}
	}

	return &Event{
		Payload: cloudevent.New(EventTypePrefix+status, p.source, snap.GUID, uuid.NewString(), at, data),
		Subject: p.prefix + "." + status,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ job.Listener = (*JobPublisher)(nil)
