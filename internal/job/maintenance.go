package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// StartMaintenance schedules the retention sweep using a cron expression
// such as "@every 1m" or "*/5 * * * *".
func (s *Service) StartMaintenance(schedule string) error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("maintenance already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.ExpireJobs(ctx, s.now()); err != nil {
			slog.With("component", "maintenance").Error("Maintenance failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c

	slog.With("component", "maintenance").Info("Maintenance scheduled", "schedule", schedule, "retention", s.retention)
	return nil
}

// StopMaintenance stops the retention sweep and waits for a running sweep.
func (s *Service) StopMaintenance() {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronMu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// ExpireJobs removes terminal jobs that ended more than the retention period
// before now, together with their generated data. Any data older than the
// retention period that no remaining job references is removed as well.
func (s *Service) ExpireJobs(ctx context.Context, now time.Time) (int, error) {
	logger := slog.With("component", "maintenance")
	cutoff := now.Add(-s.retention)

	released := s.table.release(func(sn Snapshot) bool {
		ended := endedAt(sn)
		return ended != nil && ended.Before(cutoff)
	})

	var orphaned []string
	for _, sn := range released {
		orphaned = append(orphaned, sn.GeneratedDataGUIDs...)
		logger.Debug("Expired job", "jobGuid", sn.GUID, "status", sn.Status)
	}

	all, err := s.store.List(ctx)
	if err != nil {
		return len(released), fmt.Errorf("list job data: %w", err)
	}
	referenced := s.table.referencedData()
	for _, d := range all {
		if !d.CreatedAt.Before(cutoff) {
			continue
		}
		if _, live := referenced[d.GUID]; !live {
			orphaned = append(orphaned, d.GUID)
		}
	}

	if len(orphaned) > 0 {
		if err := s.store.Delete(ctx, orphaned...); err != nil {
			return len(released), fmt.Errorf("delete expired job data: %w", err)
		}
	}

	if len(released) == 0 && len(orphaned) == 0 {
		return 0, nil
	}

	s.expired.Add(int64(len(released)))
	if s.metrics != nil {
		s.metrics.RecordJobsExpired(ctx, int64(len(released)))
	}
	logger.Info("Maintenance complete", "jobs", len(released), "data", len(orphaned))
	return len(released), nil
}

func endedAt(sn Snapshot) *time.Time {
	switch sn.Status {
	case StatusFinished, StatusFailed:
		return sn.FinishedAt
	case StatusCancelled:
		return sn.CancelledAt
	default:
		return nil
	}
}
