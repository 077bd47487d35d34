package exporter

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/timeutil"
)

type (
	Cleaner interface {
		DeleteSyncedSessions(ctx context.Context) (int, error)
		DeleteExpiredSessions(ctx context.Context, before int64, activeID string) (int, error)
	}

	// Scheduler runs periodic exports and the daily cleanup of sessions
	// that outlived their TTL.
	Scheduler struct {
		cron     *cron.Cron
		exporter *Exporter
		cleaner  Cleaner
		clock    timeutil.Provider
		ttl      time.Duration
	}
)

func NewScheduler(exporter *Exporter, cleaner Cleaner, clock timeutil.Provider, ttl time.Duration) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		exporter: exporter,
		cleaner:  cleaner,
		clock:    clock,
		ttl:      ttl,
	}
}

// Start schedules the jobs and returns immediately.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval < time.Second {
		interval = time.Second
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		stats := s.exporter.SyncSessions(context.Background())
		if stats.Synced > 0 || stats.Failed > 0 {
			log.Info().Int("synced", stats.Synced).Int("failed", stats.Failed).Msg("periodic export")
		}
	})
	if err != nil {
		return err
	}
	_, err = s.cron.AddFunc("@daily", func() {
		s.Cleanup(context.Background())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Cleanup deletes synced sessions left behind and sessions older than the TTL.
func (s *Scheduler) Cleanup(ctx context.Context) {
	_, err := s.cleaner.DeleteSyncedSessions(ctx)
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("error deleting synced sessions")
	}
	before := s.clock.NowMs() - s.ttl.Milliseconds()
	deleted, err := s.cleaner.DeleteExpiredSessions(ctx, before, s.exporter.sessions.CurrentSessionID())
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("error deleting expired sessions")
	}
	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("deleted expired sessions")
	}
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
