package exporter

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/session"
	"github.com/getsentry/orbit/internal/timeutil"
	"github.com/getsentry/orbit/internal/transport"
)

// Backoff applied after the backend rejects our credentials. It starts at
// initialAuthBackoff and doubles on every rejection up to maxAuthBackoff.
const (
	initialAuthBackoff = time.Minute
	maxAuthBackoff     = time.Hour
)

type (
	Store interface {
		UnsyncedSessions(ctx context.Context, activeID string) ([]session.Session, error)
		Session(ctx context.Context, id string) (session.Session, error)
		IterateEvents(ctx context.Context, sessionID string, fn func(fragment []byte, sampled bool) error) error
		ExitRecord(ctx context.Context, sessionID string) ([]byte, error)
		Attachments(ctx context.Context, sessionID string) ([]event.Attachment, error)
		MarkSynced(ctx context.Context, sessionID string) error
		DeleteSession(ctx context.Context, sessionID string) error
	}

	Sessions interface {
		CurrentSessionID() string
	}

	// Exporter uploads stored sessions and deletes them once the backend
	// acknowledges them. Only one export runs at a time.
	Exporter struct {
		store     Store
		transport transport.Transport
		sessions  Sessions
		clock     timeutil.Provider

		exporting atomic.Bool

		mu               sync.Mutex
		authBackoff      time.Duration
		authBackoffUntil int64
	}

	// Stats summarizes one sync.
	Stats struct {
		Synced int
		Failed int
		// Skipped is true when another sync was running or the exporter is
		// backing off after an auth failure.
		Skipped bool
	}
)

func New(store Store, t transport.Transport, sessions Sessions, clock timeutil.Provider) *Exporter {
	return &Exporter{
		store:     store,
		transport: t,
		sessions:  sessions,
		clock:     clock,
	}
}

// SyncSessions exports every unsynced session except the active one.
func (e *Exporter) SyncSessions(ctx context.Context) Stats {
	return e.sync(ctx, func() ([]session.Session, error) {
		return e.store.UnsyncedSessions(ctx, e.sessions.CurrentSessionID())
	})
}

// SyncActiveSession exports the current session, used when the app is
// about to stop.
func (e *Exporter) SyncActiveSession(ctx context.Context) Stats {
	return e.sync(ctx, func() ([]session.Session, error) {
		id := e.sessions.CurrentSessionID()
		if id == "" {
			return nil, nil
		}
		s, err := e.store.Session(ctx, id)
		if err != nil {
			return nil, err
		}
		if s.Synced {
			return nil, nil
		}
		return []session.Session{s}, nil
	})
}

func (e *Exporter) sync(ctx context.Context, list func() ([]session.Session, error)) Stats {
	if !e.exporting.CompareAndSwap(false, true) {
		log.Debug().Msg("export already in progress")
		return Stats{Skipped: true}
	}
	defer e.exporting.Store(false)

	if e.inAuthBackoff() {
		log.Debug().Msg("skipping export after an auth failure")
		return Stats{Skipped: true}
	}
	sessions, err := list()
	if err != nil {
		sentry.CaptureException(err)
		log.Err(err).Msg("error listing sessions to export")
		return Stats{}
	}

	var stats Stats
	for _, s := range sessions {
		if ctx.Err() != nil {
			break
		}
		result := e.exportSession(ctx, s)
		logger := log.With().Str("session_id", s.ID).Int("status_code", result.StatusCode).Logger()
		switch result.Kind {
		case transport.Success:
			stats.Synced++
			e.resetAuthBackoff()
			e.finalize(ctx, s.ID, logger)
			continue
		case transport.AuthFailure:
			logger.Error().Err(result.Err).Msg("export rejected, check the api key")
			e.extendAuthBackoff()
			stats.Failed++
			return stats
		case transport.PayloadTooLarge:
			logger.Error().Err(result.Err).Msg("export rejected, payload too large")
		case transport.ServerError:
			logger.Warn().Err(result.Err).Msg("export failed with a server error, will retry")
		case transport.NetworkError:
			logger.Warn().Err(result.Err).Msg("export failed with a network error, will retry")
		default:
			logger.Warn().Err(result.Err).Str("kind", result.Kind.String()).Msg("export failed, will retry")
		}
		stats.Failed++
	}
	return stats
}

// finalize deletes an acknowledged session. It is marked synced first so a
// process death before the delete doesn't upload it twice.
func (e *Exporter) finalize(ctx context.Context, id string, logger zerolog.Logger) {
	err := e.store.MarkSynced(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msg("error marking session as synced")
	}
	err = e.store.DeleteSession(ctx, id)
	if err != nil {
		sentry.CaptureException(err)
		logger.Error().Err(err).Msg("error deleting synced session")
	}
}

func (e *Exporter) exportSession(ctx context.Context, s session.Session) transport.Result {
	attachments, err := e.store.Attachments(ctx, s.ID)
	if err != nil {
		return transport.Result{Kind: transport.ClientError, Err: err}
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(e.writeEvents(ctx, pw, s))
	}()
	defer pr.Close()
	return e.transport.UploadSessionReport(ctx, transport.Report{
		SessionID:   s.ID,
		Timestamp:   e.clock.NowMs(),
		Resource:    s.Resource,
		Events:      pr,
		Attachments: attachments,
	})
}

// writeEvents streams the session's stored fragments as a JSON array, the
// exit record first. Journey events outside the sample are only sent for
// crashed sessions.
func (e *Exporter) writeEvents(ctx context.Context, w io.Writer, s session.Session) error {
	_, err := io.WriteString(w, "[")
	if err != nil {
		return err
	}
	first := true
	write := func(fragment []byte) error {
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		first = false
		_, err := w.Write(fragment)
		return err
	}
	exit, err := e.store.ExitRecord(ctx, s.ID)
	if err != nil {
		return err
	}
	if exit != nil {
		if err := write(exit); err != nil {
			return err
		}
	}
	err = e.store.IterateEvents(ctx, s.ID, func(fragment []byte, sampled bool) error {
		if !sampled && !s.Crashed {
			return nil
		}
		return write(fragment)
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "]")
	return err
}

func (e *Exporter) inAuthBackoff() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.NowMs() < e.authBackoffUntil
}

func (e *Exporter) extendAuthBackoff() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.authBackoff == 0 {
		e.authBackoff = initialAuthBackoff
	} else {
		e.authBackoff *= 2
		if e.authBackoff > maxAuthBackoff {
			e.authBackoff = maxAuthBackoff
		}
	}
	e.authBackoffUntil = e.clock.NowMs() + e.authBackoff.Milliseconds()
}

func (e *Exporter) resetAuthBackoff() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.authBackoff = 0
	e.authBackoffUntil = 0
}
