package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/httputil"
	"github.com/getsentry/orbit/internal/storageutil"
	"github.com/getsentry/orbit/internal/timeutil"
)

const attachmentFieldPrefix = "attachment."

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	// SessionReport is what gets archived for every accepted upload.
	SessionReport struct {
		SessionID   string               `json:"session_id"`
		Timestamp   string               `json:"timestamp"`
		ReceivedAt  timeutil.Time        `json:"received_at"`
		Resource    json.RawMessage      `json:"resource"`
		Events      []json.RawMessage    `json:"events"`
		Attachments []ArchivedAttachment `json:"attachments,omitempty"`
	}

	ArchivedAttachment struct {
		Name   string `json:"name"`
		Object string `json:"object"`
		Size   int    `json:"size"`
	}

	// incomingEvent holds the fields checked on every uploaded event.
	incomingEvent struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Timestamp string `json:"timestamp"`
	}
)

func reportObjectName(prefix, sessionID string) string {
	return fmt.Sprintf("%ssessions/%s.json.lz4", prefix, sessionID)
}

func attachmentObjectName(prefix, sessionID, name string) string {
	return fmt.Sprintf("%ssessions/%s/attachments/%s", prefix, sessionID, name)
}

func hubFromContext(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

func (e *environment) authorized(r *http.Request) bool {
	if e.config.APIKey == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+e.config.APIKey
}

func (e *environment) putEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := hubFromContext(ctx)

	if !e.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if e.config.FailStatus != 0 {
		w.WriteHeader(e.config.FailStatus)
		return
	}
	if e.config.MaxPayloadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, e.config.MaxPayloadSize)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	report, attachments, err := readReport(mr)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		hub.CaptureException(err)
		log.Warn().Err(err).Str("session_id", report.SessionID).Msg("rejected session report")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	hub.Scope().SetTag("session_id", report.SessionID)

	s := sentry.StartSpan(ctx, "blob.write")
	s.Description = "Archive session report"
	for name, content := range attachments {
		object := attachmentObjectName(e.config.ReportsPrefix, report.SessionID, name)
		err = putObject(ctx, e.objects, object, content)
		if err != nil {
			s.Finish()
			hub.CaptureException(err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		report.Attachments = append(report.Attachments, ArchivedAttachment{Name: name, Object: object, Size: len(content)})
	}
	report.ReceivedAt = timeutil.Time(time.Now())
	err = storageutil.CompressedWrite(ctx, e.objects, reportObjectName(e.config.ReportsPrefix, report.SessionID), report)
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	log.Info().
		Str("session_id", report.SessionID).
		Int("events", len(report.Events)).
		Int("attachments", len(report.Attachments)).
		Msg("session report archived")

	w.WriteHeader(http.StatusOK)
}

func readReport(mr *multipart.Reader) (SessionReport, map[string][]byte, error) {
	var report SessionReport
	attachments := make(map[string][]byte)
	var sawEvents bool
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, nil, err
		}
		name := part.FormName()
		content, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return report, nil, err
		}
		switch {
		case name == "session_id":
			report.SessionID = string(content)
		case name == "timestamp":
			report.Timestamp = string(content)
		case name == "resource":
			if !jsonAPI.Valid(content) {
				return report, nil, errors.New("resource is not valid JSON")
			}
			report.Resource = content
		case name == "events":
			report.Events, err = parseEvents(content)
			if err != nil {
				return report, nil, err
			}
			sawEvents = true
		case strings.HasPrefix(name, attachmentFieldPrefix):
			attachments[strings.TrimPrefix(name, attachmentFieldPrefix)] = content
		}
	}
	if report.SessionID == "" {
		return report, nil, errors.New("missing session_id")
	}
	if !sawEvents {
		return report, nil, errors.New("missing events")
	}
	for i, raw := range report.Events {
		var ev incomingEvent
		err := jsonAPI.Unmarshal(raw, &ev)
		if err != nil {
			return report, nil, fmt.Errorf("event %d: %w", i, err)
		}
		if ev.ID == "" || ev.Type == "" {
			return report, nil, fmt.Errorf("event %d: missing id or type", i)
		}
		if ev.SessionID != report.SessionID {
			return report, nil, fmt.Errorf("event %s belongs to session %q", ev.ID, ev.SessionID)
		}
	}
	return report, attachments, nil
}

func parseEvents(content []byte) ([]json.RawMessage, error) {
	var raw []jsoniter.RawMessage
	err := jsonAPI.Unmarshal(content, &raw)
	if err != nil {
		return nil, fmt.Errorf("decoding events: %w", err)
	}
	events := make([]json.RawMessage, 0, len(raw))
	for _, r := range raw {
		events = append(events, json.RawMessage(r))
	}
	return events, nil
}

func putObject(ctx context.Context, objects storageutil.ObjectHandler, name string, content []byte) error {
	w, err := objects.Put(ctx, name)
	if err != nil {
		return err
	}
	_, err = w.Write(content)
	if err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (e *environment) getConfig(w http.ResponseWriter, r *http.Request) {
	hub := hubFromContext(r.Context())
	if !e.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	b, err := jsonAPI.Marshal(e.config.SDKConfig)
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (e *environment) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := hubFromContext(ctx)
	if !e.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	params, logger, ok := httputil.GetRequiredQueryParameters(w, r, "session_id")
	if !ok {
		return
	}
	var report SessionReport
	err := storageutil.UnmarshalCompressed(ctx, e.objects, reportObjectName(e.config.ReportsPrefix, params["session_id"]), &report)
	if err != nil {
		if errors.Is(err, storageutil.ErrObjectNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hub.CaptureException(err)
		logger.Error().Err(err).Msg("can't read session report")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	b, err := json.Marshal(report)
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
