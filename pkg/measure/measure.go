// Package measure records sessions of events from a host application and
// exports them to a collector.
package measure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/attribute"
	"github.com/getsentry/orbit/internal/collector"
	"github.com/getsentry/orbit/internal/config"
	"github.com/getsentry/orbit/internal/crash"
	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/exporter"
	"github.com/getsentry/orbit/internal/idutil"
	"github.com/getsentry/orbit/internal/launch"
	"github.com/getsentry/orbit/internal/logutil"
	"github.com/getsentry/orbit/internal/platform"
	"github.com/getsentry/orbit/internal/sampler"
	"github.com/getsentry/orbit/internal/session"
	"github.com/getsentry/orbit/internal/span"
	"github.com/getsentry/orbit/internal/storage"
	"github.com/getsentry/orbit/internal/timeutil"
	"github.com/getsentry/orbit/internal/transport"
)

const SDKVersion = "0.1.0"

const (
	SpanStatusUnset = span.StatusUnset
	SpanStatusOk    = span.StatusOk
	SpanStatusError = span.StatusError
)

type (
	Span           = span.Span
	SpanStatus     = span.Status
	Target         = collector.Target
	LaunchedScreen = collector.LaunchedScreen
	NetworkInfo    = attribute.NetworkInfo
	Stats          = exporter.Stats
	Endpoint       = config.Endpoint
	Config         = config.Config

	Options struct {
		// Dir holds the event store and crash data. Events are kept in
		// memory and crashes aren't reported when it is empty.
		Dir      string
		Endpoint Endpoint
		Platform platform.Platform
		App      attribute.App
		// Defaults replaces the built-in config defaults field by field.
		Defaults *Config
		// Loader defaults to fetching the config from the endpoint.
		Loader config.Loader
		// Transport defaults to uploading to the endpoint over HTTP.
		Transport transport.Transport

		Clock            timeutil.Provider
		IDs              idutil.Provider
		LaunchCapture    *launch.EarlyCapture
		LaunchClassifier launch.Classifier
		Network          func() NetworkInfo
		LowPowerMode     func() bool
		// CrashReporter defaults to a PanicReporter in Dir.
		CrashReporter         crash.Reporter
		DisableCrashReporting bool
		// MeasureURL is excluded from HTTP capture like the endpoint.
		MeasureURL string
		// DisableScheduler turns off periodic exports and cleanups.
		DisableScheduler bool
	}

	Measure struct {
		clock    timeutil.Provider
		config   *config.Provider
		sampler  *sampler.Sampler
		store    *storage.Store
		sessions *session.Manager
		events   *event.Processor
		spans    *span.Processor
		exporter *exporter.Exporter
		user     *attribute.User
		ids      idutil.Provider

		panics *crash.PanicReporter
		slot   *crash.Slot
		crash  *crash.Manager

		cpu       *collector.CPUUsage
		memory    *collector.MemoryUsage
		component *collector.ComponentCallbacks
		gesture   *collector.Gesture
		custom    *collector.Custom
		lifecycle *collector.Lifecycle
		launch    *collector.AppLaunch

		scheduleMu sync.Mutex
		schedule   *exporter.Scheduler

		// Exports started by events, waited for on shutdown.
		bgMu    sync.Mutex
		bg      sync.WaitGroup
		closing bool
	}
)

// Init opens the store, replays the crash of the previous run and starts
// a session. Failures of optional parts are logged, not returned.
func Init(ctx context.Context, opts Options) (*Measure, error) {
	if opts.Clock == nil {
		opts.Clock = timeutil.NewSystemProvider()
	}
	if opts.IDs == nil {
		opts.IDs = idutil.UUIDProvider{}
	}
	if opts.Platform == "" {
		opts.Platform = platform.Go
	}
	if opts.App.SDKVersion == "" {
		opts.App.SDKVersion = SDKVersion
	}
	if !opts.Platform.Valid() {
		return nil, fmt.Errorf("unknown platform %q", opts.Platform)
	}

	storeDir := ""
	if opts.Dir != "" {
		storeDir = filepath.Join(opts.Dir, "events")
	}
	store, err := storage.Open(storeDir)
	if err != nil {
		return nil, err
	}
	m := &Measure{clock: opts.Clock, store: store, ids: opts.IDs, user: &attribute.User{}}

	defaults := config.DefaultConfig()
	if opts.Defaults != nil {
		defaults = config.Merge(*opts.Defaults, defaults)
	}
	loader := opts.Loader
	if loader == nil {
		loader = config.NewHTTPLoader(store.Objects(), func() config.Endpoint { return m.config.Endpoint() })
	}
	m.config = config.NewProvider(defaults, loader)
	m.config.UpdateEndpoint(opts.Endpoint.URL, opts.Endpoint.APIKey)
	if opts.MeasureURL != "" {
		m.config.SetMeasureURL(opts.MeasureURL)
	}
	m.config.OnConfigLoaded(m.reschedule)
	m.config.LoadCachedConfig(ctx)
	go m.config.LoadNetworkConfig(context.Background())
	logutil.SetVerbose(m.config.EnableLogging)
	m.sampler = sampler.New(m.config)

	device := attribute.NewDevice()
	processors := []attribute.Processor{
		attribute.ThreadName{Default: "main"},
		attribute.Platform{Platform: opts.Platform},
		device,
		opts.App,
		m.user,
	}
	if opts.Network != nil {
		processors = append(processors, attribute.Network{State: opts.Network})
	}
	if opts.LowPowerMode != nil {
		processors = append(processors, attribute.LowPowerMode{Enabled: opts.LowPowerMode})
	}

	hostname, _ := os.Hostname()
	resource := session.Resource{
		Platform:    opts.Platform,
		OSName:      runtime.GOOS,
		DeviceArch:  runtime.GOARCH,
		DeviceName:  hostname,
		AppVersion:  opts.App.Version,
		AppBuild:    opts.App.Build,
		AppUniqueID: opts.App.UniqueID,
		SDKVersion:  opts.App.SDKVersion,
	}
	m.sessions = session.NewManager(opts.Clock, opts.IDs, store, m.config, func() session.Resource { return resource })
	m.events = event.NewProcessor(opts.IDs, m.sessions, store, m.config, m.sampler, processors)
	m.spans = span.NewProcessor(opts.Clock, m.config, m.sampler, m.sessions, m.events, processors)

	t := opts.Transport
	if t == nil {
		t = transport.NewHTTP(m.config.Endpoint, transport.HTTPOptions{
			Attempts: m.config.MaxExportAttempts(),
			Compress: m.config.CompressExportPayload,
		})
	}
	m.exporter = exporter.New(store, t, m.sessions, opts.Clock)
	m.events.OnCrash(func(sessionID string) {
		// The active session keeps receiving events until the process
		// dies, it is exported on the next start.
		if sessionID != m.sessions.CurrentSessionID() {
			m.background(func() { m.exporter.SyncSessions(context.Background()) })
		}
	})

	if opts.Dir != "" && !opts.DisableCrashReporting {
		err = m.setupCrashReporting(opts, processors)
		if err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("crash reporting disabled")
		}
	}
	m.sessions.OnSessionStarted(func(session.Session) {
		if m.crash != nil {
			m.crash.Refresh()
		}
	})

	_, err = m.sessions.Init(ctx)
	if err != nil {
		m.close()
		return nil, err
	}
	if m.crash != nil {
		err = m.crash.ReplayPendingCrash(ctx)
		if err != nil {
			log.Error().Err(err).Msg("error replaying crash, will retry on next start")
		}
		m.crash.Enable()
	}

	m.cpu = collector.NewCPUUsage(m.events, opts.Clock, collector.CPUUsageOptions{Interval: m.config.CPUUsageInterval})
	m.memory = collector.NewMemoryUsage(m.events, opts.Clock, collector.MemoryUsageOptions{Interval: m.config.MemoryUsageInterval})
	m.component = collector.NewComponentCallbacks(m.events, opts.Clock)
	m.gesture = collector.NewGesture(m.events, opts.Clock)
	m.custom = collector.NewCustom(m.events, opts.Clock, m.config)
	m.launch = collector.NewAppLaunch(m.events, opts.Clock, opts.IDs, m.sampler, opts.LaunchClassifier, opts.LaunchCapture)
	m.lifecycle = collector.NewLifecycle(m.events, m.sessions, opts.Clock)
	m.lifecycle.OnForegrounded(m.refreshCrashContext)
	m.lifecycle.OnBackgrounded(m.refreshCrashContext)
	m.lifecycle.OnBackgrounded(func() {
		go m.background(func() { m.exporter.SyncSessions(context.Background()) })
	})

	if !opts.DisableScheduler {
		m.scheduleMu.Lock()
		m.startScheduler()
		m.scheduleMu.Unlock()
	}
	return m, nil
}

// startScheduler must be called with scheduleMu held.
func (m *Measure) startScheduler() {
	s := exporter.NewScheduler(m.exporter, m.store, m.clock, m.config.SessionTTL())
	err := s.Start(m.config.EventsBatchingInterval())
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("error starting export scheduler")
		return
	}
	m.schedule = s
}

// reschedule restarts a running scheduler so a network config change of
// the batching interval or the session TTL takes effect.
func (m *Measure) reschedule() {
	m.scheduleMu.Lock()
	defer m.scheduleMu.Unlock()
	if m.schedule == nil {
		return
	}
	m.schedule.Stop()
	m.schedule = nil
	m.startScheduler()
}

func (m *Measure) stopScheduler() {
	m.scheduleMu.Lock()
	defer m.scheduleMu.Unlock()
	if m.schedule != nil {
		m.schedule.Stop()
		m.schedule = nil
	}
}

func (m *Measure) setupCrashReporting(opts Options, processors []attribute.Processor) error {
	dir := filepath.Join(opts.Dir, "crash")
	reporter := opts.CrashReporter
	if reporter == nil {
		panics, err := crash.NewPanicReporter(dir, opts.Clock)
		if err != nil {
			return err
		}
		m.panics = panics
		reporter = panics
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	slot, err := crash.OpenSlot(filepath.Join(dir, "context"), crash.DefaultSlotSize)
	if err != nil {
		return err
	}
	m.slot = slot
	m.crash = crash.NewManager(crash.ManagerOptions{
		Reporter:   reporter,
		Slot:       slot,
		Tracker:    m.events,
		Exits:      m.store,
		Sessions:   m.sessions,
		IDs:        opts.IDs,
		Processors: processors,
		Formatter:  crash.Formatter{BinaryName: filepath.Base(os.Args[0])},
	})
	return nil
}

// background runs f unless shutdown started.
func (m *Measure) background(f func()) {
	m.bgMu.Lock()
	if m.closing {
		m.bgMu.Unlock()
		return
	}
	m.bg.Add(1)
	m.bgMu.Unlock()
	defer m.bg.Done()
	f()
}

func (m *Measure) stopBackground() {
	m.bgMu.Lock()
	m.closing = true
	m.bgMu.Unlock()
	m.bg.Wait()
}

func (m *Measure) refreshCrashContext() {
	if m.crash != nil {
		m.crash.Refresh()
	}
}

// RecoverPanic reports a panic and lets it continue. Defer it at the top
// of main and of every goroutine.
func (m *Measure) RecoverPanic() {
	v := recover()
	if v == nil {
		return
	}
	if m.panics != nil {
		m.panics.Report(v)
	}
	panic(v)
}

func (m *Measure) SessionID() string {
	return m.sessions.CurrentSessionID()
}

func (m *Measure) TrackEvent(name string, attrs map[string]any) error {
	return m.custom.TrackEvent(name, attrs, 0)
}

func (m *Measure) TrackScreenView(name string, attrs map[string]any) error {
	return m.custom.TrackScreenView(name, attrs)
}

// StartSpan starts a span, a child of parent when it isn't nil.
func (m *Measure) StartSpan(name string, parent *Span) *Span {
	if parent != nil {
		return m.spans.Start(name, span.WithParent(parent))
	}
	return m.spans.Start(name)
}

func (m *Measure) SetUserID(id string) {
	m.user.SetUserID(id)
	m.refreshCrashContext()
}

func (m *Measure) ClearUserID() {
	m.user.ClearUserID()
	m.refreshCrashContext()
}

func (m *Measure) OnForeground() { m.lifecycle.OnForeground() }
func (m *Measure) OnBackground() { m.lifecycle.OnBackground() }

func (m *Measure) OnScreen(transition, className string) {
	m.lifecycle.OnScreen(transition, className)
}

func (m *Measure) OnAppVisible()               { m.launch.OnAppVisible() }
func (m *Measure) OnFirstDraw(s LaunchedScreen) { m.launch.OnFirstDraw(s) }

func (m *Measure) TrackTrimMemory(level int) { m.component.OnTrimMemory(level) }
func (m *Measure) TrackLowMemory()           { m.component.OnLowMemory() }

func (m *Measure) OnClick(t Target, x, y float64, down, up int64) {
	m.gesture.OnClick(t, x, y, down, up)
}

func (m *Measure) OnLongClick(t Target, x, y float64, down, up int64) {
	m.gesture.OnLongClick(t, x, y, down, up)
}

func (m *Measure) OnScroll(t Target, x, y, endX, endY float64, down, up int64) {
	m.gesture.OnScroll(t, x, y, endX, endY, down, up)
}

// HTTPTransport wraps rt to record the requests sent through it.
func (m *Measure) HTTPTransport(rt http.RoundTripper) http.RoundTripper {
	return collector.NewHTTP(rt, m.events, m.clock, m.ids, m.config, m.sampler)
}

// StartCollectors starts the periodic CPU and memory collectors.
func (m *Measure) StartCollectors() {
	m.cpu.Register()
	m.memory.Register()
}

func (m *Measure) StopCollectors() {
	m.cpu.Unregister()
	m.memory.Unregister()
}

// UpdateEndpoint switches the backend and credentials.
func (m *Measure) UpdateEndpoint(e Endpoint) {
	m.config.UpdateEndpoint(e.URL, e.APIKey)
}

// Sync exports the sessions that ended.
func (m *Measure) Sync(ctx context.Context) Stats {
	return m.exporter.SyncSessions(ctx)
}

// Shutdown stores the events in flight, exports every session including
// the active one and closes the store.
func (m *Measure) Shutdown(ctx context.Context) error {
	m.StopCollectors()
	m.stopScheduler()
	m.events.Close()
	m.stopBackground()

	m.exporter.SyncSessions(ctx)
	stats := m.exporter.SyncActiveSession(ctx)
	if stats.Failed > 0 {
		log.Info().Msg("active session left for the next start")
	}
	return m.close()
}

func (m *Measure) close() error {
	var errs []error
	if m.crash != nil {
		m.crash.Disable()
	}
	if m.slot != nil {
		errs = append(errs, m.slot.Close())
	}
	if m.events != nil {
		m.events.Close()
	}
	m.stopBackground()
	errs = append(errs, m.store.Close())
	return errors.Join(errs...)
}
