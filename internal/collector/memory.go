package collector

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/timeutil"
)

type (
	// MemoryUsageData sizes are in kilobytes.
	MemoryUsageData struct {
		MaxHeap   uint64 `json:"max_heap"`
		TotalHeap uint64 `json:"total_heap"`
		FreeHeap  uint64 `json:"free_heap"`
		HeapInUse uint64 `json:"heap_in_use"`
		StackUsed uint64 `json:"stack_in_use"`
		Sys       uint64 `json:"sys"`
		RSS       uint64 `json:"rss,omitempty"`
		NumGC     uint32 `json:"num_gc"`
		Interval  int64  `json:"interval"`
	}

	MemoryUsageOptions struct {
		// ReadMemStats defaults to runtime.ReadMemStats.
		ReadMemStats func(*runtime.MemStats)
		// ReadRSS returns the resident set in kilobytes, 0 when unknown.
		ReadRSS  func() uint64
		Interval func() time.Duration
	}

	MemoryUsage struct {
		tracker Tracker
		clock   timeutil.Provider
		opts    MemoryUsageOptions
		timer   *periodic

		mu           sync.Mutex
		lastUptime   int64
		hasCollected bool
	}
)

func NewMemoryUsage(tracker Tracker, clock timeutil.Provider, opts MemoryUsageOptions) *MemoryUsage {
	if opts.ReadMemStats == nil {
		opts.ReadMemStats = runtime.ReadMemStats
	}
	if opts.ReadRSS == nil {
		opts.ReadRSS = readRSS
	}
	if opts.Interval == nil {
		opts.Interval = func() time.Duration { return 2 * time.Second }
	}
	m := &MemoryUsage{tracker: tracker, clock: clock, opts: opts}
	m.timer = newPeriodic(opts.Interval, m.collect)
	return m
}

func (m *MemoryUsage) Register()   { m.timer.start() }
func (m *MemoryUsage) Resume()     { m.timer.start() }
func (m *MemoryUsage) Pause()      { m.timer.stop() }
func (m *MemoryUsage) Unregister() { m.timer.stop() }

func (m *MemoryUsage) collect() {
	var stats runtime.MemStats
	m.opts.ReadMemStats(&stats)
	uptime := m.clock.UptimeMs()

	m.mu.Lock()
	var interval int64
	if m.hasCollected {
		interval = uptime - m.lastUptime
	}
	m.lastUptime = uptime
	m.hasCollected = true
	m.mu.Unlock()

	m.tracker.Track(MemoryUsageData{
		MaxHeap:   stats.HeapSys / 1024,
		TotalHeap: (stats.HeapSys - stats.HeapReleased) / 1024,
		FreeHeap:  (stats.HeapIdle - stats.HeapReleased) / 1024,
		HeapInUse: stats.HeapInuse / 1024,
		StackUsed: stats.StackInuse / 1024,
		Sys:       stats.Sys / 1024,
		RSS:       m.opts.ReadRSS(),
		NumGC:     stats.NumGC,
		Interval:  interval,
	}, m.clock.NowMs(), event.TypeMemoryUsage)
}

// readRSS reads the resident pages from /proc/self/statm.
func readRSS() uint64 {
	b, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(b))
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return pages * uint64(os.Getpagesize()) / 1024
}
