package collector

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/timeutil"
)

// USER_HZ on every Linux architecture Go supports.
const defaultClockSpeedHz = 100

type (
	// ProcStat is the CPU accounting of a process, in clock ticks.
	ProcStat struct {
		UTime     int64
		STime     int64
		CUTime    int64
		CSTime    int64
		StartTime int64
	}

	CPUUsageData struct {
		NumCores        int     `json:"num_cores"`
		ClockSpeed      int64   `json:"clock_speed"`
		StartTime       int64   `json:"start_time"`
		Uptime          int64   `json:"uptime"`
		UTime           int64   `json:"utime"`
		STime           int64   `json:"stime"`
		CUTime          int64   `json:"cutime"`
		CSTime          int64   `json:"cstime"`
		Interval        int64   `json:"interval"`
		PercentageUsage float64 `json:"percentage_usage"`
	}

	CPUUsageOptions struct {
		// ReadStat defaults to reading /proc/self/stat.
		ReadStat     func() (ProcStat, error)
		NumCores     int
		ClockSpeedHz int64
		Interval     func() time.Duration
	}

	// CPUUsage periodically reports the CPU used by the process.
	CPUUsage struct {
		tracker Tracker
		clock   timeutil.Provider
		opts    CPUUsageOptions
		timer   *periodic

		mu       sync.Mutex
		previous *CPUUsageData
	}
)

func NewCPUUsage(tracker Tracker, clock timeutil.Provider, opts CPUUsageOptions) *CPUUsage {
	if opts.ReadStat == nil {
		opts.ReadStat = ReadSelfStat
	}
	if opts.NumCores == 0 {
		opts.NumCores = runtime.NumCPU()
	}
	if opts.ClockSpeedHz == 0 {
		opts.ClockSpeedHz = defaultClockSpeedHz
	}
	if opts.Interval == nil {
		opts.Interval = func() time.Duration { return 3 * time.Second }
	}
	c := &CPUUsage{tracker: tracker, clock: clock, opts: opts}
	c.timer = newPeriodic(opts.Interval, c.collect)
	return c
}

func (c *CPUUsage) Register()   { c.timer.start() }
func (c *CPUUsage) Resume()     { c.timer.start() }
func (c *CPUUsage) Pause()      { c.timer.stop() }
func (c *CPUUsage) Unregister() { c.timer.stop() }

func (c *CPUUsage) collect() {
	stat, err := c.opts.ReadStat()
	if err != nil {
		log.Debug().Err(err).Msg("couldn't read process cpu stats")
		return
	}
	uptime := c.clock.UptimeMs()
	data := CPUUsageData{
		NumCores:   c.opts.NumCores,
		ClockSpeed: c.opts.ClockSpeedHz,
		StartTime:  stat.StartTime,
		Uptime:     uptime,
		UTime:      stat.UTime,
		STime:      stat.STime,
		CUTime:     stat.CUTime,
		CSTime:     stat.CSTime,
	}

	c.mu.Lock()
	if p := c.previous; p != nil {
		data.Interval = uptime - p.Uptime
		data.PercentageUsage = PercentageUsage(data, *p)
	}
	c.previous = &data
	c.mu.Unlock()

	c.tracker.Track(data, c.clock.NowMs(), event.TypeCPUUsage)
}

// PercentageUsage is the share of all cores the process used between two
// readings. It is 0 when the readings can't be compared.
func PercentageUsage(current, previous CPUUsageData) float64 {
	if current.NumCores <= 0 || current.ClockSpeed <= 0 {
		return 0
	}
	elapsed := current.Uptime - previous.Uptime
	if elapsed <= 0 {
		return 0
	}
	total := current.UTime + current.STime + current.CUTime + current.CSTime
	previousTotal := previous.UTime + previous.STime + previous.CUTime + previous.CSTime
	seconds := float64(total-previousTotal) / float64(current.ClockSpeed)
	usage := seconds / (float64(elapsed) / 1000 * float64(current.NumCores)) * 100
	if usage < 0 {
		return 0
	}
	return usage
}

func ReadSelfStat() (ProcStat, error) {
	b, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return ProcStat{}, err
	}
	return ParseProcStat(string(b))
}

// ParseProcStat parses the content of /proc/<pid>/stat.
func ParseProcStat(s string) (ProcStat, error) {
	// The command name can contain spaces, skip past its closing paren.
	end := strings.LastIndex(s, ")")
	if end < 0 {
		return ProcStat{}, errors.New("malformed proc stat")
	}
	fields := strings.Fields(s[end+1:])
	// fields[0] is the state, the third field of the file.
	if len(fields) < 20 {
		return ProcStat{}, fmt.Errorf("proc stat has %d fields", len(fields)+2)
	}
	var stat ProcStat
	for _, f := range []struct {
		dst   *int64
		index int
	}{
		{&stat.UTime, 11},
		{&stat.STime, 12},
		{&stat.CUTime, 13},
		{&stat.CSTime, 14},
		{&stat.StartTime, 19},
	} {
		v, err := strconv.ParseInt(fields[f.index], 10, 64)
		if err != nil {
			return ProcStat{}, fmt.Errorf("parsing proc stat: %w", err)
		}
		*f.dst = v
	}
	return stat, nil
}
