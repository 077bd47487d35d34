package collector

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// periodic runs fn right away and then every interval until paused.
// Every method is idempotent.
type periodic struct {
	mu       sync.Mutex
	interval func() time.Duration
	fn       func()
	cron     *cron.Cron
}

func newPeriodic(interval func() time.Duration, fn func()) *periodic {
	return &periodic{interval: interval, fn: fn}
}

func (p *periodic) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return
	}
	p.fn()
	p.cron = cron.New()
	p.cron.Schedule(cron.Every(p.interval()), cron.FuncJob(p.fn))
	p.cron.Start()
}

func (p *periodic) stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (p *periodic) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cron != nil
}
