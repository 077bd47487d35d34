package collector

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/errorutil"
	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/timeutil"
)

type (
	EventNameLimits interface {
		MaxEventNameLength() int
		CustomEventNameRegex() string
	}

	CustomEventData struct {
		Name string `json:"name"`
	}

	ScreenViewData struct {
		Name string `json:"name"`
	}

	// Custom tracks events reported by the app itself.
	Custom struct {
		tracker Tracker
		clock   timeutil.Provider
		limits  EventNameLimits

		mu      sync.Mutex
		pattern string
		re      *regexp.Regexp
	}
)

func NewCustom(tracker Tracker, clock timeutil.Provider, limits EventNameLimits) *Custom {
	return &Custom{tracker: tracker, clock: clock, limits: limits}
}

// TrackEvent tracks a custom event. A timestamp of 0 means now. Invalid
// names are dropped.
func (c *Custom) TrackEvent(name string, attrs map[string]any, timestamp int64) error {
	err := c.validate(name)
	if err != nil {
		log.Warn().Err(err).Str("name", name).Msg("dropping custom event")
		return err
	}
	if timestamp == 0 {
		timestamp = c.clock.NowMs()
	}
	var opts []event.Option
	if len(attrs) > 0 {
		opts = append(opts, event.WithUserDefinedAttributes(attrs))
	}
	c.tracker.TrackUserTriggered(CustomEventData{Name: name}, timestamp, event.TypeCustom, opts...)
	return nil
}

func (c *Custom) TrackScreenView(name string, attrs map[string]any) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: blank screen name", errorutil.ErrValidation)
	}
	var opts []event.Option
	if len(attrs) > 0 {
		opts = append(opts, event.WithUserDefinedAttributes(attrs))
	}
	c.tracker.TrackUserTriggered(ScreenViewData{Name: name}, c.clock.NowMs(), event.TypeScreenView, opts...)
	return nil
}

func (c *Custom) validate(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: blank event name", errorutil.ErrValidation)
	}
	if limit := c.limits.MaxEventNameLength(); limit > 0 && len(name) > limit {
		return fmt.Errorf("%w: event name longer than %d", errorutil.ErrValidation, limit)
	}
	re, err := c.regexp()
	if err != nil {
		return err
	}
	if re != nil && !re.MatchString(name) {
		return fmt.Errorf("%w: event name doesn't match %s", errorutil.ErrValidation, re)
	}
	return nil
}

// regexp compiles the configured pattern, again only when it changed.
func (c *Custom) regexp() (*regexp.Regexp, error) {
	pattern := c.limits.CustomEventNameRegex()
	c.mu.Lock()
	defer c.mu.Unlock()
	if pattern == c.pattern {
		return c.re, nil
	}
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid custom event name pattern: %w", err)
		}
	}
	c.pattern = pattern
	c.re = re
	return re, nil
}
