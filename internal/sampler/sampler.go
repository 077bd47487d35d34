package sampler

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

type Kind string

const (
	KindTrace   Kind = "trace"
	KindHTTP    Kind = "http"
	KindLaunch  Kind = "launch"
	KindJourney Kind = "journey"
)

// Rates is the subset of the config provider the sampler reads. Rates are
// percentages in [0, 100].
type Rates interface {
	TraceSamplingRate() float64
	HTTPSamplingRate() float64
	ColdLaunchSamplingRate() float64
	WarmLaunchSamplingRate() float64
	HotLaunchSamplingRate() float64
	JourneySamplingRate() float64
	EnableFullCollectionMode() bool
}

// Sampler makes deterministic sampling decisions: the same kind, key and
// rate always give the same answer.
type Sampler struct {
	rates Rates
}

func New(rates Rates) *Sampler {
	return &Sampler{rates: rates}
}

// ShouldSample hashes key into [0, 1) and compares it to rate/100.
func ShouldSample(kind Kind, key string, rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 100 {
		return true
	}
	h := xxhash.Sum64String(string(kind) + "|" + key)
	return float64(h)/math.Exp2(64) < rate/100
}

func (s *Sampler) ShouldSample(kind Kind, key string) bool {
	if kind != KindJourney && s.rates.EnableFullCollectionMode() {
		return true
	}
	return ShouldSample(kind, key, s.rate(kind, key))
}

func (s *Sampler) rate(kind Kind, key string) float64 {
	switch kind {
	case KindTrace:
		return s.rates.TraceSamplingRate()
	case KindHTTP:
		return s.rates.HTTPSamplingRate()
	case KindJourney:
		return s.rates.JourneySamplingRate()
	case KindLaunch:
		switch key {
		case "cold":
			return s.rates.ColdLaunchSamplingRate()
		case "warm":
			return s.rates.WarmLaunchSamplingRate()
		case "hot":
			return s.rates.HotLaunchSamplingRate()
		}
	}
	return 0
}

func (s *Sampler) ShouldSampleTrace(traceID string) bool {
	return s.ShouldSample(KindTrace, traceID)
}

func (s *Sampler) ShouldTrackHttp(key string) bool {
	return s.ShouldSample(KindHTTP, key)
}

// ShouldTrackLaunch samples launches per launch type ("cold", "warm", "hot").
// Launch decisions are random per launch, so the key is the launch type
// combined with a per-launch id.
func (s *Sampler) ShouldTrackLaunch(launchType, launchID string) bool {
	if s.rates.EnableFullCollectionMode() {
		return true
	}
	return ShouldSample(KindLaunch, launchType+"|"+launchID, s.rate(KindLaunch, launchType))
}

func (s *Sampler) ShouldTrackJourneyForSession(sessionID string) bool {
	return s.ShouldSample(KindJourney, sessionID)
}
