package app

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"rafflebot/clients/notifier"
)

// Failover is the circuit breaker between the primary trade source and its
// fallback. Consecutive primary failures past the threshold flip traffic
// to the fallback; while on the fallback, a fraction of ticks probe the
// primary, and a successful probe flips back. Every flip triggers the
// onSwitch callback so the owning detector can discard watermark state
// and re-initialize against the new source.
type Failover struct {
	logger   *zap.Logger
	detector string
	primary  TradeSource
	fallback TradeSource // nil disables failover entirely

	threshold int
	probeProb float64
	rng       *rand.Rand
	notifier  notifier.Notifier
	onSwitch  func()

	mu             sync.Mutex
	failures       int
	fallbackActive bool
}

func NewFailover(logger *zap.Logger, detector string, primary, fallback TradeSource, threshold int, probeProb float64, n notifier.Notifier) *Failover {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = 3
	}
	if probeProb <= 0 || probeProb > 1 {
		probeProb = 0.10
	}
	return &Failover{
		logger:    logger,
		detector:  detector,
		primary:   primary,
		fallback:  fallback,
		threshold: threshold,
		probeProb: probeProb,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		notifier:  n,
	}
}

// SetOnSwitch registers the callback invoked (outside the lock) whenever
// the active source changes in either direction. Must be set before use.
func (f *Failover) SetOnSwitch(fn func()) {
	f.onSwitch = fn
}

// Pick chooses the source for one tick. probing is true when the pick is
// a primary health probe taken while the fallback is active; a probe
// failure does not count against either source.
func (f *Failover) Pick() (source TradeSource, probing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.fallbackActive || f.fallback == nil {
		return f.primary, false
	}
	if f.rng.Float64() < f.probeProb {
		return f.primary, true
	}
	return f.fallback, false
}

// ReportSuccess records a successful fetch from the picked source.
func (f *Failover) ReportSuccess(probing bool) {
	f.mu.Lock()
	if !f.fallbackActive {
		f.failures = 0
		f.mu.Unlock()
		return
	}
	if !probing {
		f.mu.Unlock()
		return
	}

	f.fallbackActive = false
	f.failures = 0
	f.mu.Unlock()

	f.logger.Info("primary source recovered",
		zap.String("detector", f.detector),
		zap.String("source", f.primary.Name()))
	f.notify(notifier.EventFailoverRecovered, f.primary.Name(), "", 0)
	if f.onSwitch != nil {
		f.onSwitch()
	}
}

// ReportFailure records a failed fetch from the picked source.
func (f *Failover) ReportFailure(probing bool, err error) {
	f.mu.Lock()
	if probing {
		// primary still down, stay on the fallback
		f.mu.Unlock()
		f.logger.Debug("primary probe failed", zap.String("detector", f.detector), zap.Error(err))
		return
	}
	if f.fallbackActive {
		f.mu.Unlock()
		f.logger.Warn("fallback source failing",
			zap.String("detector", f.detector),
			zap.String("source", f.fallback.Name()),
			zap.Error(err))
		return
	}

	f.failures++
	failures := f.failures
	engage := f.fallback != nil && failures >= f.threshold
	if engage {
		f.fallbackActive = true
		f.failures = 0
	}
	f.mu.Unlock()

	if !engage {
		f.logger.Warn("primary source failure",
			zap.String("detector", f.detector),
			zap.Int("consecutive", failures),
			zap.Error(err))
		return
	}

	f.logger.Warn("failover engaged",
		zap.String("detector", f.detector),
		zap.String("failed", f.primary.Name()),
		zap.String("active", f.fallback.Name()),
		zap.Int("failures", failures))
	f.notify(notifier.EventFailoverEngaged, f.fallback.Name(), f.primary.Name(), failures)
	if f.onSwitch != nil {
		f.onSwitch()
	}
}

// FallbackActive reports whether traffic is currently on the fallback.
func (f *Failover) FallbackActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fallbackActive
}

func (f *Failover) notify(kind notifier.EventKind, active, failed string, failures int) {
	if f.notifier == nil {
		return
	}
	f.notifier.SendOpsEvent(notifier.OpsEvent{
		Kind:         kind,
		Detector:     f.detector,
		ActiveSource: active,
		FailedSource: failed,
		Failures:     failures,
		Timestamp:    time.Now(),
	})
}
