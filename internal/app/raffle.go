package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"rafflebot/clients/notifier"
)

// ActiveRaffle is the raffle currently accepting entries.
type ActiveRaffle struct {
	ID              int64
	CoinType        string
	MinPurchase     string // whole tokens, decimal string; "" means no minimum
	TicketsPerToken string // sell-side ratio, decimal string
}

// RaffleSource provides the active raffle. Implemented by the postgres
// store.
type RaffleSource interface {
	ActiveRaffle(ctx context.Context) (*ActiveRaffle, error)
}

// RaffleWatcher polls the raffle source and caches the result so the
// detectors never block a tick on the database. A change of the active
// raffle resets all registered watermarks.
type RaffleWatcher struct {
	logger   *zap.Logger
	source   RaffleSource
	notifier notifier.Notifier
	interval time.Duration

	mu      sync.Mutex
	current *ActiveRaffle

	watermarks []*Watermark
}

func NewRaffleWatcher(logger *zap.Logger, source RaffleSource, n notifier.Notifier, interval time.Duration) *RaffleWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RaffleWatcher{
		logger:   logger,
		source:   source,
		notifier: n,
		interval: interval,
	}
}

// RegisterWatermark adds a watermark to reset when the raffle changes.
// Must be called before Run.
func (rw *RaffleWatcher) RegisterWatermark(w *Watermark) {
	rw.watermarks = append(rw.watermarks, w)
}

// Current returns the cached active raffle, or nil when none is known yet.
func (rw *RaffleWatcher) Current() *ActiveRaffle {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.current
}

// RefreshOnce forces a synchronous refresh, used by one-shot commands
// that cannot wait for the polling loop.
func (rw *RaffleWatcher) RefreshOnce(ctx context.Context) {
	rw.refresh(ctx)
}

// Run refreshes immediately and then on the configured interval until the
// context is cancelled.
func (rw *RaffleWatcher) Run(ctx context.Context) error {
	rw.refresh(ctx)

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rw.refresh(ctx)
		}
	}
}

func (rw *RaffleWatcher) refresh(ctx context.Context) {
	raffle, err := rw.source.ActiveRaffle(ctx)
	if err != nil {
		// keep the previous raffle; a transient db error must not stall
		// detectors that already have a coin type to watch
		rw.logger.Warn("failed to refresh active raffle", zap.Error(err))
		return
	}

	rw.mu.Lock()
	prev := rw.current
	rw.current = raffle
	rw.mu.Unlock()

	switch {
	case raffle == nil && prev != nil:
		rw.logger.Info("active raffle ended", zap.Int64("raffleID", prev.ID))
		rw.resetWatermarks()
	case raffle != nil && prev == nil:
		rw.logger.Info("raffle activated",
			zap.Int64("raffleID", raffle.ID),
			zap.String("coinType", raffle.CoinType))
		rw.resetWatermarks()
		rw.notify(notifier.EventRaffleActivated, raffle)
	case raffle != nil && prev != nil && (raffle.ID != prev.ID || raffle.CoinType != prev.CoinType):
		// a new coin type on the same row is still a different token and
		// needs the same cold start
		rw.logger.Info("active raffle switched",
			zap.Int64("previousID", prev.ID),
			zap.Int64("raffleID", raffle.ID),
			zap.String("coinType", raffle.CoinType))
		rw.resetWatermarks()
		rw.notify(notifier.EventRaffleSwitched, raffle)
	}
}

func (rw *RaffleWatcher) resetWatermarks() {
	for _, w := range rw.watermarks {
		w.Reset()
	}
}

func (rw *RaffleWatcher) notify(kind notifier.EventKind, raffle *ActiveRaffle) {
	if rw.notifier == nil {
		return
	}
	rw.notifier.SendOpsEvent(notifier.OpsEvent{
		Kind:      kind,
		RaffleID:  raffle.ID,
		CoinType:  raffle.CoinType,
		Timestamp: time.Now(),
	})
}
