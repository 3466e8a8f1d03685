package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rafflebot/clients"
	"rafflebot/config"
)

// Store is the persistence surface the runner needs: the trade ledger
// plus the active-raffle lookup.
type Store interface {
	RecordStore
	RaffleSource
}

// Runner owns the long-running pieces: the raffle watcher, one detector
// per trade side, the websocket nudge loop, and periodic stats logging.
type Runner struct {
	logger  *zap.Logger
	cfg     *config.Config
	clients *clients.Clients

	watcher  *RaffleWatcher
	buy      *Detector
	sell     *Detector
	verifier *Verifier
}

func NewRunner(logger *zap.Logger, cfg *config.Config, c *clients.Clients, store Store, queue Queue) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher := NewRaffleWatcher(logger, store, c.Notifier, cfg.Raffle.RefreshInterval)
	publisher := NewPublisher(logger, store, queue)
	ticketMath := NewTicketMath(logger)

	chain := NewChainSource(c.Sui)
	var primary, fallback TradeSource
	if c.Indexer != nil {
		primary = NewIndexerSource(c.Indexer)
		fallback = chain
	} else {
		// native RPC only; the failover has nothing to fail over to
		primary = chain
	}

	buyWM := NewWatermark()
	sellWM := NewWatermark()
	watcher.RegisterWatermark(buyWM)
	watcher.RegisterWatermark(sellWM)

	newDetector := func(side Side, wm *Watermark, enforceMin bool) *Detector {
		fo := NewFailover(logger, string(side), primary, fallback,
			cfg.Detector.FailureThreshold, cfg.Detector.ProbeProbability, c.Notifier)
		return NewDetector(logger, DetectorConfig{
			Side:            side,
			PollInterval:    cfg.Detector.PollInterval,
			PageLimit:       cfg.Detector.PageLimit,
			BuyRatio:        cfg.Detector.BuyTicketsPerToken,
			EnforceMinimums: enforceMin,
		}, fo, wm, watcher, publisher, ticketMath, chain, chain)
	}

	return &Runner{
		logger:   logger,
		cfg:      cfg,
		clients:  c,
		watcher:  watcher,
		buy:      newDetector(SideBuy, buyWM, true),
		sell:     newDetector(SideSell, sellWM, false),
		verifier: NewVerifier(logger, c.Sui, watcher, publisher, store, ticketMath, chain, c.Notifier),
	}
}

// VerifySell is the manual reconciliation entry point: refresh the
// active raffle, then verify one transaction against the ledger.
func (r *Runner) VerifySell(ctx context.Context, digest string) (int64, error) {
	r.watcher.RefreshOnce(ctx)
	return r.verifier.VerifySell(ctx, digest)
}

// Run starts all loops and blocks until the context is cancelled or one
// of them fails.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.watcher.Run(ctx) })
	g.Go(func() error { return r.buy.Run(ctx) })
	g.Go(func() error { return r.sell.Run(ctx) })
	g.Go(func() error { return r.statsLoop(ctx) })
	if r.clients.ChainEvents != nil {
		g.Go(func() error { return r.nudgeLoop(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// nudgeLoop keeps a websocket subscription on the watched token's module
// and converts its notifications into detector nudges. The subscription
// is best effort; polling covers any gap, so connection errors just back
// off and retry.
func (r *Runner) nudgeLoop(ctx context.Context) error {
	events := r.clients.ChainEvents

	var connectedCoin string
	retry := time.NewTicker(5 * time.Second)
	defer retry.Stop()

	for {
		raffle := r.watcher.Current()
		if raffle != nil && raffle.CoinType != connectedCoin {
			if connectedCoin != "" {
				events.Close()
			}
			if err := events.Connect(ctx, raffle.CoinType); err != nil {
				r.logger.Warn("event subscription failed", zap.Error(err))
				connectedCoin = ""
			} else {
				connectedCoin = raffle.CoinType
				r.logger.Info("event subscription established", zap.String("coinType", connectedCoin))
			}
		}

		select {
		case <-ctx.Done():
			events.Close()
			return ctx.Err()
		case <-events.Nudges():
			r.buy.Nudge()
			r.sell.Nudge()
		case err := <-events.Errors():
			r.logger.Warn("event subscription dropped", zap.Error(err))
			events.Close()
			connectedCoin = ""
		case <-retry.C:
		}
	}
}

func (r *Runner) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			buyProcessed, buyDropped := r.buy.Stats()
			sellProcessed, sellDropped := r.sell.Stats()
			r.logger.Info("detector stats",
				zap.String("buyState", r.buy.State().String()),
				zap.Int64("buyProcessed", buyProcessed),
				zap.Int64("buyDropped", buyDropped),
				zap.String("sellState", r.sell.State().String()),
				zap.Int64("sellProcessed", sellProcessed),
				zap.Int64("sellDropped", sellDropped))
		}
	}
}
