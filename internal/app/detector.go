package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DetectorState is the lifecycle phase of a trade detector.
type DetectorState int32

const (
	StateStopped DetectorState = iota
	StateInitializing
	StateSteady
)

func (s DetectorState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateSteady:
		return "STEADY"
	default:
		return "STOPPED"
	}
}

const defaultDecimals = 9

// DetectorConfig carries the per-detector knobs.
type DetectorConfig struct {
	Side            Side
	PollInterval    time.Duration
	PageLimit       int
	BuyRatio        string // tickets per token for buys; sells use the raffle's ratio
	EnforceMinimums bool   // minimum purchase applies to buys only
}

// Detector is one side of the trade pipeline: it polls the active source,
// normalizes what comes back, filters to its side, and publishes ticket
// deltas. On startup (and after any source or raffle switch) it first
// seeds its watermark from the current page so pre-existing trades are
// never counted retroactively.
type Detector struct {
	logger    *zap.Logger
	cfg       DetectorConfig
	failover  *Failover
	watermark *Watermark
	watcher   *RaffleWatcher
	publisher *Publisher
	math      *TicketMath
	senders   SenderResolver
	decimals  DecimalsResolver
	now       func() time.Time

	nudgeCh chan struct{}

	mu            sync.Mutex
	state         DetectorState
	coinType      string
	decimalsCache map[string]int
	processed     int64
	dropped       int64
}

func NewDetector(
	logger *zap.Logger,
	cfg DetectorConfig,
	failover *Failover,
	watermark *Watermark,
	watcher *RaffleWatcher,
	publisher *Publisher,
	math *TicketMath,
	senders SenderResolver,
	decimals DecimalsResolver,
) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 50
	}
	d := &Detector{
		logger:        logger.With(zap.String("detector", string(cfg.Side))),
		cfg:           cfg,
		failover:      failover,
		watermark:     watermark,
		watcher:       watcher,
		publisher:     publisher,
		math:          math,
		senders:       senders,
		decimals:      decimals,
		now:           time.Now,
		nudgeCh:       make(chan struct{}, 1),
		state:         StateInitializing,
		decimalsCache: make(map[string]int),
	}
	failover.SetOnSwitch(d.resetForSwitch)
	return d
}

// Nudge requests an immediate tick, coalescing with any pending nudge.
// Called when the websocket feed sees activity on the watched module.
func (d *Detector) Nudge() {
	select {
	case d.nudgeCh <- struct{}{}:
	default:
	}
}

// State returns the current lifecycle phase.
func (d *Detector) State() DetectorState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns processed and dropped counters for periodic logging.
func (d *Detector) Stats() (processed, dropped int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processed, d.dropped
}

// Run ticks on the poll interval (or earlier on a nudge) until the
// context is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info("detector starting", zap.Duration("pollInterval", d.cfg.PollInterval))

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			d.setState(StateStopped)
			return ctx.Err()
		case <-ticker.C:
			d.tick(ctx)
		case <-d.nudgeCh:
			d.tick(ctx)
		}
	}
}

// resetForSwitch discards watermark state after a source switch so the
// next tick re-seeds against whatever the new source reports.
func (d *Detector) resetForSwitch() {
	d.watermark.Reset()
	d.setState(StateInitializing)
}

func (d *Detector) setState(s DetectorState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Detector) tick(ctx context.Context) {
	raffle := d.watcher.Current()
	if raffle == nil {
		d.logger.Debug("no active raffle, skipping tick")
		return
	}

	d.mu.Lock()
	switched := d.coinType != "" && d.coinType != raffle.CoinType
	d.coinType = raffle.CoinType
	if switched {
		d.state = StateInitializing
		d.decimalsCache = make(map[string]int)
	}
	state := d.state
	d.mu.Unlock()
	if switched {
		// the old token's floor, seen keys and cursor mean nothing for
		// the new token and a skewed old timestamp would block it
		d.watermark.Reset()
	}

	if state == StateInitializing {
		d.initialize(ctx, raffle)
		return
	}
	d.processTick(ctx, raffle)
}

// initialize seeds the watermark from the newest page so the steady loop
// only ever publishes trades that happen after startup. A fetch failure
// or empty page still seeds a "now" floor; waiting for a clean page would
// risk counting history once the source recovers.
func (d *Detector) initialize(ctx context.Context, raffle *ActiveRaffle) {
	source, probing := d.failover.Pick()
	records, cursor, err := source.FetchSince(ctx, raffle.CoinType, "", d.cfg.PageLimit)
	if err != nil {
		d.failover.ReportFailure(probing, err)
		d.watermark.SeedFloor(d.now().UnixMilli())
		d.setState(StateSteady)
		d.logger.Warn("initialization fetch failed, seeded floor at now", zap.Error(err))
		return
	}
	d.failover.ReportSuccess(probing)

	trades := NewNormalizer(d.logger, raffle.CoinType).Normalize(records)
	seeded := 0
	for _, t := range trades {
		if t.Side != d.cfg.Side {
			continue
		}
		d.watermark.Seed(t.EventKey, t.TimestampMillis)
		seeded++
	}
	if seeded == 0 {
		d.watermark.SeedFloor(d.now().UnixMilli())
	}
	d.watermark.SetCursor(cursor)
	d.setState(StateSteady)

	d.logger.Info("detector initialized",
		zap.String("source", source.Name()),
		zap.String("coinType", raffle.CoinType),
		zap.Int("seeded", seeded))
}

func (d *Detector) processTick(ctx context.Context, raffle *ActiveRaffle) {
	source, probing := d.failover.Pick()
	records, cursor, err := source.FetchSince(ctx, raffle.CoinType, d.watermark.Cursor(), d.cfg.PageLimit)
	if err != nil {
		d.failover.ReportFailure(probing, err)
		return
	}
	d.failover.ReportSuccess(probing)
	if probing {
		// a successful probe recovered the primary and reset this
		// detector; the page only informs the next initialization
		return
	}

	trades := NewNormalizer(d.logger, raffle.CoinType).Normalize(records)
	for _, t := range trades {
		if t.Side != d.cfg.Side {
			continue
		}
		if !d.watermark.ShouldProcess(t.EventKey, t.TimestampMillis) {
			continue
		}
		if d.handleTrade(ctx, raffle, t) {
			d.watermark.MarkProcessed(t.EventKey, t.TimestampMillis)
		}
	}
	if cursor != "" {
		d.watermark.SetCursor(cursor)
	}
}

// handleTrade prices and publishes one trade. The return value says
// whether the event is settled: intentional drops settle, but a
// persistence failure does not, so the event stays unmarked and can
// retry if it reappears before the watermark passes it.
func (d *Detector) handleTrade(ctx context.Context, raffle *ActiveRaffle, t Trade) bool {
	if t.Wallet == "" {
		wallet, err := d.resolveWallet(ctx, t.TxDigest)
		if err != nil || wallet == "" {
			d.logger.Warn("dropping trade with unresolvable wallet",
				zap.String("digest", shortID(t.TxDigest)),
				zap.Error(err))
			d.countDropped()
			return true
		}
		t.Wallet = wallet
	}

	if t.Decimals < 0 {
		t.Decimals = d.resolveDecimals(ctx, t.CoinType)
	}

	if d.cfg.EnforceMinimums && raffle.MinPurchase != "" {
		if !d.math.MeetsMinimum(t.AmountRaw, t.Decimals, raffle.MinPurchase) {
			d.logger.Debug("trade below minimum purchase",
				zap.String("wallet", shortID(t.Wallet)),
				zap.String("amount", FormatBaseUnits(t.AmountRaw, t.Decimals)))
			d.countDropped()
			return true
		}
	}

	ratio := d.cfg.BuyRatio
	if d.cfg.Side == SideSell {
		ratio = raffle.TicketsPerToken
	}
	tickets := d.math.Tickets(t.AmountRaw, t.Decimals, ratio)
	if d.cfg.Side == SideSell {
		tickets = -tickets
	}

	published, err := d.publisher.Publish(ctx, t, raffle.ID, tickets)
	if err != nil {
		d.logger.Error("publish failed",
			zap.String("eventKey", t.EventKey),
			zap.Error(err))
		d.countDropped()
		return false
	}
	if published {
		d.mu.Lock()
		d.processed++
		d.mu.Unlock()
	}
	return true
}

func (d *Detector) resolveWallet(ctx context.Context, digest string) (string, error) {
	if d.senders == nil {
		return "", errors.New("no sender resolver configured")
	}
	return d.senders.ResolveTransactionSender(ctx, digest)
}

// resolveDecimals looks up coin precision, caching per coin type. A
// lookup failure falls back to the network default of 9 with a warning;
// a wrong guess here miscounts tickets, so the warning matters.
func (d *Detector) resolveDecimals(ctx context.Context, coinType string) int {
	d.mu.Lock()
	if dec, ok := d.decimalsCache[coinType]; ok {
		d.mu.Unlock()
		return dec
	}
	d.mu.Unlock()

	dec := defaultDecimals
	if d.decimals != nil {
		resolved, err := d.decimals.ResolveDecimals(ctx, coinType)
		if err != nil {
			d.logger.Warn("decimals lookup failed, assuming default",
				zap.String("coinType", coinType),
				zap.Int("assumed", defaultDecimals),
				zap.Error(err))
		} else {
			dec = resolved
		}
	}

	d.mu.Lock()
	d.decimalsCache[coinType] = dec
	d.mu.Unlock()
	return dec
}

func (d *Detector) countDropped() {
	d.mu.Lock()
	d.dropped++
	d.mu.Unlock()
}
