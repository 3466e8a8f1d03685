package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TradeRecord is the durable ledger entry for one processed trade.
type TradeRecord struct {
	ID        string
	EventKey  string
	RaffleID  int64
	TxDigest  string
	Wallet    string
	Side      Side
	AmountRaw string
	CoinType  string
	Decimals  int
	Tickets   int64 // signed; negative for sells
	CreatedAt time.Time
}

// TicketJob is the downstream unit of work: apply a signed ticket
// adjustment to a wallet's balance.
type TicketJob struct {
	ID       string `json:"id"`
	RaffleID int64  `json:"raffleId"`
	Wallet   string `json:"wallet"`
	Tickets  int64  `json:"tickets"`
	EventKey string `json:"eventKey"`
	Reason   string `json:"reason"` // "trade" or "reconcile"
}

// RecordStore is the trade ledger. FindByEventKey returns (nil, nil) when
// no record exists.
type RecordStore interface {
	FindByEventKey(ctx context.Context, eventKey string) (*TradeRecord, error)
	CreateTradeRecord(ctx context.Context, record *TradeRecord) error
	UpdateTradeTickets(ctx context.Context, id string, tickets int64) error
}

// Queue hands ticket jobs to the downstream worker.
type Queue interface {
	Enqueue(ctx context.Context, job TicketJob) error
}

// Publisher writes ledger records and emits ticket jobs, at most one job
// per event key. The record is created before the job is enqueued: a
// crash between the two loses the job but never double-counts, and the
// reconcile path can repair the balance later.
type Publisher struct {
	logger *zap.Logger
	store  RecordStore
	queue  Queue
}

func NewPublisher(logger *zap.Logger, store RecordStore, queue Queue) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger, store: store, queue: queue}
}

// Publish records a trade and enqueues its ticket adjustment. A trade
// whose event key already has a record is dropped as a duplicate.
// Returns whether the trade was newly published.
func (p *Publisher) Publish(ctx context.Context, trade Trade, raffleID int64, tickets int64) (bool, error) {
	existing, err := p.store.FindByEventKey(ctx, trade.EventKey)
	if err != nil {
		return false, fmt.Errorf("lookup event key: %w", err)
	}
	if existing != nil {
		p.logger.Debug("duplicate trade dropped",
			zap.String("eventKey", trade.EventKey),
			zap.String("digest", shortID(trade.TxDigest)))
		return false, nil
	}

	record := &TradeRecord{
		ID:        uuid.NewString(),
		EventKey:  trade.EventKey,
		RaffleID:  raffleID,
		TxDigest:  trade.TxDigest,
		Wallet:    trade.Wallet,
		Side:      trade.Side,
		AmountRaw: trade.AmountRaw,
		CoinType:  trade.CoinType,
		Decimals:  trade.Decimals,
		Tickets:   tickets,
		CreatedAt: time.Now(),
	}
	if err := p.store.CreateTradeRecord(ctx, record); err != nil {
		return false, fmt.Errorf("create trade record: %w", err)
	}

	if tickets != 0 {
		job := TicketJob{
			ID:       record.ID,
			RaffleID: raffleID,
			Wallet:   trade.Wallet,
			Tickets:  tickets,
			EventKey: trade.EventKey,
			Reason:   "trade",
		}
		if err := p.queue.Enqueue(ctx, job); err != nil {
			// the record exists, so retrying here would risk a second job;
			// the gap is visible in the ledger and repairable by reconcile
			p.logger.Error("ticket job enqueue failed after record create",
				zap.String("eventKey", trade.EventKey),
				zap.Error(err))
			return true, nil
		}
	}

	p.logger.Info("trade published",
		zap.String("side", string(trade.Side)),
		zap.String("wallet", shortID(trade.Wallet)),
		zap.String("amount", FormatBaseUnits(trade.AmountRaw, trade.Decimals)),
		zap.Int64("tickets", tickets),
		zap.String("digest", shortID(trade.TxDigest)))
	return true, nil
}

// Reconcile adjusts an existing record to a corrected ticket count and
// enqueues only the signed difference. A no-op when the counts already
// match.
func (p *Publisher) Reconcile(ctx context.Context, record *TradeRecord, correctedTickets int64) (int64, error) {
	delta := correctedTickets - record.Tickets
	if delta == 0 {
		return 0, nil
	}

	if err := p.store.UpdateTradeTickets(ctx, record.ID, correctedTickets); err != nil {
		return 0, fmt.Errorf("update trade record: %w", err)
	}

	job := TicketJob{
		ID:       uuid.NewString(),
		RaffleID: record.RaffleID,
		Wallet:   record.Wallet,
		Tickets:  delta,
		EventKey: record.EventKey,
		Reason:   "reconcile",
	}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		p.logger.Error("reconcile job enqueue failed after record update",
			zap.String("eventKey", record.EventKey),
			zap.Error(err))
		return delta, nil
	}

	p.logger.Info("trade reconciled",
		zap.String("eventKey", record.EventKey),
		zap.Int64("previousTickets", record.Tickets),
		zap.Int64("correctedTickets", correctedTickets),
		zap.Int64("delta", delta))
	return delta, nil
}
