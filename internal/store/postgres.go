package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"rafflebot/config"
	"rafflebot/internal/app"
)

// Store is the Postgres persistence layer: raffle configuration, the
// trade ledger, ticket balances, and the processed-job set that makes
// ticket adjustments idempotent.
type Store struct {
	logger *zap.Logger
	pool   *pgxpool.Pool
}

func NewStore(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.Database.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.Database.MinConns)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connected")
	return &Store{logger: logger, pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS raffles (
	id                BIGSERIAL PRIMARY KEY,
	coin_type         TEXT NOT NULL,
	min_purchase      TEXT NOT NULL DEFAULT '',
	tickets_per_token TEXT NOT NULL DEFAULT '1',
	active            BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trade_records (
	id         UUID PRIMARY KEY,
	event_key  TEXT NOT NULL UNIQUE,
	raffle_id  BIGINT NOT NULL,
	tx_digest  TEXT NOT NULL,
	wallet     TEXT NOT NULL,
	side       TEXT NOT NULL,
	amount_raw TEXT NOT NULL,
	coin_type  TEXT NOT NULL,
	decimals   INT NOT NULL,
	tickets    BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trade_records_raffle_wallet
	ON trade_records (raffle_id, wallet);

CREATE TABLE IF NOT EXISTS ticket_balances (
	raffle_id  BIGINT NOT NULL,
	wallet     TEXT NOT NULL,
	balance    BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (raffle_id, wallet)
);

CREATE TABLE IF NOT EXISTS processed_jobs (
	job_id       UUID PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ActiveRaffle returns the newest active raffle, or (nil, nil) when no
// raffle is active. Implements app.RaffleSource.
func (s *Store) ActiveRaffle(ctx context.Context) (*app.ActiveRaffle, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, coin_type, min_purchase, tickets_per_token
		FROM raffles
		WHERE active
		ORDER BY id DESC
		LIMIT 1`)

	var r app.ActiveRaffle
	err := row.Scan(&r.ID, &r.CoinType, &r.MinPurchase, &r.TicketsPerToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active raffle: %w", err)
	}
	return &r, nil
}

// FindByEventKey returns the ledger record for an event key, or
// (nil, nil) when none exists. Implements app.RecordStore.
func (s *Store) FindByEventKey(ctx context.Context, eventKey string) (*app.TradeRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, event_key, raffle_id, tx_digest, wallet, side,
		       amount_raw, coin_type, decimals, tickets, created_at
		FROM trade_records
		WHERE event_key = $1`, eventKey)

	var rec app.TradeRecord
	err := row.Scan(&rec.ID, &rec.EventKey, &rec.RaffleID, &rec.TxDigest,
		&rec.Wallet, &rec.Side, &rec.AmountRaw, &rec.CoinType,
		&rec.Decimals, &rec.Tickets, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query trade record: %w", err)
	}
	return &rec, nil
}

// CreateTradeRecord inserts a new ledger record.
func (s *Store) CreateTradeRecord(ctx context.Context, rec *app.TradeRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_records
			(id, event_key, raffle_id, tx_digest, wallet, side,
			 amount_raw, coin_type, decimals, tickets, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.EventKey, rec.RaffleID, rec.TxDigest, rec.Wallet,
		string(rec.Side), rec.AmountRaw, rec.CoinType, rec.Decimals,
		rec.Tickets, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trade record: %w", err)
	}
	return nil
}

// UpdateTradeTickets rewrites the ticket count of an existing record,
// used by reconciliation.
func (s *Store) UpdateTradeTickets(ctx context.Context, id string, tickets int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trade_records SET tickets = $2 WHERE id = $1`, id, tickets)
	if err != nil {
		return fmt.Errorf("update trade record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade record %s not found", id)
	}
	return nil
}

// AdjustTickets applies a signed ticket delta to a wallet's balance.
// Replays of the same job id are no-ops, and the balance never drops
// below zero: a sell larger than the tracked balance floors at zero
// instead of going negative. Implements queue.Adjuster.
func (s *Store) AdjustTickets(ctx context.Context, job app.TicketJob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin adjust tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_jobs (job_id) VALUES ($1)
		ON CONFLICT (job_id) DO NOTHING`, job.ID)
	if err != nil {
		return fmt.Errorf("record job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("ticket job already processed", zap.String("jobID", job.ID))
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ticket_balances (raffle_id, wallet, balance, updated_at)
		VALUES ($1, $2, GREATEST(0, $3::bigint), now())
		ON CONFLICT (raffle_id, wallet) DO UPDATE
		SET balance = GREATEST(0, ticket_balances.balance + $3::bigint),
		    updated_at = now()`,
		job.RaffleID, job.Wallet, job.Tickets)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit adjust tx: %w", err)
	}

	s.logger.Info("ticket balance adjusted",
		zap.Int64("raffleID", job.RaffleID),
		zap.String("wallet", job.Wallet),
		zap.Int64("delta", job.Tickets),
		zap.String("reason", job.Reason))
	return nil
}

// TicketBalance reads a wallet's current balance, zero when absent.
func (s *Store) TicketBalance(ctx context.Context, raffleID int64, wallet string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, `
		SELECT balance FROM ticket_balances
		WHERE raffle_id = $1 AND wallet = $2`, raffleID, wallet).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query ticket balance: %w", err)
	}
	return balance, nil
}

func (s *Store) Close() {
	s.pool.Close()
}
