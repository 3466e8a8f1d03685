package app

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"rafflebot/clients/notifier"
	"rafflebot/clients/suirpc"
)

// Verifier re-derives a sell from the chain itself and reconciles the
// ledger against it. This is the manual escape hatch for sells the
// detectors got wrong (or missed): the chain's balance changes are the
// ground truth, whatever the indexer reported at the time.
type Verifier struct {
	logger    *zap.Logger
	sui       *suirpc.Client
	watcher   *RaffleWatcher
	publisher *Publisher
	store     RecordStore
	math      *TicketMath
	decimals  DecimalsResolver
	notifier  notifier.Notifier
}

func NewVerifier(
	logger *zap.Logger,
	sui *suirpc.Client,
	watcher *RaffleWatcher,
	publisher *Publisher,
	store RecordStore,
	math *TicketMath,
	decimals DecimalsResolver,
	n notifier.Notifier,
) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		logger:    logger,
		sui:       sui,
		watcher:   watcher,
		publisher: publisher,
		store:     store,
		math:      math,
		decimals:  decimals,
		notifier:  n,
	}
}

// VerifySell checks one transaction's sell of the active raffle's token
// against the ledger. A missing record is published fresh; a record with
// the wrong ticket count is reconciled with only the signed difference.
// Returns the applied ticket delta, zero when the ledger was already
// correct.
func (v *Verifier) VerifySell(ctx context.Context, digest string) (int64, error) {
	raffle := v.watcher.Current()
	if raffle == nil {
		return 0, fmt.Errorf("no active raffle")
	}

	tb, err := v.sui.GetTransactionBlock(ctx, digest)
	if err != nil {
		return 0, fmt.Errorf("fetch transaction %s: %w", digest, err)
	}

	seller, amount, err := sellFromBalanceChanges(tb, raffle.CoinType)
	if err != nil {
		return 0, err
	}

	decimals := defaultDecimals
	if v.decimals != nil {
		if resolved, derr := v.decimals.ResolveDecimals(ctx, raffle.CoinType); derr == nil {
			decimals = resolved
		}
	}
	corrected := -v.math.Tickets(amount, decimals, raffle.TicketsPerToken)

	key := eventKey(digest, seller, amount, raffle.CoinType, map[string]int{})
	record, err := v.store.FindByEventKey(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("lookup ledger record: %w", err)
	}

	var delta int64
	if record == nil {
		trade := Trade{
			TxDigest:        digest,
			EventKey:        key,
			TimestampMillis: timestampMsFromString(tb.TimestampMs),
			Wallet:          seller,
			AmountRaw:       amount,
			CoinType:        raffle.CoinType,
			Decimals:        decimals,
			Side:            SideSell,
		}
		published, perr := v.publisher.Publish(ctx, trade, raffle.ID, corrected)
		if perr != nil {
			return 0, perr
		}
		if published {
			delta = corrected
		}
	} else {
		delta, err = v.publisher.Reconcile(ctx, record, corrected)
		if err != nil {
			return 0, err
		}
	}

	if delta != 0 && v.notifier != nil {
		v.notifier.SendOpsEvent(notifier.OpsEvent{
			Kind:        notifier.EventSellReconciled,
			RaffleID:    raffle.ID,
			CoinType:    raffle.CoinType,
			TxDigest:    digest,
			Wallet:      seller,
			TicketDelta: delta,
			Timestamp:   time.Now(),
		})
	}

	v.logger.Info("sell verified",
		zap.String("digest", shortID(digest)),
		zap.String("wallet", shortID(seller)),
		zap.Int64("delta", delta))
	return delta, nil
}

// sellFromBalanceChanges finds the wallet whose net balance of the target
// coin decreased, which is the seller, and the absolute amount sold.
func sellFromBalanceChanges(tb *suirpc.TransactionBlock, coinType string) (wallet, amountRaw string, err error) {
	net := make(map[string]*big.Int)
	for _, bc := range tb.BalanceChanges {
		if !equalCoin(bc.CoinType, coinType) || bc.Owner == "" {
			continue
		}
		amt, ok := parseBigInt(bc.Amount)
		if !ok {
			continue
		}
		if _, seen := net[bc.Owner]; !seen {
			net[bc.Owner] = new(big.Int)
		}
		net[bc.Owner].Add(net[bc.Owner], amt)
	}

	for owner, total := range net {
		if total.Sign() < 0 {
			return owner, new(big.Int).Abs(total).String(), nil
		}
	}

	if tb.Sender != "" {
		return "", "", fmt.Errorf("transaction %s has no %s sell by any wallet", tb.Digest, coinType)
	}
	return "", "", fmt.Errorf("transaction %s has no resolvable seller", tb.Digest)
}

func timestampMsFromString(s string) int64 {
	if v, ok := asInt64(s); ok && v > 0 {
		return v
	}
	return time.Now().UnixMilli()
}
