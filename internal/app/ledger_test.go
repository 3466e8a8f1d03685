package app

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func testTrade() Trade {
	return Trade{
		TxDigest:        "D1",
		EventKey:        "D1:deadbeef",
		TimestampMillis: 1700000000000,
		Wallet:          "0xw1",
		AmountRaw:       "1500000000",
		CoinType:        testCoinType,
		Decimals:        9,
		Side:            SideBuy,
	}
}

func TestPublisher_PublishOncePerEventKey(t *testing.T) {
	store := NewMockRecordStore()
	queue := NewMockQueue()
	p := NewPublisher(zap.NewNop(), store, queue)
	ctx := context.Background()

	published, err := p.Publish(ctx, testTrade(), 1, 150)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !published {
		t.Fatal("first publish should succeed")
	}

	// second publish of the same event key is a silent duplicate drop
	published, err = p.Publish(ctx, testTrade(), 1, 150)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if published {
		t.Error("duplicate event key must not publish")
	}

	if store.Count() != 1 {
		t.Errorf("expected 1 record, got %d", store.Count())
	}
	jobs := queue.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected exactly 1 job, got %d", len(jobs))
	}
	if jobs[0].Tickets != 150 || jobs[0].Reason != "trade" {
		t.Errorf("unexpected job: %+v", jobs[0])
	}

	rec := store.Record("D1:deadbeef")
	if rec == nil {
		t.Fatal("record not stored")
	}
	if rec.Tickets != 150 || rec.Side != SideBuy || rec.RaffleID != 1 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if jobs[0].ID != rec.ID {
		t.Error("job id should match the record id")
	}
}

func TestPublisher_ZeroTicketsRecordsWithoutJob(t *testing.T) {
	store := NewMockRecordStore()
	queue := NewMockQueue()
	p := NewPublisher(zap.NewNop(), store, queue)

	published, err := p.Publish(context.Background(), testTrade(), 1, 0)
	if err != nil || !published {
		t.Fatalf("expected publish, got published=%v err=%v", published, err)
	}
	if store.Count() != 1 {
		t.Error("zero-ticket trade should still be recorded for dedup")
	}
	if len(queue.Jobs()) != 0 {
		t.Error("zero-ticket trade must not enqueue a job")
	}
}

func TestPublisher_EnqueueFailureKeepsRecord(t *testing.T) {
	store := NewMockRecordStore()
	queue := NewMockQueue()
	queue.err = errors.New("broker down")
	p := NewPublisher(zap.NewNop(), store, queue)

	published, err := p.Publish(context.Background(), testTrade(), 1, 150)
	if err != nil {
		t.Fatalf("enqueue failure must not surface as a publish error: %v", err)
	}
	if !published {
		t.Error("the trade was recorded, so it counts as published")
	}
	if store.Count() != 1 {
		t.Error("the ledger record must survive the enqueue failure")
	}
}

func TestPublisher_StoreErrorSurfaces(t *testing.T) {
	store := NewMockRecordStore()
	store.createErr = errors.New("db down")
	p := NewPublisher(zap.NewNop(), store, NewMockQueue())

	published, err := p.Publish(context.Background(), testTrade(), 1, 150)
	if err == nil || published {
		t.Error("a failed record insert must return an error and not publish")
	}
}

func TestPublisher_ReconcileEnqueuesOnlyTheDifference(t *testing.T) {
	store := NewMockRecordStore()
	queue := NewMockQueue()
	p := NewPublisher(zap.NewNop(), store, queue)
	ctx := context.Background()

	// a sell recorded as -100 tickets turns out to be -160
	trade := testTrade()
	trade.Side = SideSell
	if _, err := p.Publish(ctx, trade, 1, -100); err != nil {
		t.Fatal(err)
	}

	rec := store.Record(trade.EventKey)
	delta, err := p.Reconcile(ctx, rec, -160)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta != -60 {
		t.Errorf("expected delta -60, got %d", delta)
	}

	updated := store.Record(trade.EventKey)
	if updated.Tickets != -160 {
		t.Errorf("record not updated, tickets=%d", updated.Tickets)
	}

	jobs := queue.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected publish job plus reconcile job, got %d", len(jobs))
	}
	if jobs[1].Tickets != -60 || jobs[1].Reason != "reconcile" {
		t.Errorf("unexpected reconcile job: %+v", jobs[1])
	}
}

func TestPublisher_ReconcileNoopWhenCorrect(t *testing.T) {
	store := NewMockRecordStore()
	queue := NewMockQueue()
	p := NewPublisher(zap.NewNop(), store, queue)
	ctx := context.Background()

	if _, err := p.Publish(ctx, testTrade(), 1, 150); err != nil {
		t.Fatal(err)
	}
	rec := store.Record(testTrade().EventKey)

	delta, err := p.Reconcile(ctx, rec, 150)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta != 0 {
		t.Errorf("expected no delta, got %d", delta)
	}
	if len(queue.Jobs()) != 1 {
		t.Error("a matching reconcile must not enqueue anything")
	}
}
