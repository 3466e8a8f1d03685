package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"rafflebot/clients/notifier"
)

func TestRaffleWatcher_ActivationResetsAndNotifies(t *testing.T) {
	raffles := NewMockRaffleSource(nil)
	mn := NewMockNotifier()
	rw := NewRaffleWatcher(zap.NewNop(), raffles, mn, time.Minute)

	wm := NewWatermark()
	wm.MarkProcessed("stale", 1000)
	rw.RegisterWatermark(wm)

	ctx := context.Background()
	rw.RefreshOnce(ctx)
	if rw.Current() != nil {
		t.Fatal("no raffle should be active yet")
	}

	raffles.SetRaffle(&ActiveRaffle{ID: 7, CoinType: testCoinType, TicketsPerToken: "50"})
	rw.RefreshOnce(ctx)

	current := rw.Current()
	if current == nil || current.ID != 7 {
		t.Fatalf("expected raffle 7 active, got %+v", current)
	}
	if !wm.ShouldProcess("stale", 1000) {
		t.Error("activation should reset registered watermarks")
	}

	events := mn.Events()
	if len(events) != 1 || events[0].Kind != notifier.EventRaffleActivated {
		t.Fatalf("expected an activation event, got %+v", events)
	}
	if events[0].RaffleID != 7 {
		t.Errorf("unexpected event raffle id: %d", events[0].RaffleID)
	}
}

func TestRaffleWatcher_SwitchResetsWatermarks(t *testing.T) {
	raffles := NewMockRaffleSource(&ActiveRaffle{ID: 1, CoinType: testCoinType})
	mn := NewMockNotifier()
	rw := NewRaffleWatcher(zap.NewNop(), raffles, mn, time.Minute)

	wm := NewWatermark()
	rw.RegisterWatermark(wm)

	ctx := context.Background()
	rw.RefreshOnce(ctx)
	wm.MarkProcessed("raffle-1-event", 1000)

	raffles.SetRaffle(&ActiveRaffle{ID: 2, CoinType: "0xother::token::OTH"})
	rw.RefreshOnce(ctx)

	if rw.Current().ID != 2 {
		t.Fatalf("expected raffle 2, got %d", rw.Current().ID)
	}
	if !wm.ShouldProcess("raffle-1-event", 1000) {
		t.Error("switch should reset registered watermarks")
	}

	events := mn.Events()
	if len(events) != 2 || events[1].Kind != notifier.EventRaffleSwitched {
		t.Fatalf("expected activation then switch events, got %+v", events)
	}
}

func TestRaffleWatcher_CoinTypeChangeResetsWatermarks(t *testing.T) {
	raffles := NewMockRaffleSource(&ActiveRaffle{ID: 1, CoinType: testCoinType})
	mn := NewMockNotifier()
	rw := NewRaffleWatcher(zap.NewNop(), raffles, mn, time.Minute)

	wm := NewWatermark()
	rw.RegisterWatermark(wm)

	ctx := context.Background()
	rw.RefreshOnce(ctx)
	wm.MarkProcessed("old-token-event", 1000)

	// same row, migrated contract
	raffles.SetRaffle(&ActiveRaffle{ID: 1, CoinType: "0xdef456::raffle_token::NEW"})
	rw.RefreshOnce(ctx)

	if !wm.ShouldProcess("old-token-event", 1000) {
		t.Error("a coin type change must reset registered watermarks")
	}
	events := mn.Events()
	if len(events) != 2 || events[1].Kind != notifier.EventRaffleSwitched {
		t.Fatalf("expected activation then switch events, got %+v", events)
	}
}

func TestRaffleWatcher_RefreshErrorKeepsPrevious(t *testing.T) {
	raffles := NewMockRaffleSource(&ActiveRaffle{ID: 1, CoinType: testCoinType})
	rw := NewRaffleWatcher(zap.NewNop(), raffles, nil, time.Minute)

	ctx := context.Background()
	rw.RefreshOnce(ctx)

	raffles.SetError(errors.New("db down"))
	rw.RefreshOnce(ctx)

	if rw.Current() == nil || rw.Current().ID != 1 {
		t.Error("a refresh error must keep the previous raffle")
	}
}

func TestRaffleWatcher_UnchangedRaffleDoesNotReset(t *testing.T) {
	raffles := NewMockRaffleSource(&ActiveRaffle{ID: 1, CoinType: testCoinType})
	rw := NewRaffleWatcher(zap.NewNop(), raffles, nil, time.Minute)

	wm := NewWatermark()
	rw.RegisterWatermark(wm)

	ctx := context.Background()
	rw.RefreshOnce(ctx)
	wm.MarkProcessed("event", 1000)
	rw.RefreshOnce(ctx)

	if wm.ShouldProcess("event", 1000) {
		t.Error("an unchanged raffle must not reset watermarks")
	}
}
