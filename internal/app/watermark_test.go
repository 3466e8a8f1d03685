package app

import (
	"fmt"
	"testing"
)

func TestWatermark_DedupByEventKey(t *testing.T) {
	w := NewWatermark()

	if !w.ShouldProcess("key-1", 1000) {
		t.Error("fresh key should be processed")
	}
	w.MarkProcessed("key-1", 1000)
	if w.ShouldProcess("key-1", 1000) {
		t.Error("processed key must not be processed again")
	}
	if w.ShouldProcess("key-1", 2000) {
		t.Error("processed key must not be processed even with a newer timestamp")
	}
}

func TestWatermark_TimestampFloor(t *testing.T) {
	w := NewWatermark()
	w.MarkProcessed("key-1", 5000)

	if w.ShouldProcess("key-older", 4000) {
		t.Error("event older than the floor should be skipped")
	}
	if w.ShouldProcess("key-equal", 5000) {
		t.Error("event at the floor should be skipped")
	}
	if !w.ShouldProcess("key-newer", 5001) {
		t.Error("event newer than the floor should be processed")
	}
}

func TestWatermark_FloorNeverMovesBackwards(t *testing.T) {
	w := NewWatermark()
	w.MarkProcessed("key-1", 5000)
	w.MarkProcessed("key-2", 3000) // out of order delivery

	if got := w.LastProcessedMs(); got != 5000 {
		t.Errorf("expected floor 5000, got %d", got)
	}
}

func TestWatermark_SeedFloorWithoutEvents(t *testing.T) {
	w := NewWatermark()
	w.SeedFloor(9000)

	if w.ShouldProcess("any", 8999) {
		t.Error("events before the seeded floor should be skipped")
	}
	if !w.ShouldProcess("any", 9001) {
		t.Error("events after the seeded floor should be processed")
	}
	if w.SeenCount() != 0 {
		t.Errorf("seeding a floor should not grow the seen set, got %d", w.SeenCount())
	}
}

func TestWatermark_CompactionKeepsNewest(t *testing.T) {
	w := NewWatermark()
	for i := 0; i < seenHighWater+1; i++ {
		w.MarkProcessed(fmt.Sprintf("key-%d", i), int64(1000+i))
	}

	if got := w.SeenCount(); got != seenLowWater {
		t.Errorf("expected %d entries after compaction, got %d", seenLowWater, got)
	}
	// the newest key must survive compaction
	if w.ShouldProcess(fmt.Sprintf("key-%d", seenHighWater), int64(1000+seenHighWater+1)) {
		t.Error("newest key should still be in the seen set")
	}
	// evicted keys stay excluded through the floor
	if w.ShouldProcess("key-0", 1000) {
		t.Error("evicted old key is still covered by the timestamp floor")
	}
}

func TestWatermark_Reset(t *testing.T) {
	w := NewWatermark()
	w.MarkProcessed("key-1", 5000)
	w.SetCursor("cursor-abc")

	w.Reset()

	if !w.ShouldProcess("key-1", 5000) {
		t.Error("reset should clear the seen set and floor")
	}
	if w.Cursor() != "" {
		t.Errorf("reset should clear the cursor, got %q", w.Cursor())
	}
	if w.LastProcessedMs() != 0 {
		t.Errorf("reset should clear the floor, got %d", w.LastProcessedMs())
	}
}
