package app

import (
	"sort"
	"sync"
)

const (
	// seenHighWater triggers compaction; seenLowWater is what survives it.
	seenHighWater = 200
	seenLowWater  = 100
)

// Watermark tracks which events a detector has already processed. Two
// complementary mechanisms: a bounded set of seen event keys for exact
// dedup of recent events, and a monotonic timestamp below which anything
// is considered handled. Reset on raffle switch or source failover so the
// detector re-seeds instead of trusting stale state.
type Watermark struct {
	mu sync.Mutex

	seen            map[string]int64 // event key -> timestamp millis
	lastProcessedMs int64
	cursor          string // opaque source pagination cursor
}

func NewWatermark() *Watermark {
	return &Watermark{seen: make(map[string]int64)}
}

// ShouldProcess reports whether an event is new: unseen key and newer than
// the timestamp floor. Events at exactly the floor are skipped; the floor
// is only ever set from an event that was itself processed or seeded.
func (w *Watermark) ShouldProcess(eventKey string, timestampMs int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[eventKey]; ok {
		return false
	}
	if w.lastProcessedMs > 0 && timestampMs <= w.lastProcessedMs {
		return false
	}
	return true
}

// MarkProcessed records an event as handled and advances the floor if the
// event is the newest seen so far. The floor never moves backwards.
func (w *Watermark) MarkProcessed(eventKey string, timestampMs int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mark(eventKey, timestampMs)
}

// Seed records pre-existing events during initialization without treating
// them as new work.
func (w *Watermark) Seed(eventKey string, timestampMs int64) {
	w.MarkProcessed(eventKey, timestampMs)
}

// SeedFloor sets the timestamp floor directly, used when initialization
// finds no events (or fails) and everything before "now" must be ignored.
func (w *Watermark) SeedFloor(timestampMs int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timestampMs > w.lastProcessedMs {
		w.lastProcessedMs = timestampMs
	}
}

func (w *Watermark) mark(eventKey string, timestampMs int64) {
	w.seen[eventKey] = timestampMs
	if timestampMs > w.lastProcessedMs {
		w.lastProcessedMs = timestampMs
	}
	if len(w.seen) > seenHighWater {
		w.compact()
	}
}

// compact keeps only the newest entries. Anything evicted is still
// covered by the timestamp floor as long as sources deliver roughly in
// order, which is the tradeoff that keeps memory bounded.
func (w *Watermark) compact() {
	type entry struct {
		key string
		ts  int64
	}
	entries := make([]entry, 0, len(w.seen))
	for k, ts := range w.seen {
		entries = append(entries, entry{k, ts})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts > entries[j].ts })

	w.seen = make(map[string]int64, seenLowWater)
	for _, e := range entries[:seenLowWater] {
		w.seen[e.key] = e.ts
	}
}

// Cursor returns the stored pagination cursor for the active source.
func (w *Watermark) Cursor() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

func (w *Watermark) SetCursor(cursor string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cursor = cursor
}

// LastProcessedMs returns the current timestamp floor.
func (w *Watermark) LastProcessedMs() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastProcessedMs
}

// SeenCount returns the size of the dedup set, for stats logging.
func (w *Watermark) SeenCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Reset clears all state. Called on raffle switch and on failover, after
// which the owning detector re-initializes against the new source.
func (w *Watermark) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[string]int64)
	w.lastProcessedMs = 0
	w.cursor = ""
}
