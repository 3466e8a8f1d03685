package notifier

import (
	"errors"
	"testing"
)

// recordingNotifier captures events for assertions.
type recordingNotifier struct {
	events   []OpsEvent
	closed   bool
	closeErr error
}

func (r *recordingNotifier) SendOpsEvent(event OpsEvent) {
	r.events = append(r.events, event)
}

func (r *recordingNotifier) Close() error {
	r.closed = true
	return r.closeErr
}

func TestMultiNotifier_Broadcasts(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	m := NewMultiNotifier(a, b)

	m.SendOpsEvent(OpsEvent{Kind: EventFailoverEngaged, Detector: "buy"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both notifiers to receive the event, got %d and %d",
			len(a.events), len(b.events))
	}
	if a.events[0].Kind != EventFailoverEngaged {
		t.Errorf("unexpected event kind: %s", a.events[0].Kind)
	}
}

func TestMultiNotifier_FiltersNil(t *testing.T) {
	a := &recordingNotifier{}
	m := NewMultiNotifier(nil, a, nil)

	if m.Count() != 1 {
		t.Errorf("expected 1 active notifier, got %d", m.Count())
	}

	// must not panic
	m.SendOpsEvent(OpsEvent{Kind: EventRaffleActivated})
	if len(a.events) != 1 {
		t.Error("the non-nil notifier should still receive events")
	}
}

func TestMultiNotifier_CloseAll(t *testing.T) {
	a := &recordingNotifier{closeErr: errors.New("boom")}
	b := &recordingNotifier{}
	m := NewMultiNotifier(a, b)

	err := m.Close()
	if !a.closed || !b.closed {
		t.Error("all notifiers should be closed even when one fails")
	}
	if err == nil {
		t.Error("expected the close error to surface")
	}
}

func TestMultiNotifier_Empty(t *testing.T) {
	m := NewMultiNotifier()
	m.SendOpsEvent(OpsEvent{Kind: EventSellReconciled})
	if err := m.Close(); err != nil {
		t.Errorf("empty notifier close should be nil, got %v", err)
	}
}
