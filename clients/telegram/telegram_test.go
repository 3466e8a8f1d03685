package telegram

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"rafflebot/clients/notifier"
	"rafflebot/config"
)

func TestSendOpsEvent(t *testing.T) {
	var got sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "bottest-token") {
			t.Errorf("token not in url path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	cfg := config.Defaults()
	cfg.Telegram.Enabled = true
	cfg.Telegram.BotToken = "test-token"
	cfg.Telegram.ChatID = "12345"

	tc := NewTelegramClient(zap.NewNop(), cfg)
	tc.apiURL = server.URL + "/bot%s/%s"

	tc.SendOpsEvent(notifier.OpsEvent{
		Kind:         notifier.EventFailoverEngaged,
		Detector:     "buy",
		FailedSource: "indexer",
		ActiveSource: "chain",
		Failures:     3,
	})

	if got.ChatID != "12345" {
		t.Errorf("unexpected chat id: %s", got.ChatID)
	}
	if !strings.Contains(got.Text, "failover") {
		t.Errorf("unexpected message text: %s", got.Text)
	}
	if !strings.Contains(got.Text, "chain") || !strings.Contains(got.Text, "indexer") {
		t.Errorf("message should name both sources: %s", got.Text)
	}
}

func TestSendOpsEvent_DisabledIsSilent(t *testing.T) {
	requested := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer server.Close()

	cfg := config.Defaults()
	tc := NewTelegramClient(zap.NewNop(), cfg)
	tc.apiURL = server.URL + "/bot%s/%s"

	tc.SendOpsEvent(notifier.OpsEvent{Kind: notifier.EventRaffleActivated})
	if requested {
		t.Error("disabled client must not send requests")
	}
}

func TestBuildMessage_CoversAllKinds(t *testing.T) {
	kinds := []notifier.EventKind{
		notifier.EventFailoverEngaged,
		notifier.EventFailoverRecovered,
		notifier.EventRaffleActivated,
		notifier.EventRaffleSwitched,
		notifier.EventSellReconciled,
	}
	for _, kind := range kinds {
		msg := buildMessage(notifier.OpsEvent{Kind: kind, RaffleID: 1})
		if msg == "" {
			t.Errorf("empty message for kind %s", kind)
		}
	}

	// unknown kinds degrade to the raw kind string
	msg := buildMessage(notifier.OpsEvent{Kind: "mystery"})
	if msg != "mystery" {
		t.Errorf("unexpected fallback message: %s", msg)
	}
}

func TestBuildMessage_SellReconciled(t *testing.T) {
	msg := buildMessage(notifier.OpsEvent{
		Kind:        notifier.EventSellReconciled,
		TxDigest:    "D1",
		Wallet:      "0xw1",
		TicketDelta: -60,
	})
	if !strings.Contains(msg, "D1") || !strings.Contains(msg, "-60") {
		t.Errorf("reconcile message missing details: %s", msg)
	}
}
