package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"rafflebot/clients/notifier"
	"rafflebot/config"
	"strings"
	"time"

	"go.uber.org/zap"
)

const telegramAPIURL = "https://api.telegram.org/bot%s/%s"

// TelegramClient sends ops events to a Telegram chat.
// Implements notifier.Notifier.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	client   *http.Client

	// overridable in tests
	apiURL string
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	tc := &TelegramClient{
		logger: logger,
		chatID: cfg.Telegram.ChatID,
		apiURL: telegramAPIURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	if !cfg.Telegram.Enabled || cfg.Telegram.BotToken == "" {
		logger.Info("telegram notifications disabled")
		return tc
	}
	tc.botToken = cfg.Telegram.BotToken

	logger.Info("telegram notifier initialized", zap.String("chatID", tc.chatID))
	return tc
}

// SendOpsEvent sends an ops notification.
// Implements notifier.Notifier.
func (tc *TelegramClient) SendOpsEvent(event notifier.OpsEvent) {
	if tc.botToken == "" || tc.chatID == "" {
		return
	}

	message := buildMessage(event)
	if err := tc.sendMessage(message); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram ops event", zap.String("kind", string(event.Kind)))
}

func buildMessage(event notifier.OpsEvent) string {
	var sb strings.Builder

	switch event.Kind {
	case notifier.EventFailoverEngaged:
		sb.WriteString("⚠️ *Indexer failover engaged*\n")
		sb.WriteString(fmt.Sprintf("%s detector switched to %s after %d consecutive failures of %s.",
			event.Detector, event.ActiveSource, event.Failures, event.FailedSource))
	case notifier.EventFailoverRecovered:
		sb.WriteString("✅ *Indexer recovered*\n")
		sb.WriteString(fmt.Sprintf("%s detector is back on %s.", event.Detector, event.ActiveSource))
	case notifier.EventRaffleActivated:
		sb.WriteString("🎟️ *Raffle activated*\n")
		sb.WriteString(fmt.Sprintf("Now watching raffle #%d on %s.", event.RaffleID, event.CoinType))
	case notifier.EventRaffleSwitched:
		sb.WriteString("🎟️ *Raffle switched*\n")
		sb.WriteString(fmt.Sprintf("Detectors reset for raffle #%d on %s.", event.RaffleID, event.CoinType))
	case notifier.EventSellReconciled:
		sb.WriteString("🔧 *Sell reconciled*\n")
		sb.WriteString(fmt.Sprintf("Manual verification of %s adjusted %s by %+d tickets.",
			event.TxDigest, event.Wallet, event.TicketDelta))
	default:
		sb.WriteString(string(event.Kind))
	}

	return sb.String()
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (tc *TelegramClient) sendMessage(text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    tc.chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf(tc.apiURL, tc.botToken, "sendMessage")
	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the client holds no persistent resources.
func (tc *TelegramClient) Close() error {
	return nil
}
