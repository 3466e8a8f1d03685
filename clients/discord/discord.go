package discord

import (
	"fmt"
	"rafflebot/clients/notifier"
	"rafflebot/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordClient sends ops events to a Discord channel.
// Implements notifier.Notifier.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	dc := &DiscordClient{
		logger:    logger,
		channelID: cfg.Discord.ChannelID,
	}

	if !cfg.Discord.Enabled || cfg.Discord.BotToken == "" {
		logger.Info("discord notifications disabled")
		return dc
	}

	session, err := discordgo.New("Bot " + cfg.Discord.BotToken)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return dc
	}
	dc.session = session

	logger.Info("discord notifier initialized", zap.String("channelID", dc.channelID))
	return dc
}

// SendOpsEvent sends an embedded ops notification.
// Implements notifier.Notifier.
func (dc *DiscordClient) SendOpsEvent(event notifier.OpsEvent) {
	if dc.session == nil || dc.channelID == "" {
		return
	}

	embed := dc.buildEmbed(event)
	if _, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed); err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord ops event", zap.String("kind", string(event.Kind)))
}

func (dc *DiscordClient) buildEmbed(event notifier.OpsEvent) *discordgo.MessageEmbed {
	color := 0x3498DB // blue for informational events
	title := "Rafflebot"

	var description string
	switch event.Kind {
	case notifier.EventFailoverEngaged:
		color = 0xE74C3C
		title = "⚠️ Indexer failover engaged"
		description = fmt.Sprintf(
			"%s detector switched to **%s** after %d consecutive failures of %s.",
			event.Detector, event.ActiveSource, event.Failures, event.FailedSource,
		)
	case notifier.EventFailoverRecovered:
		color = 0x2ECC71
		title = "✅ Indexer recovered"
		description = fmt.Sprintf(
			"%s detector is back on **%s**.",
			event.Detector, event.ActiveSource,
		)
	case notifier.EventRaffleActivated:
		title = "🎟️ Raffle activated"
		description = fmt.Sprintf("Now watching raffle #%d on `%s`.", event.RaffleID, event.CoinType)
	case notifier.EventRaffleSwitched:
		title = "🎟️ Raffle switched"
		description = fmt.Sprintf("Detectors reset for raffle #%d on `%s`.", event.RaffleID, event.CoinType)
	case notifier.EventSellReconciled:
		title = "🔧 Sell reconciled"
		description = fmt.Sprintf(
			"Manual verification of `%s` adjusted wallet `%s` by %+d tickets.",
			event.TxDigest, event.Wallet, event.TicketDelta,
		)
	default:
		description = string(event.Kind)
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
	}
	if !event.Timestamp.IsZero() {
		embed.Timestamp = event.Timestamp.UTC().Format("2006-01-02T15:04:05Z")
	}
	return embed
}

// Close cleans up the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session == nil {
		return nil
	}
	return dc.session.Close()
}
