package clients

import (
	"rafflebot/clients/chainevents"
	"rafflebot/clients/discord"
	"rafflebot/clients/indexer"
	"rafflebot/clients/notifier"
	"rafflebot/clients/suirpc"
	"rafflebot/clients/telegram"
	"rafflebot/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Indexer     *indexer.Client
	Sui         *suirpc.Client
	ChainEvents *chainevents.Client // nil unless a fullnode ws url is configured

	Discord  *discord.DiscordClient
	Telegram *telegram.TelegramClient
	Notifier notifier.Notifier // combined notifier for all channels
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	c := &Clients{
		Logger:   logger,
		Sui:      suirpc.NewClient(logger, cfg),
		Discord:  discordClient,
		Telegram: telegramClient,
		Notifier: notifier.NewMultiNotifier(discordClient, telegramClient),
	}

	if cfg.Indexer.Enabled {
		c.Indexer = indexer.NewClient(logger, cfg)
	}
	if cfg.Sui.WSURL != "" {
		c.ChainEvents = chainevents.NewClient(logger, cfg.Sui.WSURL)
	}

	return c
}
