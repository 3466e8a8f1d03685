package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `yaml:"is_prod"`

	// Trade detectors (buy-side and sell-side poll loops)
	Detector DetectorConfig `yaml:"detector"`

	// Third-party indexer API
	Indexer IndexerConfig `yaml:"indexer"`

	// Native Sui fullnode
	Sui SuiConfig `yaml:"sui"`

	// Postgres record store
	Database DatabaseConfig `yaml:"database"`

	// Kafka work queue
	Kafka KafkaConfig `yaml:"kafka"`

	// Active raffle refresh
	Raffle RaffleConfig `yaml:"raffle"`

	// Operator notifications
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// DetectorConfig holds configuration shared by the buy and sell detectors.
type DetectorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	PageLimit    int           `yaml:"page_limit"`

	// Tickets granted per whole token bought. The sell-side ratio comes
	// from the active raffle row instead.
	BuyTicketsPerToken string `yaml:"buy_tickets_per_token"`

	// Failover circuit breaker
	FailureThreshold int     `yaml:"failure_threshold"`
	ProbeProbability float64 `yaml:"probe_probability"`
}

// IndexerConfig holds third-party indexer API configuration.
type IndexerConfig struct {
	Enabled           bool    `yaml:"enabled"`
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"-"` // env var only
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// SuiConfig holds native chain access configuration.
type SuiConfig struct {
	RPCURL string `yaml:"rpc_url"`
	WSURL  string `yaml:"ws_url"` // empty disables the event subscription nudge
}

// DatabaseConfig holds Postgres configuration.
type DatabaseConfig struct {
	URL      string `yaml:"-"` // env var only (carries credentials)
	MinConns int    `yaml:"min_conns"`
	MaxConns int    `yaml:"max_conns"`
}

// KafkaConfig holds work queue configuration.
type KafkaConfig struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers"` // comma-separated
	Topic   string `yaml:"topic"`
	GroupID string `yaml:"group_id"`

	// RunWorker starts the in-process ticket-adjust consumer alongside
	// the detectors. Disable when a dedicated worker deployment owns it.
	RunWorker bool `yaml:"run_worker"`
}

// RaffleConfig holds active-raffle refresh configuration.
type RaffleConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// DiscordConfig holds Discord ops-notification configuration.
type DiscordConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"-"` // env var only
	ChannelID string `yaml:"channel_id"`
}

// TelegramConfig holds Telegram ops-notification configuration.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"-"` // env var only
	ChatID   string `yaml:"chat_id"`
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd: false,
		Detector: DetectorConfig{
			PollInterval:       10 * time.Second,
			PageLimit:          50,
			BuyTicketsPerToken: "100",
			FailureThreshold:   3,
			ProbeProbability:   0.10,
		},
		Indexer: IndexerConfig{
			Enabled:           true,
			BaseURL:           "https://api.blockberry.one/sui/v1",
			RequestsPerSecond: 2.0,
		},
		Sui: SuiConfig{
			RPCURL: "https://fullnode.mainnet.sui.io:443",
		},
		Database: DatabaseConfig{
			MinConns: 1,
			MaxConns: 4,
		},
		Kafka: KafkaConfig{
			Enabled:   true,
			Brokers:   "localhost:9092",
			Topic:     "raffle.ticket-adjust",
			GroupID:   "rafflebot-worker",
			RunWorker: true,
		},
		Raffle: RaffleConfig{
			RefreshInterval: 30 * time.Second,
		},
		Discord:  DiscordConfig{},
		Telegram: TelegramConfig{},
	}
}

// Load loads configuration from environment variables with defaults. If
// RAFFLEBOT_CONFIG points at a YAML file, its values are applied first and
// env vars override them.
func Load() *Config {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("RAFFLEBOT_CONFIG")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			// A broken overlay file must not take the bot down; env-only
			// deployments keep working off defaults.
			fmt.Fprintf(os.Stderr, "rafflebot: config file %s: %v\n", path, err)
		}
	}

	cfg.IsProd = envBool("STAGE", "PROD")

	cfg.Detector.PollInterval = envDuration("POLL_INTERVAL", cfg.Detector.PollInterval)
	cfg.Detector.PageLimit = envInt("PAGE_LIMIT", cfg.Detector.PageLimit)
	cfg.Detector.BuyTicketsPerToken = envString("BUY_TICKETS_PER_TOKEN", cfg.Detector.BuyTicketsPerToken)
	cfg.Detector.FailureThreshold = envInt("FAILOVER_FAILURE_THRESHOLD", cfg.Detector.FailureThreshold)
	cfg.Detector.ProbeProbability = envFloat("FAILOVER_PROBE_PROBABILITY", cfg.Detector.ProbeProbability)

	cfg.Indexer.Enabled = envBoolDefault("INDEXER_ENABLED", cfg.Indexer.Enabled)
	cfg.Indexer.BaseURL = envString("INDEXER_BASE_URL", cfg.Indexer.BaseURL)
	cfg.Indexer.APIKey = envString("INDEXER_API_KEY", "")
	cfg.Indexer.RequestsPerSecond = envFloat("INDEXER_REQUESTS_PER_SECOND", cfg.Indexer.RequestsPerSecond)

	cfg.Sui.RPCURL = envString("SUI_RPC_URL", cfg.Sui.RPCURL)
	cfg.Sui.WSURL = envString("SUI_WS_URL", cfg.Sui.WSURL)

	cfg.Database.URL = envString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MinConns = envInt("DATABASE_MIN_CONNS", cfg.Database.MinConns)
	cfg.Database.MaxConns = envInt("DATABASE_MAX_CONNS", cfg.Database.MaxConns)

	cfg.Kafka.Enabled = envBoolDefault("KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = envString("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = envString("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = envString("KAFKA_GROUP_ID", cfg.Kafka.GroupID)
	cfg.Kafka.RunWorker = envBoolDefault("KAFKA_RUN_WORKER", cfg.Kafka.RunWorker)

	cfg.Raffle.RefreshInterval = envDuration("RAFFLE_REFRESH_INTERVAL", cfg.Raffle.RefreshInterval)

	cfg.Discord.Enabled = envBoolDefault("DISCORD_ENABLED", cfg.Discord.Enabled)
	cfg.Discord.BotToken = envString("DISCORD_BOT_TOKEN", "")
	cfg.Discord.ChannelID = envString("DISCORD_CHANNEL_ID", cfg.Discord.ChannelID)

	cfg.Telegram.Enabled = envBoolDefault("TELEGRAM_ENABLED", cfg.Telegram.Enabled)
	cfg.Telegram.BotToken = envString("TELEGRAM_BOT_KEY", "")
	cfg.Telegram.ChatID = envString("TELEGRAM_CHAT_ID", cfg.Telegram.ChatID)

	return cfg
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// Validate checks the config for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Detector.PollInterval <= 0 {
		return fmt.Errorf("detector poll interval must be positive, got %v", c.Detector.PollInterval)
	}
	if c.Detector.PageLimit <= 0 {
		return fmt.Errorf("detector page limit must be positive, got %d", c.Detector.PageLimit)
	}
	if c.Detector.FailureThreshold <= 0 {
		return fmt.Errorf("failover failure threshold must be positive, got %d", c.Detector.FailureThreshold)
	}
	if c.Detector.ProbeProbability < 0 || c.Detector.ProbeProbability > 1 {
		return fmt.Errorf("failover probe probability must be in [0,1], got %v", c.Detector.ProbeProbability)
	}
	if c.Sui.RPCURL == "" {
		return fmt.Errorf("sui rpc url is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Indexer.Enabled && c.Indexer.BaseURL == "" {
		return fmt.Errorf("indexer enabled but base url is empty")
	}
	if c.Kafka.Enabled && strings.TrimSpace(c.Kafka.Brokers) == "" {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}
	if c.Kafka.Enabled && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka enabled but topic is empty")
	}
	return nil
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}
