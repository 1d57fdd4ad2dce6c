package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jansgame/roundwatch/internal/secrets"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string `validate:"required"`
	LogLevel    string `validate:"oneof=debug info warn error"`

	// Chain
	RPCURL            string  `validate:"required,url"`
	ExpectedChainID   int64   `validate:"gt=0"`
	NetworkName       string
	RPCRequestsPerSec float64 `validate:"gt=0"`

	// Contracts
	GameContractAddress  string   `validate:"required,eth_addr"`
	RouterAddress        string   `validate:"required,eth_addr"`
	WrappedNativeAddress string   `validate:"required,eth_addr"`
	TokenAddress         string   `validate:"required,eth_addr"`
	GameABIPath          string   // optional override of the embedded ABI
	AbortFieldNames      []string `validate:"min=1,dive,required"`

	// Decimals
	NativeDecimals  int `validate:"gte=0,lte=36"`
	TokenDecimals   int `validate:"gte=0,lte=36"`
	LPTokenDecimals int `validate:"gte=0,lte=36"`

	// Price feed
	CoinGeckoURL     string        `validate:"required,url"`
	CoinGeckoAssetID string        `validate:"required"`
	PriceTimeout     time.Duration `validate:"gt=0"`
	PriceCacheTTL    time.Duration

	// Redis (optional price cache)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Event log fetching
	LogBatchBlocks      uint64        `validate:"gt=0"`
	LogBatchConcurrency int           `validate:"gt=0"`
	LogMinWindowBlocks  uint64        `validate:"gt=0"`
	LogMaxWindowBlocks  uint64        `validate:"gtefield=LogMinWindowBlocks"`
	AvgBlockTime        time.Duration `validate:"gt=0"`
	BlockTimeCacheSize  int           `validate:"gt=0"`

	// Polling
	PollIntervalSec int           `validate:"gt=0"`
	CycleTimeout    time.Duration `validate:"gt=0"`

	// Maintenance window (UTC, weekly)
	MaintenanceEnabled  bool
	MaintenanceWeekday  time.Weekday
	MaintenanceStart    string `validate:"omitempty,len=5"`
	MaintenanceDuration time.Duration

	// Static assets
	DataDir string `validate:"required"`

	// Database (optional)
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration

	// Signer (jansctl only)
	SignerPrivateKey string
	SlippageBps      int64 `validate:"gte=0,lt=10000"`
	LPSlippagePct    int64 `validate:"gte=0,lt=100"`

	// Alerts
	AlertMode      string
	DiscordWebURL  string
	TelegramToken  string
	TelegramChatID int64
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	SMTPFrom       string
	SMTPTo         []string

	// HTTP
	HTTPPort int `validate:"gt=0,lt=65536"`
}

// Load reads configuration from environment variables, with an optional .env file
func Load() (*Config, error) {
	// A missing .env file is fine
	_ = godotenv.Load()

	cfg := &Config{
		Environment:          getEnv("ENVIRONMENT", "production"),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		RPCURL:               getEnv("RPC_URL", "https://841.rpc.thirdweb.com"),
		ExpectedChainID:      int64(getEnvInt("CHAIN_ID", 841)),
		NetworkName:          getEnv("NETWORK_NAME", "Taraxa Mainnet"),
		RPCRequestsPerSec:    getEnvFloat("RPC_RPS", 10.0),
		GameContractAddress:  getEnv("GAME_CONTRACT_ADDRESS", "0x7964861254d0e3Dd30f732DB49052198A9b90eae"),
		RouterAddress:        getEnv("DEX_ROUTER_ADDRESS", "0x329553E2706859Ab82636950c96A8dbbEb28f14A"),
		WrappedNativeAddress: getEnv("WRAPPED_NATIVE_ADDRESS", "0x5d0Fa4C5668E5809c83c95A7CeF3a9dd7C68d4fE"),
		TokenAddress:         getEnv("JANS_TOKEN_ADDRESS", "0xA52fc8BD9b64cb971cCa78b558de8DE8615c9a28"),
		GameABIPath:          getEnv("GAME_ABI_PATH", ""),
		AbortFieldNames:      parseCSV(getEnv("ABORT_FIELD_NAMES", "isAborted,aborted")),
		NativeDecimals:       getEnvInt("NATIVE_DECIMALS", 18),
		TokenDecimals:        getEnvInt("TOKEN_DECIMALS", 18),
		LPTokenDecimals:      getEnvInt("LP_TOKEN_DECIMALS", 18),
		CoinGeckoURL:         getEnv("COINGECKO_URL", "https://api.coingecko.com/api/v3/simple/price?ids=taraxa&vs_currencies=usd"),
		CoinGeckoAssetID:     getEnv("COINGECKO_ASSET_ID", "taraxa"),
		PriceTimeout:         time.Duration(getEnvInt("PRICE_TIMEOUT_SEC", 10)) * time.Second,
		PriceCacheTTL:        time.Duration(getEnvInt("PRICE_CACHE_TTL_SEC", 30)) * time.Second,
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        secrets.GetOptionalSecret("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		LogBatchBlocks:       uint64(getEnvInt("LOG_BATCH_BLOCKS", 1000)),
		LogBatchConcurrency:  getEnvInt("LOG_BATCH_CONCURRENCY", 5),
		LogMinWindowBlocks:   uint64(getEnvInt("LOG_MIN_WINDOW_BLOCKS", 2000)),
		LogMaxWindowBlocks:   uint64(getEnvInt("LOG_MAX_WINDOW_BLOCKS", 20000)),
		AvgBlockTime:         time.Duration(getEnvInt("AVG_BLOCK_TIME_MS", 4000)) * time.Millisecond,
		BlockTimeCacheSize:   getEnvInt("BLOCK_TIME_CACHE_SIZE", 4096),
		PollIntervalSec:      getEnvInt("POLL_INTERVAL_SEC", 60),
		CycleTimeout:         time.Duration(getEnvInt("CYCLE_TIMEOUT_SEC", 50)) * time.Second,
		MaintenanceEnabled:   getEnvBool("MAINTENANCE_ENABLED", true),
		MaintenanceStart:     getEnv("MAINTENANCE_START_UTC", "21:00"),
		MaintenanceDuration:  time.Duration(getEnvInt("MAINTENANCE_DURATION_MINS", 60)) * time.Minute,
		DataDir:              getEnv("DATA_DIR", "./data"),
		DatabaseDSN:          secrets.GetOptionalSecret("DATABASE_DSN", ""),
		DatabaseMaxConns:     getEnvInt("DATABASE_MAX_CONNS", 10),
		DatabaseMaxIdleTime:  time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,
		SignerPrivateKey:     secrets.GetOptionalSecret("SIGNER_PRIVATE_KEY", ""),
		SlippageBps:          int64(getEnvInt("TICKET_SLIPPAGE_BPS", 50)),
		LPSlippagePct:        int64(getEnvInt("LP_SLIPPAGE_PCT", 5)),
		AlertMode:            getEnv("ALERT_MODE", "log"),
		DiscordWebURL:        secrets.GetOptionalSecret("DISCORD_WEBHOOK_URL", ""),
		TelegramToken:        secrets.GetOptionalSecret("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:       int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
		SMTPHost:             getEnv("SMTP_HOST", ""),
		SMTPPort:             getEnvInt("SMTP_PORT", 587),
		SMTPUser:             getEnv("SMTP_USER", ""),
		SMTPPassword:         secrets.GetOptionalSecret("SMTP_PASSWORD", ""),
		SMTPFrom:             getEnv("SMTP_FROM", "roundwatch@example.com"),
		HTTPPort:             getEnvInt("HTTP_PORT", 8080),
	}

	weekday, err := parseWeekday(getEnv("MAINTENANCE_WEEKDAY", "saturday"))
	if err != nil {
		return nil, err
	}
	cfg.MaintenanceWeekday = weekday

	if smtpTo := getEnv("SMTP_TO", ""); smtpTo != "" {
		cfg.SMTPTo = parseCSV(smtpTo)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.MaintenanceEnabled {
		if _, err := time.Parse("15:04", c.MaintenanceStart); err != nil {
			return fmt.Errorf("invalid MAINTENANCE_START_UTC %q (want HH:MM)", c.MaintenanceStart)
		}
		if c.MaintenanceDuration <= 0 || c.MaintenanceDuration >= 7*24*time.Hour {
			return fmt.Errorf("MAINTENANCE_DURATION_MINS must be between 1 minute and 1 week")
		}
	}

	if c.CycleTimeout > time.Duration(c.PollIntervalSec)*time.Second {
		return fmt.Errorf("CYCLE_TIMEOUT_SEC must not exceed POLL_INTERVAL_SEC")
	}

	for _, mode := range c.AlertModes() {
		switch mode {
		case "log":
		case "discord":
			if c.DiscordWebURL == "" {
				return fmt.Errorf("DISCORD_WEBHOOK_URL is required when discord is in ALERT_MODE")
			}
		case "telegram":
			if c.TelegramToken == "" || c.TelegramChatID == 0 {
				return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required when telegram is in ALERT_MODE")
			}
		case "smtp":
			if c.SMTPHost == "" || len(c.SMTPTo) == 0 {
				return fmt.Errorf("SMTP_HOST and SMTP_TO are required when smtp is in ALERT_MODE")
			}
		default:
			return fmt.Errorf("invalid ALERT_MODE value: %s (valid values: log, discord, telegram, smtp)", mode)
		}
	}

	return nil
}

// AlertModes returns the configured alert modes, trimmed
func (c *Config) AlertModes() []string {
	return parseCSV(c.AlertMode)
}

// PollInterval returns the poll interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid MAINTENANCE_WEEKDAY: %s", s)
}

func parseCSV(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
