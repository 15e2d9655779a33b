package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"confluencebot/pkg/crypto"
	"confluencebot/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Exchange ExchangeConfig
	Feed     FeedConfig
	Notify   NotifyConfig
	Engine   EngineConfig
	Trading  TradingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// APITokenHash - bcrypt-хеш токена оператора; пустой - API без авторизации
	APITokenHash  string
	EncryptionKey string

	// Ограничение приема алертов через HTTP
	AlertRateLimit float64
	AlertBurst     int
}

// ExchangeConfig - площадка исполнения
type ExchangeConfig struct {
	Name      string // bybit, paper
	APIKey    string
	APISecret string
	BaseURL   string
	WSURL     string
	RPS       float64
	Burst     int
	Leverage  float64

	PaperBalance    float64
	PaperFeePercent float64
	PaperMarketData bool
}

// FeedConfig - поток алертов
type FeedConfig struct {
	URL            string // пустой - алерты только через POST /api/v1/alerts
	Token          string
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	ReconnectDelay time.Duration
}

// NotifyConfig - внешние каналы уведомлений
type NotifyConfig struct {
	DiscordWebhookURL  string
	FCMCredentialsFile string
	FCMTopic           string
	PushMinSeverity    string // info, warn, error
	PushTimeout        time.Duration
}

// EngineConfig - тайминги движка
type EngineConfig struct {
	EntryTimeout      time.Duration
	MarkPricePoll     time.Duration
	PersistInterval   time.Duration
	RecoveryTimeout   time.Duration
	AlertStaleAge     time.Duration
	LedgerCapacity    int
	QuoteAsset        string
	ExchangeTimezone  string
	NotificationLimit int // сколько уведомлений хранить в БД
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// LogConfig преобразует настройки в конфигурацию логгера
func (l LoggingConfig) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:       l.Level,
		Format:      l.Format,
		Output:      l.Output,
		Development: l.Development,
	}
}

// Load загружает конфигурацию из переменных окружения и торгового YAML
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "confluence"),
			User:         getEnv("DB_USER", "user"),
			Password:     getEnv("DB_PASSWORD", "password"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Security: SecurityConfig{
			APITokenHash:   getEnv("API_TOKEN_HASH", ""),
			EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
			AlertRateLimit: getEnvAsFloat("ALERT_RATE_LIMIT", 20),
			AlertBurst:     getEnvAsInt("ALERT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", "stdout"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		Exchange: ExchangeConfig{
			Name:            strings.ToLower(getEnv("EXCHANGE", "paper")),
			APIKey:          getEnv("BYBIT_API_KEY", ""),
			APISecret:       getEnv("BYBIT_API_SECRET", ""),
			BaseURL:         getEnv("BYBIT_BASE_URL", ""),
			WSURL:           getEnv("BYBIT_WS_URL", ""),
			RPS:             getEnvAsFloat("BYBIT_RPS", 10),
			Burst:           getEnvAsInt("BYBIT_BURST", 20),
			Leverage:        getEnvAsFloat("LEVERAGE", 1),
			PaperBalance:    getEnvAsFloat("PAPER_BALANCE", 10000),
			PaperFeePercent: getEnvAsFloat("PAPER_FEE_PERCENT", 0.055),
			PaperMarketData: getEnvAsBool("PAPER_MARKET_DATA", true),
		},
		Feed: FeedConfig{
			URL:            getEnv("FEED_URL", ""),
			Token:          getEnv("FEED_TOKEN", ""),
			PingInterval:   getEnvAsDuration("FEED_PING_INTERVAL", 15*time.Second),
			ReadTimeout:    getEnvAsDuration("FEED_READ_TIMEOUT", 60*time.Second),
			ReconnectDelay: getEnvAsDuration("FEED_RECONNECT_DELAY", time.Second),
		},
		Notify: NotifyConfig{
			DiscordWebhookURL:  getEnv("DISCORD_WEBHOOK_URL", ""),
			FCMCredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),
			FCMTopic:           getEnv("FCM_TOPIC", "trading"),
			PushMinSeverity:    strings.ToLower(getEnv("PUSH_MIN_SEVERITY", "warn")),
			PushTimeout:        getEnvAsDuration("PUSH_TIMEOUT", 10*time.Second),
		},
		Engine: EngineConfig{
			EntryTimeout:      getEnvAsDuration("ENTRY_TIMEOUT", 10*time.Second),
			MarkPricePoll:     getEnvAsDuration("MARK_PRICE_POLL", 5*time.Second),
			PersistInterval:   getEnvAsDuration("POSITION_PERSIST_INTERVAL", 5*time.Second),
			RecoveryTimeout:   getEnvAsDuration("RECOVERY_TIMEOUT", 30*time.Second),
			AlertStaleAge:     getEnvAsDuration("ALERT_STALE_AGE", 15*time.Minute),
			LedgerCapacity:    getEnvAsInt("LEDGER_CAPACITY", 10000),
			QuoteAsset:        strings.ToUpper(getEnv("QUOTE_ASSET", "USDT")),
			ExchangeTimezone:  getEnv("EXCHANGE_TIMEZONE", "UTC"),
			NotificationLimit: getEnvAsInt("NOTIFICATION_LIMIT", 1000),
		},
		Trading: DefaultTradingConfig(),
	}

	if path := getEnv("TRADING_CONFIG_PATH", ""); path != "" {
		trading, err := LoadTradingFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Trading = trading
	}
	cfg.applyRiskOverrides()

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyRiskOverrides - переменные окружения важнее YAML для лимитов риска
func (c *Config) applyRiskOverrides() {
	r := &c.Trading.Risk
	r.MaxDailyTrades = getEnvAsInt("RISK_MAX_DAILY_TRADES", r.MaxDailyTrades)
	r.MaxDailyLossPercent = getEnvAsFloat("RISK_MAX_DAILY_LOSS_PERCENT", r.MaxDailyLossPercent)
	r.PerSymbolCapPercent = getEnvAsFloat("RISK_PER_SYMBOL_CAP_PERCENT", r.PerSymbolCapPercent)
	r.TotalExposureCapPercent = getEnvAsFloat("RISK_TOTAL_EXPOSURE_CAP_PERCENT", r.TotalExposureCapPercent)
}

// resolveSecrets расшифровывает *_ENC значения ключом ENCRYPTION_KEY
func (c *Config) resolveSecrets() error {
	secrets := []struct {
		env    string
		target *string
	}{
		{"BYBIT_API_KEY_ENC", &c.Exchange.APIKey},
		{"BYBIT_API_SECRET_ENC", &c.Exchange.APISecret},
		{"FEED_TOKEN_ENC", &c.Feed.Token},
	}
	for _, s := range secrets {
		enc := os.Getenv(s.env)
		if enc == "" {
			continue
		}
		if c.Security.EncryptionKey == "" {
			return fmt.Errorf("%s is set but ENCRYPTION_KEY is empty", s.env)
		}
		plain, err := crypto.DecryptSecret(enc, c.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("decrypt %s: %w", s.env, err)
		}
		*s.target = plain
	}
	return nil
}

// Validate проверяет диапазоны и согласованность параметров
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port))
	}
	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		errs = append(errs, errors.New("USE_HTTPS requires CERT_FILE and KEY_FILE"))
	}

	if c.Security.EncryptionKey != "" {
		if err := crypto.ValidateKey([]byte(c.Security.EncryptionKey)); err != nil {
			errs = append(errs, fmt.Errorf("ENCRYPTION_KEY: %w", err))
		}
	}
	if c.Security.APITokenHash != "" {
		if err := crypto.ValidateHash(c.Security.APITokenHash); err != nil {
			errs = append(errs, fmt.Errorf("API_TOKEN_HASH: %w", err))
		}
	}
	if c.Security.AlertRateLimit <= 0 || c.Security.AlertBurst <= 0 {
		errs = append(errs, errors.New("ALERT_RATE_LIMIT and ALERT_BURST must be positive"))
	}

	switch utils.NormalizeExchange(c.Exchange.Name) {
	case "paper":
		if c.Exchange.PaperBalance <= 0 {
			errs = append(errs, fmt.Errorf("PAPER_BALANCE must be positive, got %v", c.Exchange.PaperBalance))
		}
	case "bybit":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			errs = append(errs, errors.New("bybit requires BYBIT_API_KEY and BYBIT_API_SECRET (or *_ENC)"))
		}
	default:
		errs = append(errs, fmt.Errorf("EXCHANGE: %w", utils.ValidateExchange(c.Exchange.Name)))
	}
	if c.Exchange.Leverage < 1 {
		errs = append(errs, fmt.Errorf("LEVERAGE must be at least 1, got %v", c.Exchange.Leverage))
	}

	if c.Engine.EntryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ENTRY_TIMEOUT must be positive, got %v", c.Engine.EntryTimeout))
	}
	if c.Engine.MarkPricePoll < 0 {
		errs = append(errs, fmt.Errorf("MARK_PRICE_POLL cannot be negative, got %v", c.Engine.MarkPricePoll))
	}
	if c.Engine.LedgerCapacity <= 0 {
		errs = append(errs, fmt.Errorf("LEDGER_CAPACITY must be positive, got %d", c.Engine.LedgerCapacity))
	}
	if _, err := utils.LoadLocation(c.Engine.ExchangeTimezone); err != nil {
		errs = append(errs, fmt.Errorf("EXCHANGE_TIMEZONE: %w", err))
	}

	switch c.Notify.PushMinSeverity {
	case "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("PUSH_MIN_SEVERITY must be info, warn or error, got %q", c.Notify.PushMinSeverity))
	}

	if err := c.Trading.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location возвращает часовой пояс торгового дня биржи
func (c *Config) Location() *time.Location {
	loc, err := utils.LoadLocation(c.Engine.ExchangeTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
