package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит всю конфигурацию исполнителя
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Security   SecurityConfig
	Broker     BrokerConfig
	Risk       RiskConfig
	Execution  ExecutionConfig
	DeadLetter DeadLetterConfig
	Logging    LoggingConfig
}

// ServerConfig - настройки служебного HTTP сервера (ops API, /metrics, /ws)
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	URL      string // DATABASE_URL имеет приоритет над отдельными полями
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SecurityConfig - доступ к мутирующим ручкам ops API
type SecurityConfig struct {
	// APITokenHash - bcrypt хэш bearer токена; пусто = мутирующие ручки закрыты
	APITokenHash string
}

// BrokerConfig - REST API брокера и параметры resilience клиента
type BrokerConfig struct {
	BaseURL     string
	APIKey      string
	APISecret   string
	Timeout     time.Duration // таймаут одной попытки
	MinInterval time.Duration // минимальный интервал между запросами
	MaxRetries  int           // повторы после первой попытки
	BaseBackoff time.Duration
}

// RiskConfig - лимиты риск-гейта
type RiskConfig struct {
	MaxGrossExposure          float64
	MaxPositionValuePerSymbol float64
	MaxOrdersPerRun           int
	DataStaleSeconds          int
}

// ExecutionConfig - параметры прогона исполнения
type ExecutionConfig struct {
	TradingEnabled  bool   // kill switch
	Mode            string // paper / live, только метка в логах и dead letter
	RunID           string // пусто = генерируется на каждый прогон
	PerPairNotional float64
	Interval        time.Duration
	MaxPairs        int
	OrderType       string
	TimeInForce     string

	// Опрос ноги A после отмены при компенсации
	CompensationPolls     int
	CompensationPollDelay time.Duration
}

// DeadLetterConfig - куда писать dead letter записи
type DeadLetterConfig struct {
	Sink string // db или file
	Path string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения.
// Файл .env (если есть) подгружается первым и не перетирает уже заданные переменные.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "statarb"),
			User:            getEnv("DB_USER", "statarb"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Security: SecurityConfig{
			APITokenHash: getEnv("API_TOKEN_HASH", ""),
		},
		Broker: BrokerConfig{
			BaseURL:     strings.TrimRight(getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"), "/"),
			APIKey:      getEnv("ALPACA_API_KEY", ""),
			APISecret:   getEnv("ALPACA_SECRET_KEY", ""),
			Timeout:     getEnvAsDuration("HTTP_TIMEOUT", 20*time.Second),
			MinInterval: getEnvAsSeconds("HTTP_MIN_INTERVAL_S", 250*time.Millisecond),
			MaxRetries:  getEnvAsInt("HTTP_MAX_RETRIES", 6),
			BaseBackoff: getEnvAsSeconds("HTTP_BACKOFF_S", 500*time.Millisecond),
		},
		Risk: RiskConfig{
			MaxGrossExposure:          getEnvAsFloat("MAX_GROSS_EXPOSURE", 100000),
			MaxPositionValuePerSymbol: getEnvAsFloat("MAX_POSITION_VALUE_PER_SYMBOL", 25000),
			MaxOrdersPerRun:           getEnvAsInt("MAX_ORDERS_PER_RUN", 10),
			DataStaleSeconds:          getEnvAsInt("DATA_STALE_SECONDS", 900),
		},
		Execution: ExecutionConfig{
			TradingEnabled:        getEnvAsBool("TRADING_ENABLED", true),
			Mode:                  strings.ToLower(strings.TrimSpace(getEnv("TRADING_MODE", "paper"))),
			RunID:                 getEnv("RUN_ID", ""),
			PerPairNotional:       getEnvAsFloat("PER_PAIR_NOTIONAL", 1000),
			Interval:              getEnvAsSeconds("EXEC_EVERY_SECONDS", 300*time.Second),
			MaxPairs:              getEnvAsInt("EXEC_MAX_PAIRS", 50),
			OrderType:             getEnv("ORDER_TYPE", "market"),
			TimeInForce:           getEnv("TIME_IN_FORCE", "day"),
			CompensationPolls:     getEnvAsInt("COMPENSATION_POLLS", 3),
			CompensationPollDelay: getEnvAsDuration("COMPENSATION_POLL_DELAY", 500*time.Millisecond),
		},
		DeadLetter: DeadLetterConfig{
			Sink: strings.ToLower(getEnv("DEAD_LETTER_SINK", "db")),
			Path: getEnv("DEAD_LETTER_PATH", "dead_letter.jsonl"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRanges проверяет числовые диапазоны и перечисления
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.URL == "" && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Broker.MaxRetries < 0 {
		return fmt.Errorf("HTTP_MAX_RETRIES cannot be negative, got %d", c.Broker.MaxRetries)
	}

	if c.Broker.MaxRetries > 10 {
		return fmt.Errorf("HTTP_MAX_RETRIES should not exceed 10, got %d", c.Broker.MaxRetries)
	}

	if c.Broker.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %v", c.Broker.Timeout)
	}

	if c.Broker.MinInterval < 0 {
		return fmt.Errorf("HTTP_MIN_INTERVAL_S cannot be negative, got %v", c.Broker.MinInterval)
	}

	if c.Risk.MaxOrdersPerRun < 0 {
		return fmt.Errorf("MAX_ORDERS_PER_RUN cannot be negative, got %d", c.Risk.MaxOrdersPerRun)
	}

	if c.Risk.DataStaleSeconds < 0 {
		return fmt.Errorf("DATA_STALE_SECONDS cannot be negative, got %d", c.Risk.DataStaleSeconds)
	}

	if c.Execution.PerPairNotional <= 0 {
		return fmt.Errorf("PER_PAIR_NOTIONAL must be positive, got %v", c.Execution.PerPairNotional)
	}

	if c.Execution.Interval <= 0 {
		return fmt.Errorf("EXEC_EVERY_SECONDS must be positive, got %v", c.Execution.Interval)
	}

	if c.Execution.Mode != "paper" && c.Execution.Mode != "live" {
		return fmt.Errorf("TRADING_MODE must be paper or live, got %q", c.Execution.Mode)
	}

	if c.Execution.CompensationPolls < 1 {
		return fmt.Errorf("COMPENSATION_POLLS must be at least 1, got %d", c.Execution.CompensationPolls)
	}

	if c.DeadLetter.Sink != "db" && c.DeadLetter.Sink != "file" {
		return fmt.Errorf("DEAD_LETTER_SINK must be db or file, got %q", c.DeadLetter.Sink)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	if d.URL != "" {
		return "DATABASE_URL"
	}
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

// getEnvAsBool понимает 1/true/yes/y/on (регистр не важен)
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if valueStr == "" {
		return defaultValue
	}
	switch valueStr {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
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

// getEnvAsSeconds читает дробное число секунд (HTTP_MIN_INTERVAL_S=0.25)
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return time.Duration(value * float64(time.Second))
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
