package utils

// logger.go - структурированное логирование на базе zap
//
// Каждое событие исполнения пишется с полями event, run_id и mode,
// чтобы все записи одного прогона можно было собрать по run_id.

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - параметры инициализации логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json или text
	Output      string // путь к файлу; пусто = stderr
	Development bool
}

// Logger - обертка над zap.Logger с хелперами полей исполнения
type Logger struct {
	*zap.Logger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создает логгер по конфигурации.
// Если файл вывода недоступен - пишем в stderr, а не падаем.
func InitLogger(cfg LogConfig) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "text") || strings.EqualFold(cfg.Format, "console") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if cfg.Output != "" && cfg.Output != "stderr" {
		if cfg.Output == "stdout" {
			sink = zapcore.Lock(os.Stdout)
		} else if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(parseLevel(cfg.Level)))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	base := zap.New(core, opts...)
	return &Logger{Logger: base}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

// GetGlobalLogger возвращает глобальный логгер, создавая его при первом вызове
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// InitGlobalLogger создает логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger подменяет глобальный логгер (используется в тестах)
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// NewNopLogger - логгер, который ничего не пишет
func NewNopLogger() *Logger {
	base := zap.NewNop()
	return &Logger{Logger: base}
}

// ============================================================
// Методы Logger
// ============================================================

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithRun привязывает логгер к прогону исполнения
func (l *Logger) WithRun(runID, mode string) *Logger {
	return l.With(RunID(runID), Mode(mode))
}

// ============================================================
// Конструкторы полей
// ============================================================

func Event(name string) zap.Field        { return zap.String("event", name) }
func RunID(id string) zap.Field          { return zap.String("run_id", id) }
func Mode(mode string) zap.Field         { return zap.String("mode", mode) }
func PairID(id int) zap.Field            { return zap.Int("pair_id", id) }
func Symbol(symbol string) zap.Field     { return zap.String("symbol", symbol) }
func OrderID(id string) zap.Field        { return zap.String("order_id", id) }
func ClientOrderID(id string) zap.Field  { return zap.String("client_order_id", id) }
func Action(action string) zap.Field     { return zap.String("action", action) }
func Leg(label string) zap.Field         { return zap.String("leg", label) }
func Side(side string) zap.Field         { return zap.String("side", side) }
func Status(status string) zap.Field     { return zap.String("status", status) }
func Quantity(qty string) zap.Field      { return zap.String("qty", qty) }
func Attempt(n int) zap.Field            { return zap.Int("attempt", n) }
func Latency(ms float64) zap.Field       { return zap.Float64("latency_ms", ms) }
func HTTPStatus(code int) zap.Field      { return zap.Int("http_status", code) }
func Reasons(reasons []string) zap.Field { return zap.Strings("reasons", reasons) }
func Component(name string) zap.Field    { return zap.String("component", name) }

// Переэкспорт базовых конструкторов zap, чтобы пакеты не импортировали zap напрямую
var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Float64 = zap.Float64
	Bool    = zap.Bool
	Err     = zap.Error
	Any     = zap.Any
	Dur     = zap.Duration
	Strings = zap.Strings
)
