// Package logging: глобальный zerolog-логгер сервиса.
//
//	logging.Init(logging.Config{Level: "info", Format: "console"})
//	logging.Info().Str("mode", "full").Int("rows", n).Msg("archive cycle finished")
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config задаёт уровень, формат и вывод логов.
type Config struct {
	// Level: trace, debug, info, warn, error. По умолчанию info.
	Level string
	// Format: json или console. По умолчанию json.
	Format string
	// File: путь к файлу логов; пусто: stderr.
	File string
	// Caller добавляет file:line.
	Caller bool
	// Output переопределяет вывод (используется в тестах).
	Output io.Writer
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Output: os.Stderr}
}

var (
	mu     sync.RWMutex
	logger zerolog.Logger
	closer io.Closer
)

func init() {
	_ = Init(DefaultConfig())
}

// Init (пере)настраивает глобальный логгер. Повторный вызов закрывает
// ранее открытый файл логов.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Level == "" {
		cfg.Level = "info"
	}
	out := cfg.Output
	var file *os.File
	if out == nil && cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("logging: open %s: %w", cfg.File, err)
		}
		file = f
		out = f
	}
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05", NoColor: file != nil}
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	logger = ctx.Logger()

	if closer != nil {
		_ = closer.Close()
		closer = nil
	}
	if file != nil {
		closer = file
	}
	return nil
}

// ParseLevel переводит строку в zerolog.Level; неизвестные значения дают info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// SetDebug включает или выключает подробные логи без пересоздания логгера.
func SetDebug(enabled bool) {
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Logger возвращает копию глобального логгера.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With возвращает дочерний логгер с полем component.
func With(component string) zerolog.Logger {
	l := Logger()
	return l.With().Str("component", component).Logger()
}

// Debug, Info, Warn, Error начинают событие глобального логгера.
func Debug() *zerolog.Event {
	l := Logger()
	return l.Debug()
}

func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}

// Fatal пишет событие и завершает процесс с кодом 1 (для утилит cmd/).
func Fatal() *zerolog.Event {
	l := Logger()
	return l.Fatal()
}
