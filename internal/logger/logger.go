package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/revivarr/revivarr/internal/config"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.Mutex
	loggers = make(map[string]zerolog.Logger)
	logFile *lumberjack.Logger
)

// New returns a logger tagged with the component name. Loggers are cached
// so repeated calls share the same writers.
func New(component string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[component]; ok {
		return l
	}

	cfg := config.Get()
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
	}

	writers := []io.Writer{console}
	if f := fileWriter(cfg); f != nil {
		writers = append(writers, f)
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	loggers[component] = l
	return l
}

func Default() zerolog.Logger {
	return New("revivarr")
}

// GetLogPath returns the active log file path, empty when file logging is
// unavailable.
func GetLogPath() string {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return ""
	}
	return logFile.Filename
}

func fileWriter(cfg *config.Config) io.Writer {
	if logFile != nil {
		return logFile
	}
	dir := cfg.LogDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil
	}
	logFile = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "revivarr.log"),
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	return logFile
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
