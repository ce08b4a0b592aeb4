package log

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config declares how a process logger is built.
type Config struct {
	Level  string `json:"level"`
	Format string `json:"format"` // text|json
	// RedactKeys replaces the values of these keys with [REDACTED].
	RedactKeys []string `json:"redactKeys,omitempty"`
	// SampleInitial/SampleThereafter log the first N occurrences of a message,
	// then every Mth.
	SampleInitial    int `json:"sampleInitial,omitempty"`
	SampleThereafter int `json:"sampleThereafter,omitempty"`
}

// ParseLevel parses debug|info|warn|error|fatal, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// ApplyConfig builds a logger writing to the console.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	l := NewLogger(WithLevel(level), WithFormatter(formatter), WithOutput(NewConsoleOutput())).(*BaseLogger)
	h := l.slogLogger.Handler().(*bridgeHandler)
	h = h.withRedactions(cfg.RedactKeys).withSampler(cfg.SampleInitial, cfg.SampleThereafter)
	l.slogLogger = slog.New(h)
	return l, nil
}
