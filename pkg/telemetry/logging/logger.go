package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

// LogFormat represents the output format for logs.
type LogFormat string

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON LogFormat = "json"
	// FormatText outputs logs in key=value text format.
	FormatText LogFormat = "text"
)

// Logger owns the process slog setup. Level and secrets can change at
// runtime when the configuration is reloaded.
type Logger struct {
	slog     *slog.Logger
	level    *slog.LevelVar
	redactor *Redactor
}

// New builds a logger writing to w (os.Stdout when nil). secrets are the
// literal values masked when cfg.RedactCredentials is set.
func New(cfg config.LoggingConfig, secrets []string, w io.Writer) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}
	if w == nil {
		w = os.Stdout
	}

	lv := &slog.LevelVar{}
	lv.Set(level)
	opts := &slog.HandlerOptions{
		Level:     lv,
		AddSource: cfg.AddSource,
	}

	var inner slog.Handler
	switch format {
	case FormatText:
		inner = slog.NewTextHandler(w, opts)
	default:
		inner = slog.NewJSONHandler(w, opts)
	}

	var redactor *Redactor
	if cfg.RedactCredentials {
		redactor = NewRedactor(secrets)
	}

	return &Logger{
		slog:     slog.New(NewHandler(inner, redactor)),
		level:    lv,
		redactor: redactor,
	}, nil
}

// Slog returns the underlying slog logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// SetDefault installs the logger as slog's default.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.slog)
}

// Reconfigure applies a new level and secret list. Format and output
// changes need a restart.
func (l *Logger) Reconfigure(cfg config.LoggingConfig, secrets []string) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	l.level.Set(level)
	if l.redactor != nil {
		l.redactor.SetSecrets(secrets)
	}
	return nil
}

// Secrets returns the credentials in cfg that must never reach logs.
func Secrets(cfg *config.Config) []string {
	var out []string
	for _, u := range cfg.Upstreams {
		out = append(out, u.Password)
	}
	for _, u := range cfg.Users {
		out = append(out, u.Password)
	}
	if cfg.Limits.RateLimit.Redis.Password != "" {
		out = append(out, cfg.Limits.RateLimit.Redis.Password)
	}
	return out
}

// parseLevel parses a log level string into slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// parseFormat parses a log format string into LogFormat.
func parseFormat(formatStr string) (LogFormat, error) {
	switch strings.ToLower(formatStr) {
	case "json", "":
		return FormatJSON, nil
	case "text", "console":
		return FormatText, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format: %s", formatStr)
	}
}
