// Package logger is the process-wide logrus front end. Interactive
// runs get colored text; deployments behind a log shipper set
// LOG_FORMAT=json. The trading core tags lines with symbol and order
// context through WithSymbol / WithOrder so per-grid activity is
// filterable downstream.
package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls output level and encoding
type Config struct {
	Level  string `json:"level"`  // debug, info, warn, error (default info)
	Format string `json:"format"` // text (default) or json
}

// Log is the global logger; usable before Init for early bootstrap
var Log = build(nil)

// Init reconfigures the global logger from config
func Init(cfg *Config) error {
	if cfg != nil && cfg.Level != "" {
		if _, err := logrus.ParseLevel(cfg.Level); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	Log = build(cfg)
	return nil
}

func build(cfg *Config) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	level := logrus.InfoLevel
	if cfg != nil && cfg.Level != "" {
		if parsed, err := logrus.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	l.SetLevel(level)

	if cfg != nil && cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.TimeOnly,
			ForceColors:     true,
		})
	}
	return l
}

// WithSymbol tags an entry with the trading pair. Workers hold one of
// these for their whole lifetime so every line they emit carries it.
func WithSymbol(symbol string) *logrus.Entry {
	return Log.WithField("symbol", symbol)
}

// WithOrder tags an entry with venue order context
func WithOrder(symbol, orderID string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{"symbol": symbol, "order_id": orderID})
}

func Debugf(format string, args ...interface{}) {
	Log.Debugf(format, args...)
}

func Info(args ...interface{}) {
	Log.Info(args...)
}

func Infof(format string, args ...interface{}) {
	Log.Infof(format, args...)
}

func Warn(args ...interface{}) {
	Log.Warn(args...)
}

func Warnf(format string, args ...interface{}) {
	Log.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Log.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	Log.Fatalf(format, args...)
}
