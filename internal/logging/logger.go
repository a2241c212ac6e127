package logging

import (
	"strings"
	"time"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const sentryFlushTimeout = 2 * time.Second

// Options configures the server logger.
type Options struct {
	Level string
	// SentryDSN enables shipping error-level entries to Sentry when set.
	SentryDSN string
	// SentryClient overrides the client built from SentryDSN.
	SentryClient *sentry.Client
}

// NewLogger returns a zap logger configured for structured production logging and a flush
// function to run before exit.
func NewLogger(options Options) (*zap.Logger, func(), error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(options.Level))

	baseLogger, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}

	client := options.SentryClient
	if client == nil && strings.TrimSpace(options.SentryDSN) != "" {
		client, err = sentry.NewClient(sentry.ClientOptions{Dsn: strings.TrimSpace(options.SentryDSN)})
		if err != nil {
			return nil, nil, err
		}
	}
	if client == nil {
		return baseLogger, func() { _ = baseLogger.Sync() }, nil
	}

	core, err := zapsentry.NewCore(zapsentry.Configuration{
		Level:             zapcore.ErrorLevel,
		EnableBreadcrumbs: true,
		BreadcrumbLevel:   zapcore.InfoLevel,
		Tags:              map[string]string{"service": "ecocarbon-api"},
	}, zapsentry.NewSentryClientFromClient(client))
	if err != nil {
		return nil, nil, err
	}
	logger := zapsentry.AttachCoreToLogger(core, baseLogger)
	flush := func() {
		_ = logger.Sync()
		client.Flush(sentryFlushTimeout)
	}
	return logger, flush, nil
}

// ParseLevel maps a configured level name onto a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
