package log

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

var (
	providerMu     sync.RWMutex
	globalProvider LoggerProvider
)

// ParseLevel converts "debug", "info", "warn" or "error" to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// ToLogLevel is ParseLevel for levels known to be valid; it panics otherwise.
func ToLogLevel(level string) Level {
	l, err := ParseLevel(level)
	if err != nil {
		panic(err)
	}
	return l
}

// SetProvider replaces the global provider. A *ZerologProvider also receives
// library warnings raised through errors.Warn.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	globalProvider = p
	providerMu.Unlock()

	if zp, ok := p.(*ZerologProvider); ok {
		warnLogger := zp.GetLoggerWithName("warnings").(*zerologLogger)
		errors.SetZerologWarnFunc(func(w error) {
			if !zp.enabled(LevelWarn) {
				return
			}
			e := warnLogger.zl.Warn()
			if m, ok := w.(zerolog.LogObjectMarshaler); ok {
				e = e.Object("warning", m)
			}
			e.Msg(w.Error())
		})
	} else {
		errors.SetZerologWarnFunc(nil)
	}
}

// Provider returns the global provider, creating an info-level zerolog provider on first use.
func Provider() LoggerProvider {
	providerMu.RLock()
	p := globalProvider
	providerMu.RUnlock()
	if p != nil {
		return p
	}

	providerMu.Lock()
	defer providerMu.Unlock()
	if globalProvider == nil {
		globalProvider = NewZerologProvider(LevelInfo)
	}
	return globalProvider
}

// GetLogger returns the default logger of the global provider.
func GetLogger() Logger {
	return Provider().GetLogger()
}

// GetLoggerWithName returns a component logger of the global provider.
func GetLoggerWithName(name string) Logger {
	return Provider().GetLoggerWithName(name)
}
