// Package logging owns the process-wide zap logger.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
)

// Init builds the global sugared logger from LOG_LEVEL and redirects
// the standard library logger into it so all output lands in one
// stream. Safe to call more than once; later calls return the same
// logger.
func Init() *zap.SugaredLogger {
	once.Do(func() {
		var logger *zap.Logger
		switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
		case "debug", "dev":
			logger, _ = zap.NewDevelopment()
		default:
			logger, _ = zap.NewProduction()
		}
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
	})
	return sugar
}

// Sugar returns the global logger, initializing it on first use.
func Sugar() *zap.SugaredLogger { return Init() }

// ForSession returns a child logger that stamps the room and session
// identifiers onto every entry.
func ForSession(room, sessionID string) *zap.SugaredLogger {
	return Init().With("room", room, "session", sessionID)
}
