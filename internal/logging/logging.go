// Package logging owns the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

var (
	level  = new(slog.LevelVar)
	mu     sync.RWMutex
	logger = newLogger(os.Stderr)
)

func newLogger(w io.Writer) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	}))
}

// Logger returns the process logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLevel changes the minimum level for every logger handed out by Logger.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Level reports the current minimum level.
func Level() slog.Level {
	return level.Level()
}

// SetOutput redirects the process logger. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w)
}
