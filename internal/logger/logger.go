package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Init points the default slog logger at a text log file. Logs never go to
// the terminal because the TUI owns it.
func Init(path, level string) error {
	if path == "" {
		path = "relaymesh.log"
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return nil
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
