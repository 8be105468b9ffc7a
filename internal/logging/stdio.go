package logging

import (
	"log/slog"
)

// SetupStdioMode initializes logging for stdio-transport modes (the
// MCP subcommand). stdout carries the protocol stream exclusively, so
// logs go to the file only; any stray write to stdout or stderr can
// corrupt the session.
func SetupStdioMode(filePath, level string) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      filePath,
		MaxSizeMB:     10,
		MaxFiles:      3,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("stdio mode logging initialized",
		slog.String("log_file", filePath),
		slog.String("level", level))

	return cleanup, nil
}
