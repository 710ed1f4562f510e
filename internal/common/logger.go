package common

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const (
	LogOutputStdout = "stdout"
	LogOutputFile   = "file"

	logTimeFormat = "15:04:05"
)

var logLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// logSinks is the set of writers the [logging] section asks for
type logSinks struct {
	stdout bool
	file   bool
}

// resolveLogSinks reads the output list; an empty list means stdout
func resolveLogSinks(outputs []string) logSinks {
	var sinks logSinks
	for _, output := range outputs {
		switch strings.ToLower(strings.TrimSpace(output)) {
		case LogOutputStdout:
			sinks.stdout = true
		case LogOutputFile:
			sinks.file = true
		}
	}
	if !sinks.file {
		sinks.stdout = true
	}
	return sinks
}

// resolveLogLevel normalizes the configured level. Unknown levels fall back
// to info and report false.
func resolveLogLevel(level string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		return "info", true
	}
	if !logLevels[normalized] {
		return "info", false
	}
	return normalized, true
}

// LogFilePath is where the file writer puts the run log, next to the run
// artifacts so CI uploads both together
func LogFilePath(config *Config) string {
	return filepath.Join(config.Artifacts.Dir, "logs", "sitecheck.log")
}

// InitLogger builds the run logger from the [logging] section
func InitLogger(config *Config) arbor.ILogger {
	sinks := resolveLogSinks(config.Logging.Output)
	level, known := resolveLogLevel(config.Logging.Level)

	logger := arbor.NewLogger()

	var fileErr error
	if sinks.file {
		path := LogFilePath(config)
		if fileErr = os.MkdirAll(filepath.Dir(path), 0755); fileErr == nil {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   path,
				TimeFormat: logTimeFormat,
				MaxSize:    100 * 1024 * 1024, // 100 MB
				MaxBackups: 3,
				OutputType: models.OutputFormatLogfmt,
			})
		} else {
			// Without a log file the run would be silent
			sinks.stdout = true
		}
	}

	if sinks.stdout {
		logger = logger.WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			TimeFormat: logTimeFormat,
			OutputType: models.OutputFormatLogfmt,
		})
	}

	logger = logger.WithLevelFromString(level)

	if fileErr != nil {
		logger.Warn().Err(fileErr).Str("path", LogFilePath(config)).Msg("Failed to create log directory - logging to stdout")
	}
	if !known {
		logger.Warn().Str("level", config.Logging.Level).Msg("Unknown log level - using info")
	}
	return logger
}
