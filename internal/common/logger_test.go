package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLogSinks(t *testing.T) {
	tests := []struct {
		name    string
		outputs []string
		want    logSinks
	}{
		{name: "default", outputs: nil, want: logSinks{stdout: true}},
		{name: "stdout", outputs: []string{"stdout"}, want: logSinks{stdout: true}},
		{name: "file only", outputs: []string{"file"}, want: logSinks{file: true}},
		{name: "both", outputs: []string{"stdout", "file"}, want: logSinks{stdout: true, file: true}},
		{name: "unknown falls back to stdout", outputs: []string{"syslog"}, want: logSinks{stdout: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveLogSinks(tt.outputs))
		})
	}
}

func TestResolveLogLevel(t *testing.T) {
	level, ok := resolveLogLevel(" DEBUG ")
	assert.True(t, ok)
	assert.Equal(t, "debug", level)

	level, ok = resolveLogLevel("")
	assert.True(t, ok)
	assert.Equal(t, "info", level)

	level, ok = resolveLogLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, "info", level)
}

func TestInitLogger_FileOutput(t *testing.T) {
	config := NewDefaultConfig()
	config.Artifacts.Dir = t.TempDir()
	config.Logging.Output = []string{"file"}
	config.Logging.Level = "warn"

	logger := InitLogger(config)
	require.NotNil(t, logger)

	info, err := os.Stat(filepath.Dir(LogFilePath(config)))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(config.Artifacts.Dir, "logs", "sitecheck.log"), LogFilePath(config))
}

func TestValidate_LoggingOutput(t *testing.T) {
	config := NewDefaultConfig()
	config.Logging.Output = []string{"stdout", "syslog"}
	assert.Error(t, config.Validate())

	config.Logging.Output = []string{"stdout", "file"}
	assert.NoError(t, config.Validate())
}
