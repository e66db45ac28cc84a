package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	req := require.New(t)

	req.Equal(zapcore.DebugLevel, ParseLevel("debug"))
	req.Equal(zapcore.WarnLevel, ParseLevel(" WARN "))
	req.Equal(zapcore.InfoLevel, ParseLevel("verbose"))
	req.Equal(zapcore.InfoLevel, ParseLevel(""))
}

func TestNew(t *testing.T) {
	log := New("error")
	require.NotNil(t, log)
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))
	require.True(t, log.Core().Enabled(zapcore.ErrorLevel))
}
