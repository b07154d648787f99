package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	l, err := New("warn", "json")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	dev, err := New("debug", "console")
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "*******567", MaskPhone("0101234567"))
	assert.Equal(t, "**", MaskPhone("12"))
	assert.Equal(t, "", MaskPhone(""))
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
