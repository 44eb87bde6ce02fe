package cmd

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	require.Equal(t, log.LevelWarn, lvl)

	_, err = ParseLevel("nonsense")
	require.Error(t, err)
}

func TestHexU32String(t *testing.T) {
	require.Equal(t, "000004d2", HexU32(1234).String())
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewLogger(&buf, log.LevelInfo, "json")
	require.NoError(t, err)

	_, err = NewLogger(&buf, log.LevelInfo, "text")
	require.NoError(t, err)

	_, err = NewLogger(&buf, log.LevelInfo, "bogus")
	require.Error(t, err)
}

func TestLoggingWriterDetectsBinary(t *testing.T) {
	require.True(t, logAsText([]byte("hello\nworld\t")))
	require.False(t, logAsText([]byte{0x00, 0x01, 0xFF}))
}
