package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

// ParseLevel maps a --log.level flag value to a slog level, using the
// same names go-ethereum's log package assigns to log.LevelTrace..Crit.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		return 0, fmt.Errorf("unrecognized log level %q", s)
	}
}

// NewLogger builds a logger writing to w in either logfmt or JSON, matching
// the millisecond-precision timestamp formatting used by the rest of the
// dependency stack's structured logging.
func NewLogger(w io.Writer, lvl slog.Level, format string) (log.Logger, error) {
	switch format {
	case "", "text", "logfmt":
		return log.NewLogger(oplog.LogfmtMsHandlerWithLevel(w, lvl)), nil
	case "json":
		return log.NewLogger(oplog.JSONMsHandlerWithLevel(w, lvl)), nil
	default:
		return nil, fmt.Errorf("unrecognized log format %q", format)
	}
}

// LoggingWriter adapts a logger to an io.Writer so guest program output can
// be routed through structured logging instead of written raw.
type LoggingWriter struct {
	Name string
	Log  log.Logger
}

func logAsText(b []byte) bool {
	for _, c := range b {
		if (c < 0x20 || c >= 0x7F) && c != '\n' && c != '\t' {
			return false
		}
	}
	return true
}

func (lw *LoggingWriter) Write(b []byte) (int, error) {
	if logAsText(b) {
		lw.Log.Info(lw.Name, "text", string(b))
	} else {
		lw.Log.Info(lw.Name, "data", hexutil.Bytes(b))
	}
	return len(b), nil
}

// HexU32 lazily formats a uint32 as 0x-less zero-padded hex for logging.
type HexU32 uint32

func (v HexU32) String() string { return fmt.Sprintf("%08x", uint32(v)) }

func (v HexU32) MarshalText() ([]byte, error) { return []byte(v.String()), nil }
