package logutil

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/charmbracelet/log"
)

var (
	rootMu sync.Mutex
	root   = newRoot(os.Stderr)
)

func newRoot(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           log.InfoLevel,
	})
}

// Configure sets the minimum level for loggers handed out by New afterwards.
// Loggers created earlier keep their level. An empty level means info.
func Configure(levelRaw string) error {
	level, err := ParseLevel(levelRaw)
	if err != nil {
		return err
	}
	rootMu.Lock()
	defer rootMu.Unlock()
	root.SetLevel(level)
	log.SetDefault(root)
	return nil
}

func ParseLevel(levelRaw string) (log.Level, error) {
	levelRaw = strings.ToLower(strings.TrimSpace(levelRaw))
	switch levelRaw {
	case "":
		return log.InfoLevel, nil
	case "trace", "trac":
		// charm has no trace level; debug is the most verbose it offers.
		return log.DebugLevel, nil
	}
	level, err := log.ParseLevel(levelRaw)
	if err != nil {
		return 0, fmt.Errorf("invalid loglevel %q", levelRaw)
	}
	return level, nil
}

// SetOutput redirects all loggers. Tests use it to capture output.
func SetOutput(w io.Writer) {
	rootMu.Lock()
	defer rootMu.Unlock()
	root.SetOutput(w)
}

func New(component string) *log.Logger {
	rootMu.Lock()
	defer rootMu.Unlock()
	return root.WithPrefix(component)
}

// MaskSecret keeps the first ten characters of a secret so operators can
// tell keys apart without the log ever holding the full value.
func MaskSecret(secret string) string {
	const keep = 10
	if secret == "" {
		return ""
	}
	if len(secret) <= keep {
		return secret[:len(secret)/2] + "..."
	}
	return secret[:keep] + "..."
}
