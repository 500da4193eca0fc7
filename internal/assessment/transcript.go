package assessment

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TranscriptConfig controls the on-disk assessment transcript log.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// TranscriptEvent is one NDJSON line in a session transcript.
type TranscriptEvent struct {
	Timestamp string         `json:"ts"`
	OwnerID   string         `json:"owner_id"`
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// TranscriptLogger records assessment turns. Log never blocks.
type TranscriptLogger interface {
	Log(ev TranscriptEvent)
	Close() error
}

type noopTranscriptLogger struct{}

func (noopTranscriptLogger) Log(TranscriptEvent) {}
func (noopTranscriptLogger) Close() error        { return nil }

type fileTranscriptLogger struct {
	dir    string
	logger *slog.Logger
	queue  chan TranscriptEvent
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

const defaultTranscriptQueue = 256

// NewTranscriptLogger returns a logger that appends each event to
// {dir}/{owner}/{session}.ndjson from a background goroutine. A disabled
// config returns a logger that discards everything.
func NewTranscriptLogger(cfg TranscriptConfig, logger *slog.Logger) (TranscriptLogger, error) {
	if !cfg.Enabled {
		return noopTranscriptLogger{}, nil
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultTranscriptQueue
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &fileTranscriptLogger{
		dir:    cfg.Dir,
		logger: logger,
		queue:  make(chan TranscriptEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func (l *fileTranscriptLogger) Log(ev TranscriptEvent) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("transcript queue full, dropping event", "session_id", ev.SessionID, "event_type", ev.EventType)
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (l *fileTranscriptLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	<-l.done
	return nil
}

func (l *fileTranscriptLogger) run() {
	defer close(l.done)
	for ev := range l.queue {
		if err := l.write(ev); err != nil {
			l.logger.Warn("failed to write transcript event", "session_id", ev.SessionID, "error", err)
		}
	}
}

func (l *fileTranscriptLogger) write(ev TranscriptEvent) error {
	dir := filepath.Join(l.dir, safeName(ev.OwnerID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, safeName(ev.SessionID)+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// safeName keeps ids from escaping the log directory.
func safeName(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, s)
	if s == "." || s == ".." {
		return "_"
	}
	return s
}
