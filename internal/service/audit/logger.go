// Package audit records completed turns to append-only sinks.
package audit

import (
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nyu-mlab/gemini-proxy/internal/logging"
	"github.com/nyu-mlab/gemini-proxy/internal/model/chat"
)

// Sink persists audit records. Implementations are called from a single
// goroutine and need not be safe for concurrent use.
type Sink interface {
	Write(rec chat.AuditRecord) error
	Close() error
}

// Logger queues records and writes them from a background goroutine so the
// request path never waits on disk. Sink failures are logged, not returned.
type Logger struct {
	sinks []Sink
	log   *logging.Logger
	queue chan chat.AuditRecord
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewLogger starts a logger writing to every sink. buffer bounds the queue;
// records beyond it are dropped with a warning.
func NewLogger(log *logging.Logger, buffer int, sinks ...Sink) *Logger {
	if buffer < 1 {
		buffer = 1
	}
	l := &Logger{
		sinks: sinks,
		log:   log.Sub("audit"),
		queue: make(chan chat.AuditRecord, buffer),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Record enqueues one completed turn. responseLength is the reply's character count.
func (l *Logger) Record(identity, message string, responseLength int, ts time.Time) {
	rec := chat.AuditRecord{
		Timestamp:    ts.UTC(),
		UserID:       identity,
		Message:      message,
		OutputLength: responseLength,
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.log.Warn().Str("user", identity).Msg("audit logger closed, dropping record")
		return
	}

	select {
	case l.queue <- rec:
	default:
		l.log.Warn().Str("user", identity).Msg("audit queue full, dropping record")
	}
}

// Close flushes queued records and closes the sinks.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done

	var errs []error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Logger) run() {
	defer close(l.done)
	for rec := range l.queue {
		for _, s := range l.sinks {
			if err := s.Write(rec); err != nil {
				l.log.Error().Err(err).Str("user", rec.UserID).Msg("failed to write audit record")
			}
		}
	}
}

// OutputLength counts characters, not bytes.
func OutputLength(reply string) int {
	return utf8.RuneCountInString(reply)
}
