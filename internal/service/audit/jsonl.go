package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nyu-mlab/gemini-proxy/internal/model/chat"
)

// JSONLSink appends one JSON object per line to a file.
type JSONLSink struct {
	f *os.File
}

type jsonlRecord struct {
	Timestamp    string `json:"timestamp"`
	UserID       string `json:"user_id"`
	Message      string `json:"message"`
	OutputLength int    `json:"output_length"`
}

// OpenJSONL opens path for appending, creating it and its directory if needed.
func OpenJSONL(path string) (*JSONLSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating audit log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &JSONLSink{f: f}, nil
}

// Write appends rec as a single line.
func (s *JSONLSink) Write(rec chat.AuditRecord) error {
	line, err := json.Marshal(jsonlRecord{
		Timestamp:    rec.Timestamp.UTC().Format(time.RFC3339Nano),
		UserID:       rec.UserID,
		Message:      rec.Message,
		OutputLength: rec.OutputLength,
	})
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}

// Close closes the file.
func (s *JSONLSink) Close() error {
	return s.f.Close()
}
