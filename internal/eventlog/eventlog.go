// Package eventlog records session events to an NDJSON file and reads them
// back for replay. Paths ending in ".zst" are zstd-compressed.
package eventlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/iambrandonn/bmoffice/internal/engine"
	"github.com/iambrandonn/bmoffice/internal/ndjson"
	"github.com/klauspost/compress/zstd"
)

// CompressedExt selects zstd compression
const CompressedExt = ".zst"

// EventLog appends engine events to a file. It is an engine.EventSink.
type EventLog struct {
	mu      sync.Mutex
	file    *os.File
	zw      *zstd.Encoder
	encoder *ndjson.Encoder
	logger  *slog.Logger
	count   int
	failed  bool
	closed  bool
}

// NewEventLog opens logPath for appending, creating it and its directory
func NewEventLog(logPath string, logger *slog.Logger) (*EventLog, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &EventLog{file: file, logger: logger}

	var w io.Writer = file
	if IsCompressed(logPath) {
		// each session appends its own frame; readers decode them in sequence
		zw, err := zstd.NewWriter(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		l.zw = zw
		w = zw
	}
	l.encoder = ndjson.NewBufferedEncoder(w, logger)

	return l, nil
}

// IsCompressed reports whether path selects zstd compression
func IsCompressed(path string) bool {
	return strings.HasSuffix(path, CompressedExt)
}

// Write appends one event
func (l *EventLog) Write(evt engine.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.New("event log is closed")
	}
	if err := l.encoder.Encode(evt); err != nil {
		return err
	}
	l.count++
	return nil
}

// Emit implements engine.EventSink. Write failures are logged once.
func (l *EventLog) Emit(evt engine.Event) {
	if err := l.Write(evt); err != nil {
		l.mu.Lock()
		first := !l.failed
		l.failed = true
		l.mu.Unlock()
		if first {
			l.logger.Error("failed to record event", "kind", evt.Kind, "error", err)
		}
	}
}

// Count returns the number of events written
func (l *EventLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Flush pushes buffered events to disk
func (l *EventLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	if err := l.encoder.Flush(); err != nil {
		return err
	}
	if l.zw != nil {
		if err := l.zw.Flush(); err != nil {
			return fmt.Errorf("failed to flush zstd stream: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the event log file
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if err := l.encoder.Flush(); err != nil {
		errs = append(errs, err)
	}
	if l.zw != nil {
		if err := l.zw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close zstd stream: %w", err))
		}
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close log file: %w", err))
	}
	return errors.Join(errs...)
}

// Open opens an event log for reading, decompressing if needed
func Open(logPath string) (io.ReadCloser, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	if !IsCompressed(logPath) {
		return file, nil
	}

	zr, err := zstd.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return &zstdReadCloser{Decoder: zr, file: file}, nil
}

type zstdReadCloser struct {
	*zstd.Decoder
	file *os.File
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.file.Close()
}

// Read calls fn for every event in the log at logPath, in order
func Read(logPath string, logger *slog.Logger, fn func(engine.Event) error) error {
	r, err := Open(logPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := ndjson.Each(r, logger, fn); err != nil {
		return fmt.Errorf("failed to read %s: %w", logPath, err)
	}
	return nil
}
