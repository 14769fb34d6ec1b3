// Package ndjson reads and writes newline-delimited JSON streams: one value
// per line, size-capped.
package ndjson

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// MaxMessageSize is the maximum NDJSON message size (256 KiB)
const MaxMessageSize = 256 * 1024

// ErrTooLarge is returned for values or lines over MaxMessageSize
var ErrTooLarge = errors.New("ndjson message exceeds size limit")

// Encoder writes NDJSON messages to an output stream
type Encoder struct {
	writer    *bufio.Writer
	logger    *slog.Logger
	autoFlush bool
}

// NewEncoder creates an encoder that flushes after every message. A nil
// logger uses slog.Default.
func NewEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{
		writer:    bufio.NewWriter(w),
		logger:    logger,
		autoFlush: true,
	}
}

// NewBufferedEncoder creates an encoder that only writes through on Flush or
// when its buffer fills
func NewBufferedEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	e := NewEncoder(w, logger)
	e.autoFlush = false
	return e
}

// Encode writes v as a single JSON line
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if len(data) > MaxMessageSize {
		e.logger.Error("message exceeds size limit",
			"size", len(data),
			"limit", MaxMessageSize)
		return fmt.Errorf("message size %d: %w", len(data), ErrTooLarge)
	}

	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	if e.autoFlush {
		return e.Flush()
	}
	return nil
}

// Flush writes any buffered data to the underlying writer
func (e *Encoder) Flush() error {
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	return nil
}

// Decoder reads NDJSON messages from an input stream
type Decoder struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	line    int
}

// NewDecoder creates a new NDJSON decoder
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)

	return &Decoder{
		scanner: scanner,
		logger:  logger,
	}
}

// Line returns the number of the last line read
func (d *Decoder) Line() int {
	return d.line
}

// Decode reads the next non-empty line into v. It returns io.EOF at the end
// of the stream.
func (d *Decoder) Decode(v any) error {
	for {
		if !d.scanner.Scan() {
			err := d.scanner.Err()
			if errors.Is(err, bufio.ErrTooLong) {
				return fmt.Errorf("line %d: %w", d.line+1, ErrTooLarge)
			}
			if err != nil {
				return fmt.Errorf("scanner error at line %d: %w", d.line, err)
			}
			return io.EOF
		}
		d.line++

		data := d.scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		if err := json.Unmarshal(data, v); err != nil {
			d.logger.Error("failed to unmarshal JSON",
				"line", d.line,
				"error", err,
				"data", string(data[:min(100, len(data))]))
			return fmt.Errorf("failed to unmarshal line %d: %w", d.line, err)
		}
		return nil
	}
}

// Each decodes every value in r as a T and hands it to fn. It stops at the
// first decode or callback error.
func Each[T any](r io.Reader, logger *slog.Logger, fn func(T) error) error {
	dec := NewDecoder(r, logger)
	for {
		var v T
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}
