package ndjson

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/iambrandonn/bmoffice/internal/protocol"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	logger := discard()

	encoder := NewEncoder(&buf, logger)
	decoder := NewDecoder(&buf, logger)

	entry := protocol.LogEntry{
		ID:        "log-1",
		Timestamp: time.Date(2025, 10, 19, 18, 0, 0, 0, time.UTC),
		AgentID:   "dev-1",
		EventType: protocol.EventHandoff,
		Message:   "dev-1 hands story 1.2 to qa-1",
		Metadata:  map[string]any{"movement_id": "m1"},
	}

	if err := encoder.Encode(entry); err != nil {
		t.Fatalf("failed to encode entry: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "}\n") {
		t.Fatalf("encoded line not newline-terminated: %q", buf.String())
	}

	var decoded protocol.LogEntry
	if err := decoder.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode entry: %v", err)
	}
	if decoded.ID != entry.ID || decoded.EventType != entry.EventType {
		t.Errorf("decoded %+v, want %+v", decoded, entry)
	}
	if !decoded.Timestamp.Equal(entry.Timestamp) {
		t.Errorf("timestamp mismatch: got %v, want %v", decoded.Timestamp, entry.Timestamp)
	}
	if decoder.Line() != 1 {
		t.Errorf("Line() = %d, want 1", decoder.Line())
	}
}

func TestBufferedEncoderWritesOnFlush(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewBufferedEncoder(&buf, discard())

	if err := encoder.Encode(map[string]int{"n": 1}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffered encoder wrote through before Flush: %q", buf.String())
	}
	if err := encoder.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if buf.String() != "{\"n\":1}\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestEncoderSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf, discard())

	large := map[string]string{"data": strings.Repeat("x", MaxMessageSize)}
	err := encoder.Encode(large)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Error("oversized message was partially written")
	}
}

func TestDecoderSizeLimit(t *testing.T) {
	line := `{"data":"` + strings.Repeat("x", MaxMessageSize) + `"}` + "\n"
	decoder := NewDecoder(strings.NewReader(line), discard())

	var v map[string]string
	if err := decoder.Decode(&v); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestDecoderEmptyLines(t *testing.T) {
	decoder := NewDecoder(strings.NewReader("\n\n{\"n\":1}\n\n{\"n\":2}\n"), discard())

	var v struct{ N int }
	for _, want := range []int{1, 2} {
		if err := decoder.Decode(&v); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if v.N != want {
			t.Errorf("got %d, want %d", v.N, want)
		}
	}
	if decoder.Line() != 5 {
		t.Errorf("Line() = %d, want 5", decoder.Line())
	}
	if err := decoder.Decode(&v); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDecoderInvalidJSON(t *testing.T) {
	decoder := NewDecoder(strings.NewReader("{\"n\":1}\nnot json\n"), discard())

	var v map[string]any
	if err := decoder.Decode(&v); err != nil {
		t.Fatalf("first line: %v", err)
	}
	err := decoder.Decode(&v)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 error, got %v", err)
	}
}

func TestEach(t *testing.T) {
	input := "{\"id\":\"a\"}\n{\"id\":\"b\"}\n{\"id\":\"c\"}\n"

	var ids []string
	err := Each(strings.NewReader(input), discard(), func(e protocol.LogEntry) error {
		ids = append(ids, e.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("ids = %v", ids)
	}

	stop := errors.New("stop")
	n := 0
	err = Each(strings.NewReader(input), discard(), func(protocol.LogEntry) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Errorf("Each did not stop on callback error: err=%v n=%d", err, n)
	}
}
