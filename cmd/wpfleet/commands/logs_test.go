package commands

import (
	"testing"
	"time"
)

func TestExtractTimestampRFC3339Prefix(t *testing.T) {
	line := "2026-01-15T10:30:45Z INFO Server started"
	got := extractTimestamp(line)
	want := time.Date(2026, 1, 15, 10, 30, 45, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("extractTimestamp = %v, want %v", got, want)
	}
}

func TestExtractTimestampJSONTimeField(t *testing.T) {
	line := `{"time":"2026-01-15T10:30:45.123Z","level":"INFO","msg":"Server started"}`
	got := extractTimestamp(line)
	if got.IsZero() {
		t.Fatal("expected timestamp from JSON time field")
	}
	if got.Year() != 2026 || got.Month() != time.January || got.Day() != 15 {
		t.Errorf("unexpected timestamp: %v", got)
	}
}

func TestExtractTimestampNoTimestamp(t *testing.T) {
	if got := extractTimestamp("plain log line without a date"); !got.IsZero() {
		t.Errorf("expected zero time, got %v", got)
	}
}
