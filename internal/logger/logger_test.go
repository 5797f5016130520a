package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// captureOutput redirects logger output to a buffer for testing.
// Returns the buffer and a cleanup function to restore original output.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalErrOutput := errOutput
	originalColor := useColor
	output = buf
	errOutput = nil
	useColor = false // Disable colors for easier testing
	mu.Unlock()

	// Reconfigure with new output
	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		errOutput = originalErrOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

// ============================================================================
// Level Filtering Tests
// ============================================================================

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "DEBUG")
		assert.Contains(t, out, "INFO")
		assert.Contains(t, out, "WARN")
		assert.Contains(t, out, "ERROR")
	})

	t.Run("InfoLevelFiltersDebug", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")

		Debug("debug message")
		Info("info message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.Contains(t, out, "info message")
	})

	t.Run("ErrorLevelFiltersEverythingElse", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("ERROR")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.NotContains(t, out, "warn message")
		assert.Contains(t, out, "error message")

		SetLevel("INFO")
	})

	t.Run("InvalidLevelIgnored", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetLevel("VERBOSE") // no such level

		Info("still info")
		assert.Contains(t, buf.String(), "still info")
	})
}

// ============================================================================
// JSON Format Tests
// ============================================================================

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("json")
	defer SetFormat("text")

	Info("backup finished", KeySiteName, "blog", KeySize, 1024)

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "backup finished", record["msg"])
	assert.Equal(t, "blog", record[KeySiteName])
	assert.Equal(t, float64(1024), record[KeySize])
}

// ============================================================================
// Context Field Tests
// ============================================================================

func TestContextFields(t *testing.T) {
	t.Run("JobFieldsInjected", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")

		lc := NewLogContext("10.1.2.3").
			WithSite("site-uuid", "blog").
			WithJob("job-uuid").
			WithStage("upload_remote")
		ctx := WithContext(context.Background(), lc)

		InfoCtx(ctx, "stage started")

		out := buf.String()
		assert.Contains(t, out, "site-uuid")
		assert.Contains(t, out, "blog")
		assert.Contains(t, out, "job-uuid")
		assert.Contains(t, out, "upload_remote")
		assert.Contains(t, out, "10.1.2.3")
	})

	t.Run("NilContextSafe", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		InfoCtx(context.Background(), "no log context")
		assert.Contains(t, buf.String(), "no log context")
	})

	t.Run("CloneIsIndependent", func(t *testing.T) {
		lc := NewLogContext("1.2.3.4").WithSite("a", "site-a")
		clone := lc.WithStage("backup_db")

		assert.Equal(t, "", lc.Stage)
		assert.Equal(t, "backup_db", clone.Stage)
		assert.Equal(t, "a", clone.SiteID)
	})
}

// ============================================================================
// Error Tee Tests
// ============================================================================

func TestErrorTeeDuplicatesErrors(t *testing.T) {
	primary := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalErrOutput := errOutput
	originalColor := useColor
	output = primary
	errOutput = errBuf
	useColor = false
	mu.Unlock()
	defer func() {
		mu.Lock()
		output = originalOutput
		errOutput = originalErrOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}()

	SetLevel("INFO")
	SetFormat("text")

	Info("routine message")
	Error("something broke", KeyError, "boom")

	assert.Contains(t, primary.String(), "routine message")
	assert.Contains(t, primary.String(), "something broke")

	// Only the error lands in the duplicate stream, as JSON.
	errLine := strings.TrimSpace(errBuf.String())
	require.NotEmpty(t, errLine)
	assert.NotContains(t, errBuf.String(), "routine message")

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(errLine), &record))
	assert.Equal(t, "something broke", record["msg"])
	assert.Equal(t, "boom", record[KeyError])
}

// ============================================================================
// Helper Tests
// ============================================================================

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512B"},
		{2048, "2.00KiB"},
		{3 << 20, "3.00MiB"},
		{func() int64 { gib := 3.36; return int64(gib * float64(1<<30)) }(), "3.36GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.n))
	}
}

func TestConcurrentLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				Info("concurrent", "worker", n, "iter", j)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 8*50, lines)
}
