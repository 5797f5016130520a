package beacon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpfleet/wpfleet/pkg/apiclient"
)

func TestSendReportsVitals(t *testing.T) {
	var got apiclient.Heartbeat
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/daemon/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := New(apiclient.New(srv.URL).WithAPIKey("test-key"), func() int { return 3 }, Config{
		Address:  "10.0.0.5",
		Version:  "1.2.3",
		DiskPath: t.TempDir(),
	})
	b.send(context.Background())

	assert.NotEmpty(t, got.Hostname)
	assert.Equal(t, "10.0.0.5", got.Address)
	assert.Equal(t, "1.2.3", got.AgentVersion)
	assert.Equal(t, 3, got.SiteCount)
	assert.Greater(t, got.DiskTotal, int64(0))
	assert.GreaterOrEqual(t, got.DiskTotal, got.DiskFree)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	var beats atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/daemon/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		beats.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := New(apiclient.New(srv.URL).WithAPIKey("k"), func() int { return 0 }, Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// The immediate first beat lands, then Run waits on the ticker.
	assert.Eventually(t, func() bool { return beats.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
