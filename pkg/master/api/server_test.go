package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpfleet/wpfleet/internal/seal"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

const testJWTSecret = "test-secret-key-for-testing-only-32chars"

func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sealer, err := seal.New("seal-secret-for-testing-32-characters!!")
	require.NoError(t, err)

	srv, err := NewServer(APIConfig{
		Port: 0,
		JWT:  JWTConfig{Secret: testJWTSecret},
	}, st, sealer, "test")
	require.NoError(t, err)
	return srv, st
}

func createTestUser(t *testing.T, st *store.Store, email string, role models.UserRole) *models.User {
	t.Helper()
	hash, err := models.HashPassword("hunter2hunter2")
	require.NoError(t, err)
	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	require.NoError(t, st.CreateUser(context.Background(), user))
	return user
}

func login(t *testing.T, ts *httptest.Server, email string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": "hunter2hunter2"})
	resp, err := http.Post(ts.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.AccessToken)
	return out.AccessToken
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestEnrollmentReleasesKeyExactlyOnce(t *testing.T) {
	srv, st := testServer(t)
	ts := httptest.NewServer(srv.server.Handler)
	defer ts.Close()

	createTestUser(t, st, "root@example.com", models.RoleSuperAdmin)
	token := login(t, ts, "root@example.com")

	// Agent asks to join.
	resp := doJSON(t, "POST", ts.URL+"/api/v1/nodes/join-request", "",
		map[string]string{"hostname": "web-01"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	join := decodeBody[struct {
		RequestID        uint   `json:"request_id"`
		RegistrationCode string `json:"registration_code"`
	}](t, resp)
	require.NotEmpty(t, join.RegistrationCode)

	// Before approval the poll reports pending, no key.
	resp = doJSON(t, "GET", ts.URL+"/api/v1/nodes/status/code/"+join.RegistrationCode, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody[struct {
		Status string `json:"status"`
		APIKey string `json:"api_key"`
	}](t, resp)
	assert.Equal(t, "pending", status.Status)
	assert.Empty(t, status.APIKey)

	// Operator approves.
	resp = doJSON(t, "POST", fmt.Sprintf("%s/api/v1/nodes/approve/%d", ts.URL, join.RequestID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// First poll after approval carries the key.
	resp = doJSON(t, "GET", ts.URL+"/api/v1/nodes/status/code/"+join.RegistrationCode, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status = decodeBody[struct {
		Status string `json:"status"`
		APIKey string `json:"api_key"`
	}](t, resp)
	assert.Equal(t, "active", status.Status)
	require.NotEmpty(t, status.APIKey)

	// Later polls keep resolving the code: status only, null key.
	resp = doJSON(t, "GET", ts.URL+"/api/v1/nodes/status/code/"+join.RegistrationCode, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	again := decodeBody[struct {
		Status string  `json:"status"`
		APIKey *string `json:"api_key"`
	}](t, resp)
	assert.Equal(t, "active", again.Status)
	assert.Nil(t, again.APIKey)

	// The released key authenticates the daemon surface.
	req, _ := http.NewRequest("POST", ts.URL+"/api/v1/daemon/heartbeat", bytes.NewReader([]byte(`{"disk_total":100,"disk_free":50}`)))
	req.Header.Set("X-API-KEY", status.APIKey)
	req.Header.Set("Content-Type", "application/json")
	hbResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, hbResp.StatusCode)
	_ = hbResp.Body.Close()
}

func TestApproveRequiresSuperAdmin(t *testing.T) {
	srv, st := testServer(t)
	ts := httptest.NewServer(srv.server.Handler)
	defer ts.Close()

	createTestUser(t, st, "node@example.com", models.RoleNodeAdmin)
	token := login(t, ts, "node@example.com")

	resp := doJSON(t, "POST", ts.URL+"/api/v1/nodes/approve/1", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	// And without any token at all: 401.
	resp = doJSON(t, "POST", ts.URL+"/api/v1/nodes/approve/1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func enrollNode(t *testing.T, st *store.Store) (*models.Node, string) {
	t.Helper()
	ctx := context.Background()
	node, err := st.CreateJoinRequest(ctx, "web-02", "10.0.0.2")
	require.NoError(t, err)
	node, key, err := st.ApproveNode(ctx, node.ID, "")
	require.NoError(t, err)
	require.NoError(t, st.ClaimNodeKey(ctx, node.ID))
	return node, key
}

func createTestSite(t *testing.T, st *store.Store, nodeID uint, name string) *models.Site {
	t.Helper()
	site := &models.Site{NodeID: nodeID, Name: name, Path: "/var/www/" + name, IsActive: true}
	require.NoError(t, st.CreateSite(context.Background(), site))
	return site
}

func TestBackupStartConflictsWhileRunning(t *testing.T) {
	srv, st := testServer(t)
	ts := httptest.NewServer(srv.server.Handler)
	defer ts.Close()

	createTestUser(t, st, "root@example.com", models.RoleSuperAdmin)
	token := login(t, ts, "root@example.com")
	node, _ := enrollNode(t, st)
	site := createTestSite(t, st, node.ID, "blog")

	url := fmt.Sprintf("%s/api/v1/sites/%d/backup/start", ts.URL, site.ID)
	resp := doJSON(t, "POST", url, token, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doJSON(t, "POST", url, token, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	// Stop raises the cooperative flag.
	resp = doJSON(t, "POST", fmt.Sprintf("%s/api/v1/sites/%d/backup/stop", ts.URL, site.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stop := decodeBody[struct {
		CancelRequested bool `json:"cancel_requested"`
	}](t, resp)
	assert.True(t, stop.CancelRequested)
}

func TestDaemonProgressEpochFencing(t *testing.T) {
	srv, st := testServer(t)
	ts := httptest.NewServer(srv.server.Handler)
	defer ts.Close()

	node, key := enrollNode(t, st)
	site := createTestSite(t, st, node.ID, "shop")

	ctx := context.Background()
	epoch, err := st.StartProgress(ctx, site.ID)
	require.NoError(t, err)

	update := func(epoch int64) *http.Response {
		body, _ := json.Marshal(map[string]any{
			"epoch":   epoch,
			"state":   "running",
			"percent": 40,
			"stage":   "backup_files",
		})
		req, _ := http.NewRequest("PUT",
			fmt.Sprintf("%s/api/v1/daemon/backup/progress/%d", ts.URL, site.ID),
			bytes.NewReader(body))
		req.Header.Set("X-API-KEY", key)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := update(epoch)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// A write from a previous epoch is fenced out.
	resp = update(epoch - 1)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestPreflightDenialIs507(t *testing.T) {
	srv, st := testServer(t)
	ts := httptest.NewServer(srv.server.Handler)
	defer ts.Close()

	node, key := enrollNode(t, st)
	site := createTestSite(t, st, node.ID, "tiny")
	require.NoError(t, st.SetSiteQuota(context.Background(), site.ID, 1024))

	body, _ := json.Marshal(map[string]any{"site_id": site.ID, "estimated_bytes": 1 << 20})
	req, _ := http.NewRequest("POST", ts.URL+"/api/v1/daemon/quota/preflight", bytes.NewReader(body))
	req.Header.Set("X-API-KEY", key)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)
	verdict := decodeBody[struct {
		Allowed       bool   `json:"allowed"`
		ExceededBound string `json:"exceeded_bound"`
	}](t, resp)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, "site", verdict.ExceededBound)
}

func TestSiteScopeReadsAsNotFound(t *testing.T) {
	srv, st := testServer(t)
	ts := httptest.NewServer(srv.server.Handler)
	defer ts.Close()

	// A site admin with no assignments sees nothing, not 403s.
	createTestUser(t, st, "site@example.com", models.RoleSiteAdmin)
	token := login(t, ts, "site@example.com")
	node, _ := enrollNode(t, st)
	site := createTestSite(t, st, node.ID, "hidden")

	resp := doJSON(t, "GET", fmt.Sprintf("%s/api/v1/sites/%d", ts.URL, site.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIServerLifecycle(t *testing.T) {
	srv, _ := testServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shutdown in time")
	}
}
