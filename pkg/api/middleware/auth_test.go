package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpfleet/wpfleet/internal/master/api/auth"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newJWTService(t *testing.T) *auth.JWTService {
	t.Helper()
	svc, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	return svc
}

func okHandler(hit *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hit = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTAuthRejectsMissingAndBadTokens(t *testing.T) {
	svc := newJWTService(t)
	var hit bool
	h := JWTAuth(svc)(okHandler(&hit))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.False(t, hit)
}

func TestJWTAuthAcceptsAccessTokenOnly(t *testing.T) {
	svc := newJWTService(t)
	user := &models.User{ID: 1, Email: "a@example.com", Role: models.RoleSiteAdmin}
	pair, err := svc.GenerateTokenPair(user)
	require.NoError(t, err)

	var gotClaims *auth.Claims
	h := JWTAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = GetClaimsFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, gotClaims)
	assert.Equal(t, uint(1), gotClaims.UserID)

	// Refresh tokens must not authenticate API calls.
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	svc := newJWTService(t)
	var hit bool
	chain := JWTAuth(svc)(RequireRole(models.RoleSuperAdmin)(okHandler(&hit)))

	pair, err := svc.GenerateTokenPair(&models.User{ID: 2, Email: "n@example.com", Role: models.RoleNodeAdmin})
	require.NoError(t, err)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, hit)

	pair, err = svc.GenerateTokenPair(&models.User{ID: 3, Email: "s@example.com", Role: models.RoleSuperAdmin})
	require.NoError(t, err)
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, hit)
}

func TestNodeAPIKeyAuth(t *testing.T) {
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	node, err := st.CreateJoinRequest(ctx, "node-1", "10.0.0.1")
	require.NoError(t, err)
	_, key, err := st.ApproveNode(ctx, node.ID, "")
	require.NoError(t, err)

	var gotNode *models.Node
	h := NodeAPIKeyAuth(st)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotNode = GetNodeFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(APIKeyHeader, key)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, gotNode)
	assert.Equal(t, node.ID, gotNode.ID)

	// Wrong key.
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(APIKeyHeader, "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Blocked node gets 403, not 401.
	require.NoError(t, st.SetNodeStatus(ctx, node.ID, models.NodeBlocked))
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(APIKeyHeader, key)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTokenQueryParam(t *testing.T) {
	var gotAuth string
	h := TokenQueryParam(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))

	req := httptest.NewRequest("GET", "/stream?token=abc", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "Bearer abc", gotAuth)

	// An existing header wins over the query param.
	req = httptest.NewRequest("GET", "/stream?token=abc", nil)
	req.Header.Set("Authorization", "Bearer real")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "Bearer real", gotAuth)
}
