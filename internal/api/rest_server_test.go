package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/annel0/voxel-world/internal/storage"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*RestServer, *world.World) {
	t.Helper()
	return newTestServerWithSecret(t, "")
}

func newTestServerWithSecret(t *testing.T, secret string) (*RestServer, *world.World) {
	t.Helper()
	st := storage.New(storage.NewMemoryKV(), storage.DefaultOptions())
	w, err := world.New(world.DefaultOptions(), st, block.Vanilla())
	require.NoError(t, err)
	_, _ = st.Release()
	t.Cleanup(func() {
		if w.RefCnt() > 0 {
			_, _ = w.Release()
		}
	})

	reg := prometheus.NewRegistry()
	rs, err := NewRestServer(Config{World: w, JWTSecret: secret, Registerer: reg, Gatherer: reg})
	require.NoError(t, err)
	return rs, w
}

func do(t *testing.T, rs *RestServer, method, path, body string) (int, GenericResponse) {
	t.Helper()
	return doAuth(t, rs, method, path, body, "")
}

func doAuth(t *testing.T, rs *RestServer, method, path, body, token string) (int, GenericResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	rs.Handler().ServeHTTP(rec, req)

	var resp GenericResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

// decode перекладывает Data ответа в структуру
func decode(t *testing.T, data any, out any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(bytes.NewReader(raw)).Decode(out))
}

func TestNewRestServerRequiresWorld(t *testing.T) {
	_, err := NewRestServer(Config{})
	assert.ErrorIs(t, err, world.ErrInvalidArgument)
}

func TestHealth(t *testing.T) {
	rs, w := newTestServer(t)
	code, _ := do(t, rs, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)

	_, err := w.Release()
	require.NoError(t, err)
	code, _ = do(t, rs, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestGetBlockDefaults(t *testing.T) {
	rs, _ := newTestServer(t)
	code, resp := do(t, rs, http.MethodGet, "/api/v1/blocks/10/64/-3", "")
	require.Equal(t, http.StatusOK, code)

	var info BlockInfo
	decode(t, resp.Data, &info)
	assert.Equal(t, block.Air, info.ID)
	assert.Equal(t, 15, info.SkyLight)
	assert.Equal(t, 0, info.BlockLight)
}

func TestSetAndGetBlock(t *testing.T) {
	rs, w := newTestServer(t)

	code, resp := do(t, rs, http.MethodPut, "/api/v1/blocks/1/2/3", `{"id":"minecraft:wool","meta":5}`)
	require.Equal(t, http.StatusOK, code, resp.Message)
	code, _ = do(t, rs, http.MethodPut, "/api/v1/blocks/1/3/3", `{"legacy_id":12,"meta":1}`)
	require.Equal(t, http.StatusOK, code)

	code, resp = do(t, rs, http.MethodGet, "/api/v1/blocks/1/2/3", "")
	require.Equal(t, http.StatusOK, code)
	var info BlockInfo
	decode(t, resp.Data, &info)
	assert.Equal(t, block.Wool, info.ID)
	assert.Equal(t, 5, info.Meta)
	assert.Equal(t, block.RuntimeID(35, 5), info.RuntimeID)

	state, err := w.GetBlockState(1, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, block.Sand, state.ID)
	assert.Equal(t, 1, state.Meta)
}

func TestSetBlockErrors(t *testing.T) {
	rs, _ := newTestServer(t)

	cases := []struct {
		path, body string
	}{
		{"/api/v1/blocks/a/2/3", `{"id":"stone"}`},
		{"/api/v1/blocks/0/300/0", `{"id":"stone"}`},
		{"/api/v1/blocks/0/0/0", `{}`},
		{"/api/v1/blocks/0/0/0", `{"id":"stone","meta":15}`},
		{"/api/v1/blocks/0/0/0", `{"id":"stone","layer":5}`},
		{"/api/v1/blocks/0/0/0", `not json`},
	}
	for _, tc := range cases {
		code, resp := do(t, rs, http.MethodPut, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, code, "%s %s", tc.path, tc.body)
		assert.False(t, resp.Success)
	}
}

func TestGetChunk(t *testing.T) {
	rs, w := newTestServer(t)

	code, _ := do(t, rs, http.MethodGet, "/api/v1/chunks/4/4", "")
	assert.Equal(t, http.StatusNotFound, code)

	require.NoError(t, w.SetBlockID(64+3, 70, 64+2, block.Stone))
	code, resp := do(t, rs, http.MethodGet, "/api/v1/chunks/4/4", "")
	require.Equal(t, http.StatusOK, code)

	var info ChunkInfo
	decode(t, resp.Data, &info)
	assert.Equal(t, 1, info.Sections)
	assert.True(t, info.Dirty)
	assert.Equal(t, 70, info.HeightMap[2<<4|3])
	assert.Equal(t, 0, info.HeightMap[0])
}

func TestSaveAndGC(t *testing.T) {
	rs, w := newTestServer(t)
	require.NoError(t, w.SetBlockID(0, 0, 0, block.Stone))

	code, _ := do(t, rs, http.MethodPost, "/api/v1/save", "")
	require.Equal(t, http.StatusOK, code)
	exists, err := w.Storage().ChunkExists(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.True(t, exists)

	code, _ = do(t, rs, http.MethodPost, "/api/v1/gc?full=maybe", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := do(t, rs, http.MethodPost, "/api/v1/gc?full=true", "")
	require.Equal(t, http.StatusOK, code)
	var out struct {
		Evicted int  `json:"evicted"`
		Full    bool `json:"full"`
	}
	decode(t, resp.Data, &out)
	assert.Equal(t, 1, out.Evicted)
	assert.True(t, out.Full)
	assert.Equal(t, 0, w.Manager().Stats().Chunks)
}

func TestStatsAndMetrics(t *testing.T) {
	rs, _ := newTestServer(t)
	code, resp := do(t, rs, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, code)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "cache")
	assert.Contains(t, data, "server")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	rs.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "world_api_http_request_duration_seconds")
}

func TestUptimeFormat(t *testing.T) {
	m := NewServerMetrics()
	assert.True(t, strings.HasSuffix(m.GetUptime(), "с"))
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	const secret = "test-secret"
	rs, w := newTestServerWithSecret(t, secret)
	token, err := IssueToken(secret, "ops", time.Minute)
	require.NoError(t, err)
	forged, err := IssueToken("other-secret", "ops", time.Minute)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "ops", -time.Minute)
	require.NoError(t, err)

	routes := []struct{ method, path, body string }{
		{http.MethodPut, "/api/v1/blocks/0/0/0", `{"id":"stone"}`},
		{http.MethodPost, "/api/v1/save", ""},
		{http.MethodPost, "/api/v1/gc", ""},
	}
	for _, r := range routes {
		code, resp := do(t, rs, r.method, r.path, r.body)
		assert.Equal(t, http.StatusUnauthorized, code, r.path)
		assert.False(t, resp.Success)

		for _, bad := range []string{forged, expired, "not-a-jwt"} {
			code, _ = doAuth(t, rs, r.method, r.path, r.body, bad)
			assert.Equal(t, http.StatusUnauthorized, code, r.path)
		}
	}
	state, err := w.GetBlockState(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, block.Air, state.ID)

	for _, r := range routes {
		code, resp := doAuth(t, rs, r.method, r.path, r.body, token)
		assert.Equal(t, http.StatusOK, code, "%s: %s", r.path, resp.Message)
	}

	// чтение токена не требует
	code, _ := do(t, rs, http.MethodGet, "/api/v1/blocks/0/0/0", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, rs, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestMalformedAuthorizationHeader(t *testing.T) {
	rs, _ := newTestServerWithSecret(t, "test-secret")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/save", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	rs.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Неверный формат токена")
}
