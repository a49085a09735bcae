package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springtools/stsclient/config"
	"github.com/springtools/stsclient/rpc"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Command = "true"
	cfg.AuthToken = "secret"
	cfg.DataDir = t.TempDir()
	cfg.WorkDir = t.TempDir()
	require.NoError(t, cfg.Validate())

	a, err := newApp(cfg, true)
	require.NoError(t, err)
	return a
}

func TestHandler_Health(t *testing.T) {
	a := newTestApp(t)
	h := newHandler(a, http.NotFoundHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandler_StatusRequiresToken(t *testing.T) {
	a := newTestApp(t)
	h := newHandler(a, http.NotFoundHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_Status(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.progress.Handle(context.Background(), rpc.ProgressParams{ID: "index", StatusMsg: "Indexing"}))
	h := newHandler(a, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var st statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, version, st.Version)
	assert.Equal(t, "idle", st.State)
	assert.False(t, st.Connected)
	assert.Equal(t, 1, st.Tasks)
	assert.False(t, st.CodeLensProvider)
}

func TestRunConfigInit(t *testing.T) {
	path := t.TempDir() + "/stsclient.yaml"

	require.NoError(t, runConfigInit(versionCmd, []string{path}))
	_, err := config.Load(path)
	// the default config has no server command yet
	assert.ErrorIs(t, err, config.ErrInvalid)

	assert.Error(t, runConfigInit(versionCmd, []string{path}), "existing file must not be overwritten")
}
