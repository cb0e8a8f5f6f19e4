package httpapi

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdminFunctionsCRUD(t *testing.T) {
	_, router, _, authMgr := newTestHandler(t)
	token := adminToken(t, authMgr)

	body := `{"name":"double","code":"export default (x) => x * 2","enabled":true}`
	req := httptest.NewRequest(http.MethodPost, "/admin-api/v2/functions/", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/admin-api/v2/functions/double", strings.NewReader(`{"enabled":false}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, false, updated["enabled"])

	req = httptest.NewRequest(http.MethodDelete, "/admin-api/v2/functions/double", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminListFunctionsPaginates(t *testing.T) {
	_, router, _, authMgr := newTestHandler(t)
	token := adminToken(t, authMgr)

	for i := 0; i < 3; i++ {
		name := "fn" + strings.Repeat("x", i)
		body := `{"name":"` + name + `","code":"export default () => 1","enabled":true}`
		req := httptest.NewRequest(http.MethodPost, "/admin-api/v2/functions/", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin-api/v2/functions/?limit=2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var page []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page, 2)

	req = httptest.NewRequest(http.MethodGet, "/admin-api/v2/functions/?limit=2&offset=2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var rest []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rest))
	require.Len(t, rest, 1)
}

func TestAdminCreateTaskBindsFunctionAtomically(t *testing.T) {
	_, router, st, authMgr := newTestHandler(t)
	token := adminToken(t, authMgr)

	body := `{"name":"nightly","bound_function_name":"nightly_fn","code":"export default () => 1","retry_count":3,"retry_delay_ms":1000}`
	req := httptest.NewRequest(http.MethodPost, "/admin-api/v2/tasks/", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	fn, err := st.GetFunction(req.Context(), "nightly_fn")
	require.NoError(t, err)
	require.True(t, fn.Enabled)
}

func TestAdminConfigGetSetRoundTrip(t *testing.T) {
	_, router, _, authMgr := newTestHandler(t)
	token := adminToken(t, authMgr)

	req := httptest.NewRequest(http.MethodPut, "/admin-api/v2/config/function_execution_timeout_ms", strings.NewReader(`{"value":"5000"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin-api/v2/config/function_execution_timeout_ms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	require.Equal(t, "5000", cfg["value"])
}

func TestAdminHostFrontendExtractsZipAndCreatesService(t *testing.T) {
	_, router, _, authMgr := newTestHandler(t)
	token := adminToken(t, authMgr)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("serviceName", "dashboard"))

	serverPart, err := mw.CreateFormFile("server", "server.js")
	require.NoError(t, err)
	_, err = serverPart.Write([]byte(`export default () => ({})`))
	require.NoError(t, err)

	staticPart, err := mw.CreateFormFile("static", "static.zip")
	require.NoError(t, err)
	_, err = staticPart.Write(emptyZipBytes(t))
	require.NoError(t, err)

	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/admin-api/v2/host-frontend", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func emptyZipBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
