package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/condfetch/authority"
	"github.com/always-cache/condfetch/metrics"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	a, err := authority.New(authority.Config{Store: authority.NewMemStore(authority.DefaultContent())})
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	m, err := metrics.NewServer(reg)
	require.NoError(t, err)
	s, err := New(Config{Authority: a, Metrics: m, Gatherer: reg})
	require.NoError(t, err)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body string, header map[string]string) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(b)
}

func TestConditionalGet(t *testing.T) {
	ts := newTestServer(t)
	res, body := do(t, "GET", ts.URL+"/api/products", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "application/json", res.Header.Get("Content-Type"))
	require.Equal(t, "public, max-age=3, stale-while-revalidate=5", res.Header.Get("Cache-Control"))
	require.Equal(t, "Accept-Language", res.Header.Get("Vary"))
	require.Equal(t, "1", res.Header.Get("X-Server-Version"))
	require.NotEmpty(t, res.Header.Get("X-Request-Id"))
	require.Contains(t, body, `"title":"Products"`)
	etag := res.Header.Get("ETag")
	lastModified := res.Header.Get("Last-Modified")
	require.NotEmpty(t, etag)
	require.NotEmpty(t, lastModified)

	res, body = do(t, "GET", ts.URL+"/api/products", "", map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusNotModified, res.StatusCode)
	require.Empty(t, body)
	require.Equal(t, etag, res.Header.Get("ETag"))
	require.Equal(t, lastModified, res.Header.Get("Last-Modified"))
	require.Equal(t, "public, max-age=3, stale-while-revalidate=5", res.Header.Get("Cache-Control"))

	res, _ = do(t, "GET", ts.URL+"/api/products", "", map[string]string{"If-Modified-Since": lastModified})
	require.Equal(t, http.StatusNotModified, res.StatusCode)

	res, _ = do(t, "GET", ts.URL+"/api/products", "", map[string]string{"If-Modified-Since": "garbage"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, body = do(t, "GET", ts.URL+"/api/products", "", map[string]string{"Accept-Language": "ko", "If-None-Match": etag})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, body, "상품 목록")
}

func TestPutInvalidatesValidators(t *testing.T) {
	ts := newTestServer(t)
	res, _ := do(t, "GET", ts.URL+"/api/user", "", nil)
	etag := res.Header.Get("ETag")

	res, body := do(t, "PUT", ts.URL+"/api/user", `{"name":"Alice-42"}`, map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var put struct {
		OK            bool           `json:"ok"`
		User          map[string]any `json:"user"`
		ServerVersion int64          `json:"serverVersion"`
		Now           int64          `json:"now"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &put))
	require.True(t, put.OK)
	require.Equal(t, "Alice-42", put.User["name"])
	require.Equal(t, int64(2), put.ServerVersion)
	require.NotZero(t, put.Now)

	res, body = do(t, "GET", ts.URL+"/api/user", "", map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NotEqual(t, etag, res.Header.Get("ETag"))
	require.Equal(t, "2", res.Header.Get("X-Server-Version"))
	require.Contains(t, body, "Alice-42")
}

func TestErrors(t *testing.T) {
	ts := newTestServer(t)
	res, _ := do(t, "GET", ts.URL+"/api/orders", "", nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = do(t, "PUT", ts.URL+"/api/products", `{"x":1}`, nil)
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	res, body := do(t, "PUT", ts.URL+"/api/user", `["not","an","object"]`, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Contains(t, body, `"ok":false`)

	res, _ = do(t, "DELETE", ts.URL+"/api/user", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestHeadHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	res, body := do(t, "HEAD", ts.URL+"/api/products", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Empty(t, body)
	require.NotEmpty(t, res.Header.Get("ETag"))

	res, body = do(t, "GET", ts.URL+"/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "ok", body)

	do(t, "GET", ts.URL+"/api/products", "", nil)
	_, body = do(t, "GET", ts.URL+"/metrics", "", nil)
	require.Contains(t, body, `condfetch_server_responses_total{resource="products",status="200"}`)
}

func TestRecover(t *testing.T) {
	a, err := authority.New(authority.Config{Store: authority.NewMemStore(nil)})
	require.NoError(t, err)
	s, err := New(Config{Authority: a})
	require.NoError(t, err)
	h := s.recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestConfigRequiresAuthority(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
