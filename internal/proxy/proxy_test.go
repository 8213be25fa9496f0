package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	payload := strings.Repeat("0123456789", 20000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/video.mp4":
			assert.Equal(t, DesktopUserAgent, r.Header.Get("User-Agent"))
			assert.Equal(t, Referer, r.Header.Get("Referer"))
			w.Header().Set("Content-Type", "video/mp4")
			http.ServeContent(w, r, "video.mp4", time.Unix(0, 0), strings.NewReader(payload))
		case "/untyped":
			w.Header()["Content-Type"] = nil
			_, _ = w.Write([]byte("raw"))
		case "/ignores-range":
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("whole"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func proxied(srv *httptest.Server, path string) string {
	return "/proxy_video?url=" + url.QueryEscape(srv.URL+path)
}

func TestProxyStreamsWholeBody(t *testing.T) {
	srv := upstream(t)
	h := New(srv.Client(), time.Second)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxied(srv, "/video.mp4"), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "200000", rec.Header().Get("Content-Length"))
	assert.Equal(t, 200000, rec.Body.Len())
	assert.Empty(t, rec.Header().Get("Content-Range"))
}

func TestProxyPassesRangeThrough(t *testing.T) {
	srv := upstream(t)
	h := New(srv.Client(), time.Second)

	req := httptest.NewRequest(http.MethodGet, proxied(srv, "/video.mp4"), nil)
	req.Header.Set("Range", "bytes=10-19")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 10-19/200000", rec.Header().Get("Content-Range"))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "0123456789", string(body))
}

func TestProxyRangeIgnoredUpstream(t *testing.T) {
	srv := upstream(t)
	h := New(srv.Client(), time.Second)

	req := httptest.NewRequest(http.MethodGet, proxied(srv, "/ignores-range"), nil)
	req.Header.Set("Range", "bytes=0-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "whole", rec.Body.String())
}

func TestProxyDefaultsContentType(t *testing.T) {
	srv := upstream(t)
	rec := httptest.NewRecorder()
	New(srv.Client(), time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxied(srv, "/untyped"), nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
}

func TestProxyErrors(t *testing.T) {
	srv := upstream(t)
	h := New(srv.Client(), time.Second)

	cases := []struct {
		name   string
		target string
		want   int
	}{
		{name: "missing url", target: "/proxy_video", want: http.StatusBadRequest},
		{name: "relative url", target: "/proxy_video?url=%2Fetc%2Fpasswd", want: http.StatusBadRequest},
		{name: "upstream 404", target: proxied(srv, "/nope"), want: http.StatusBadGateway},
		{name: "unreachable", target: "/proxy_video?url=" + url.QueryEscape("http://127.0.0.1:1/x"), want: http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
