package capture

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowser_Visit(t *testing.T) {
	bin, found := launcher.LookPath()
	if !found {
		t.Skip("no chromium found")
	}

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title>flowlab</title></head><body>ok</body></html>"))
	}))
	defer srv.Close()

	b := &Browser{Tool: "chrome", Bin: bin, Headless: true, Timeout: 30 * time.Second}
	assert.Equal(t, "chrome", b.Name())
	require.NoError(t, b.Visit(context.Background(), Target{URL: srv.URL + "/"}))
	require.NoError(t, b.Visit(context.Background(), Target{URL: srv.URL + "/"}))
	require.NoError(t, b.Close())

	assert.Equal(t, int32(2), hits.Load())
	assert.NoError(t, b.Close())
}

func TestBrowser_ControlURLUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + srv.URL[len("http"):] + "/devtools/browser/none"
	srv.Close()

	b := &Browser{Tool: "chrome", ControlURL: url}
	err := b.Visit(context.Background(), Target{URL: "http://example.com"})
	assert.ErrorContains(t, err, "connect to browser")
	assert.NoError(t, b.Close())
}
