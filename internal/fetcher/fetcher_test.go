package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "billscan/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 test")) //nolint:errcheck
	}))
	defer ts.Close()

	f := New(Options{UserAgent: "billscan/1.0"})
	body, contentType, err := f.Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 test"), body)
	assert.Equal(t, "application/pdf", contentType)
}

func TestFetch_NonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f := New(Options{})
	_, _, err := f.Fetch(context.Background(), ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetch_ConnectionFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	f := New(Options{})
	_, _, err := f.Fetch(context.Background(), ts.URL)
	require.Error(t, err)
}

func TestFetch_RateLimiterHonorsContext(t *testing.T) {
	// A limiter slower than the context deadline must abort the fetch.
	f := New(Options{RatePerSec: 0.001})
	require.NoError(t, f.limiter.Wait(context.Background())) // consume the burst

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := f.Fetch(ctx, "http://storage.invalid/doc.pdf")
	require.Error(t, err)
}
