package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncProviderStats_PostsPayload(t *testing.T) {
	var got syncPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	n := NewWebhook(ts.URL)
	err := n.SyncProviderStats(context.Background(), "inv-1", "rev-1")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", got.InvoiceID)
	assert.Equal(t, "rev-1", got.BillReviewID)
}

func TestSyncProviderStats_NonSuccessStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	n := NewWebhook(ts.URL)
	err := n.SyncProviderStats(context.Background(), "inv-1", "rev-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSyncProviderStats_EmptyURLIsNoop(t *testing.T) {
	n := NewWebhook("")
	require.NoError(t, n.SyncProviderStats(context.Background(), "inv-1", "rev-1"))
}

func TestFire_SwallowsFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	// Must not panic or propagate anything.
	Fire(context.Background(), NewWebhook(ts.URL), "inv-1", "rev-1")
}
