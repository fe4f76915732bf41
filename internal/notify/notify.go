// Package notify fires the best-effort provider-statistics sync after an
// analysis completes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Notifier triggers downstream synchronization for a completed analysis.
type Notifier interface {
	SyncProviderStats(ctx context.Context, invoiceID, billReviewID string) error
}

// WebhookNotifier posts the sync payload to a configured webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhook creates a WebhookNotifier. An empty URL disables the notifier:
// SyncProviderStats becomes a no-op.
func NewWebhook(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type syncPayload struct {
	InvoiceID    string `json:"invoiceId"`
	BillReviewID string `json:"billReviewId"`
}

// SyncProviderStats posts (invoiceId, billReviewId) to the aggregator.
func (n *WebhookNotifier) SyncProviderStats(ctx context.Context, invoiceID, billReviewID string) error {
	if n.url == "" {
		return nil
	}

	payload, err := json.Marshal(syncPayload{InvoiceID: invoiceID, BillReviewID: billReviewID})
	if err != nil {
		return eris.Wrap(err, "notify: marshal sync payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create sync request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: sync request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("notify: aggregator returned status %d", resp.StatusCode)
	}

	return nil
}

// Fire runs the sync and swallows any failure. Notifier errors never affect
// the analysis response; they are logged and dropped.
func Fire(ctx context.Context, n Notifier, invoiceID, billReviewID string) {
	if err := n.SyncProviderStats(ctx, invoiceID, billReviewID); err != nil {
		zap.L().Warn("provider stats sync failed",
			zap.String("invoice_id", invoiceID),
			zap.String("bill_review_id", billReviewID),
			zap.Error(err))
	}
}
