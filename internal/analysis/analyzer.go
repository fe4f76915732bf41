package analysis

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearhsa/billscan/internal/fetcher"
	"github.com/clearhsa/billscan/internal/model"
	"github.com/clearhsa/billscan/internal/notify"
	"github.com/clearhsa/billscan/internal/store"
	"github.com/clearhsa/billscan/pkg/anthropic"
)

// ErrDownloadFailed marks a receipt document that could not be retrieved
// from storage.
var ErrDownloadFailed = eris.New("analysis: failed to download receipt")

// Analyzer runs the full bill analysis pipeline for one request: download,
// extraction, parsing, validation, persistence, downstream sync.
type Analyzer struct {
	oracle    anthropic.Client
	store     store.Store
	fetcher   fetcher.Fetcher
	notifier  notify.Notifier
	model     string
	maxTokens int64
}

// Options configures the Analyzer.
type Options struct {
	Model     string
	MaxTokens int64
}

// New creates an Analyzer.
func New(oracle anthropic.Client, st store.Store, f fetcher.Fetcher, n notify.Notifier, opts Options) *Analyzer {
	m := opts.Model
	if m == "" {
		m = DefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Analyzer{
		oracle:    oracle,
		store:     st,
		fetcher:   f,
		notifier:  n,
		model:     m,
		maxTokens: maxTokens,
	}
}

// Request identifies one bill to analyze on behalf of a user.
type Request struct {
	InvoiceID string
	ReceiptID string
	UserID    string
}

// Summary is the pipeline outcome returned to the caller.
type Summary struct {
	BillReviewID string
	Result       *model.AnalysisResult
}

// Analyze runs the pipeline sequentially. Oracle and parse failures abort
// before anything is persisted; persistence failures on the primary record
// abort with the underlying error; the downstream sync never fails the call.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Summary, error) {
	log := zap.L().With(
		zap.String("invoice_id", req.InvoiceID),
		zap.String("receipt_id", req.ReceiptID),
	)
	start := time.Now()

	receipt, err := a.store.GetReceipt(ctx, req.ReceiptID, req.UserID)
	if err != nil {
		return nil, err
	}

	docBytes, contentType, err := a.fetcher.Fetch(ctx, receipt.FileURL)
	if err != nil {
		log.Warn("receipt download failed", zap.Error(err))
		return nil, eris.Wrap(ErrDownloadFailed, err.Error())
	}
	mimeType := receipt.MimeType
	if mimeType == "" {
		mimeType = normalizeMimeType(contentType)
	}

	resp, err := a.oracle.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System: []anthropic.SystemBlock{
			{Text: systemPrompt, CacheControl: &anthropic.CacheControl{TTL: "5m"}},
		},
		Messages: []anthropic.Message{
			{
				Role:    "user",
				Content: userPrompt,
				Documents: []anthropic.Document{
					{Data: docBytes, MimeType: mimeType},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(a.model, "bill_analysis")

	parsed, err := Parse(resp.Text())
	if err != nil {
		log.Warn("extraction response unparseable", zap.Error(err))
		return nil, err
	}

	outcome := Validate(parsed)
	if len(outcome.Warnings) > 0 {
		log.Info("validation produced warnings",
			zap.Int("count", len(outcome.Warnings)),
			zap.Strings("warnings", outcome.Warnings))
	}

	review, err := a.store.SaveAnalysis(ctx, req.InvoiceID, req.ReceiptID, req.UserID, outcome.Result)
	if err != nil {
		return nil, err
	}

	notify.Fire(ctx, a.notifier, req.InvoiceID, review.ID)

	log.Info("bill analysis complete",
		zap.String("bill_review_id", review.ID),
		zap.Int("errors_found", len(outcome.Result.Errors)),
		zap.Float64("total_potential_savings", outcome.Result.TotalPotentialSavings),
		zap.Float64("confidence_score", outcome.Result.ConfidenceScore),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Summary{BillReviewID: review.ID, Result: outcome.Result}, nil
}

// normalizeMimeType reduces a Content-Type header to the media types the
// model accepts, defaulting to PDF.
func normalizeMimeType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	switch ct {
	case "image/jpeg", "image/png", "image/webp", "image/gif", "application/pdf":
		return ct
	}
	return "application/pdf"
}
