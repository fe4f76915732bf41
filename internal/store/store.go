// Package store persists bill reviews, their error findings, and flattened
// receipt metadata in Postgres.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/clearhsa/billscan/internal/model"
)

// ErrReceiptNotFound is returned when a receipt does not exist or is not
// owned by the requesting user. Ownership misses are deliberately
// indistinguishable from missing rows.
var ErrReceiptNotFound = eris.New("store: receipt not found")

// ErrInvoiceConflict is returned when an analysis names an invoice id whose
// review row belongs to a different user. Invoice ids are an idempotency key
// within one user's data, never a handle into another user's.
var ErrInvoiceConflict = eris.New("store: invoice id belongs to another user")

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// GetReceipt loads a receipt scoped to its owner.
	GetReceipt(ctx context.Context, receiptID, userID string) (*model.Receipt, error)

	// SaveAnalysis persists one validated analysis idempotently: the review
	// row is created or updated in place keyed by (invoice id, user), the error set
	// is fully replaced, and the receipt metadata row is upserted best-effort.
	SaveAnalysis(ctx context.Context, invoiceID, receiptID, userID string, result *model.AnalysisResult) (*model.BillReview, error)

	// ListReviews returns the most recent reviews for a user.
	ListReviews(ctx context.Context, userID string, limit int) ([]model.BillReview, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
