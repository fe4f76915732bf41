package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearhsa/billscan/internal/db"
	"github.com/clearhsa/billscan/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewWithPool creates a PostgresStore over an existing pool. Used by tests.
func NewWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS receipts (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id     TEXT NOT NULL,
	file_url    TEXT NOT NULL,
	mime_type   TEXT NOT NULL DEFAULT 'application/pdf',
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bill_reviews (
	id                      TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	invoice_id              TEXT NOT NULL UNIQUE,
	user_id                 TEXT NOT NULL,
	review_status           TEXT NOT NULL DEFAULT 'pending',
	total_potential_savings DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	analyzed_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bill_errors (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	bill_review_id      TEXT NOT NULL REFERENCES bill_reviews(id) ON DELETE CASCADE,
	error_type          TEXT NOT NULL,
	error_category      TEXT NOT NULL,
	description         TEXT NOT NULL,
	line_item_reference TEXT,
	potential_savings   DOUBLE PRECISION NOT NULL DEFAULT 0,
	evidence            JSONB
);

CREATE TABLE IF NOT EXISTS receipt_ocr_data (
	receipt_id          TEXT PRIMARY KEY,
	provider_name       TEXT,
	total_amount        DOUBLE PRECISION,
	service_date        DATE,
	bill_date           DATE,
	invoice_number      TEXT,
	patient_name        TEXT,
	insurance_company   TEXT,
	category            TEXT,
	metadata_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	extraction_warnings JSONB,
	extracted_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_receipts_user_id ON receipts(user_id);
CREATE INDEX IF NOT EXISTS idx_bill_reviews_user_id ON bill_reviews(user_id);
CREATE INDEX IF NOT EXISTS idx_bill_errors_review_id ON bill_errors(bill_review_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetReceipt(ctx context.Context, receiptID, userID string) (*model.Receipt, error) {
	var r model.Receipt
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, file_url, mime_type FROM receipts WHERE id = $1 AND user_id = $2`,
		receiptID, userID,
	).Scan(&r.ID, &r.UserID, &r.FileURL, &r.MimeType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get receipt %s", receiptID)
	}
	return &r, nil
}

// SaveAnalysis persists one analysis. The review upsert and the error
// replacement are the primary record and their failures are fatal; the
// receipt metadata upsert is best-effort and only logged.
//
// Two concurrent analyses of the same invoice are not mutually excluded:
// the unique-violation fallback below prevents duplicate review rows, but
// the delete+insert of bill_errors is last-writer-wins, so the review's
// summary fields can end up paired with the other request's error set.
func (s *PostgresStore) SaveAnalysis(ctx context.Context, invoiceID, receiptID, userID string, result *model.AnalysisResult) (*model.BillReview, error) {
	review, err := s.upsertReview(ctx, invoiceID, userID, result)
	if err != nil {
		return nil, err
	}

	if err := s.replaceErrors(ctx, review.ID, result.Errors); err != nil {
		return nil, err
	}

	if err := s.upsertReceiptMetadata(ctx, model.FlattenMetadata(receiptID, result)); err != nil {
		zap.L().Warn("receipt metadata upsert failed",
			zap.String("receipt_id", receiptID),
			zap.Error(err))
	}

	return review, nil
}

// upsertReview creates or updates the review row for (invoiceID, userID).
// Lookups are scoped by owner: an invoice id claimed by another user is never
// matched, and the insert's unique violation then surfaces as an ownership
// error instead of updating the other user's row.
func (s *PostgresStore) upsertReview(ctx context.Context, invoiceID, userID string, result *model.AnalysisResult) (*model.BillReview, error) {
	now := time.Now().UTC()

	var existingID string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM bill_reviews WHERE invoice_id = $1 AND user_id = $2`,
		invoiceID, userID,
	).Scan(&existingID)

	switch {
	case err == nil:
		return s.updateReview(ctx, existingID, invoiceID, userID, result, now)

	case errors.Is(err, pgx.ErrNoRows):
		id := uuid.New().String()
		_, insertErr := s.pool.Exec(ctx,
			`INSERT INTO bill_reviews (id, invoice_id, user_id, review_status, total_potential_savings, confidence_score, analyzed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, invoiceID, userID, string(model.ReviewStatusPending),
			result.TotalPotentialSavings, result.ConfidenceScore, now,
		)
		if insertErr == nil {
			return &model.BillReview{
				ID:                    id,
				InvoiceID:             invoiceID,
				UserID:                userID,
				Status:                model.ReviewStatusPending,
				TotalPotentialSavings: result.TotalPotentialSavings,
				ConfidenceScore:       result.ConfidenceScore,
				AnalyzedAt:            now,
			}, nil
		}

		// A concurrent analysis of the same invoice won the insert; fall
		// back to updating the row it created. The reload is owner-scoped,
		// so a violation caused by another user's invoice id is rejected
		// rather than resolved against their row.
		var pgErr *pgconn.PgError
		if errors.As(insertErr, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			scanErr := s.pool.QueryRow(ctx,
				`SELECT id FROM bill_reviews WHERE invoice_id = $1 AND user_id = $2`,
				invoiceID, userID,
			).Scan(&existingID)
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return nil, eris.Wrapf(ErrInvoiceConflict, "postgres: invoice %s", invoiceID)
			}
			if scanErr != nil {
				return nil, eris.Wrapf(scanErr, "postgres: reload review for invoice %s", invoiceID)
			}
			return s.updateReview(ctx, existingID, invoiceID, userID, result, now)
		}
		return nil, eris.Wrapf(insertErr, "postgres: insert review for invoice %s", invoiceID)

	default:
		return nil, eris.Wrapf(err, "postgres: lookup review for invoice %s", invoiceID)
	}
}

func (s *PostgresStore) updateReview(ctx context.Context, id, invoiceID, userID string, result *model.AnalysisResult, now time.Time) (*model.BillReview, error) {
	_, err := s.pool.Exec(ctx,
		`UPDATE bill_reviews
		 SET review_status = $1, total_potential_savings = $2, confidence_score = $3, analyzed_at = $4
		 WHERE id = $5`,
		string(model.ReviewStatusPending), result.TotalPotentialSavings, result.ConfidenceScore, now, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update review %s", id)
	}
	return &model.BillReview{
		ID:                    id,
		InvoiceID:             invoiceID,
		UserID:                userID,
		Status:                model.ReviewStatusPending,
		TotalPotentialSavings: result.TotalPotentialSavings,
		ConfidenceScore:       result.ConfidenceScore,
		AnalyzedAt:            now,
	}, nil
}

// billErrorColumns is the COPY column list for the error replacement.
var billErrorColumns = []string{
	"id", "bill_review_id", "error_type", "error_category",
	"description", "line_item_reference", "potential_savings", "evidence",
}

// replaceErrors deletes all findings for the review and bulk-inserts the new
// set. Delete-then-insert, not diff: error identity is not stable across
// re-analyses, so stale findings must never linger.
func (s *PostgresStore) replaceErrors(ctx context.Context, reviewID string, errs []model.BillError) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM bill_errors WHERE bill_review_id = $1`,
		reviewID,
	); err != nil {
		return eris.Wrapf(err, "postgres: delete errors for review %s", reviewID)
	}

	if len(errs) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(errs))
	for _, e := range errs {
		var evidence []byte
		if e.Evidence != nil {
			b, err := json.Marshal(e.Evidence)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal error evidence")
			}
			evidence = b
		}
		var lineRef *string
		if e.LineItemReference != "" {
			lineRef = &e.LineItemReference
		}
		rows = append(rows, []any{
			uuid.New().String(), reviewID, string(e.Type), string(e.Priority),
			e.Description, lineRef, e.PotentialSavings, evidence,
		})
	}

	if _, err := db.CopyFrom(ctx, s.pool, "bill_errors", billErrorColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert errors for review %s", reviewID)
	}
	return nil
}

func (s *PostgresStore) upsertReceiptMetadata(ctx context.Context, rm model.ReceiptMetadata) error {
	warnings, err := json.Marshal(rm.Warnings)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal warnings")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO receipt_ocr_data
		 (receipt_id, provider_name, total_amount, service_date, bill_date, invoice_number,
		  patient_name, insurance_company, category, metadata_confidence, extraction_warnings, extracted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		 ON CONFLICT (receipt_id) DO UPDATE SET
		   provider_name = $2, total_amount = $3, service_date = $4, bill_date = $5,
		   invoice_number = $6, patient_name = $7, insurance_company = $8, category = $9,
		   metadata_confidence = $10, extraction_warnings = $11, extracted_at = now()`,
		rm.ReceiptID, rm.ProviderName, rm.TotalAmount, rm.ServiceDate, rm.BillDate,
		rm.InvoiceNumber, rm.PatientName, rm.InsuranceCompany, rm.Category,
		rm.MetadataConfidence, warnings,
	)
	return eris.Wrapf(err, "postgres: upsert receipt metadata %s", rm.ReceiptID)
}

func (s *PostgresStore) ListReviews(ctx context.Context, userID string, limit int) ([]model.BillReview, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, invoice_id, user_id, review_status, total_potential_savings, confidence_score, analyzed_at
		 FROM bill_reviews WHERE user_id = $1
		 ORDER BY analyzed_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reviews")
	}
	defer rows.Close()

	var reviews []model.BillReview
	for rows.Next() {
		var r model.BillReview
		var status string
		if err := rows.Scan(&r.ID, &r.InvoiceID, &r.UserID, &status,
			&r.TotalPotentialSavings, &r.ConfidenceScore, &r.AnalyzedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review")
		}
		r.Status = model.ReviewStatus(status)
		reviews = append(reviews, r)
	}
	return reviews, eris.Wrap(rows.Err(), "postgres: list reviews iterate")
}
