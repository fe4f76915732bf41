package model

import "time"

// ReviewStatus is the lifecycle state of a bill review.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusReviewed ReviewStatus = "reviewed"
)

// BillReview is the persisted summary of the latest analysis of one invoice.
// InvoiceID is the idempotency key: re-analysis updates the row in place.
type BillReview struct {
	ID                    string       `json:"id"`
	InvoiceID             string       `json:"invoice_id"`
	UserID                string       `json:"user_id"`
	Status                ReviewStatus `json:"review_status"`
	TotalPotentialSavings float64      `json:"total_potential_savings"`
	ConfidenceScore       float64      `json:"confidence_score"`
	AnalyzedAt            time.Time    `json:"analyzed_at"`
}

// ReceiptMetadata is the flattened, queryable form of extracted bill fields,
// one row per receipt. It is overwritten wholesale on each analysis, never
// merged field by field.
type ReceiptMetadata struct {
	ReceiptID          string     `json:"receipt_id"`
	ProviderName       *string    `json:"provider_name,omitempty"`
	TotalAmount        *float64   `json:"total_amount,omitempty"`
	ServiceDate        *time.Time `json:"service_date,omitempty"`
	BillDate           *time.Time `json:"bill_date,omitempty"`
	InvoiceNumber      *string    `json:"invoice_number,omitempty"`
	PatientName        *string    `json:"patient_name,omitempty"`
	InsuranceCompany   *string    `json:"insurance_company,omitempty"`
	Category           *string    `json:"category,omitempty"`
	MetadataConfidence float64    `json:"metadata_confidence"`
	Warnings           []string   `json:"extraction_warnings"`
}

// FlattenMetadata builds the queryable receipt row from a validated result.
// The averaged confidence excludes fields the extraction did not find.
func FlattenMetadata(receiptID string, result *AnalysisResult) ReceiptMetadata {
	rm := ReceiptMetadata{
		ReceiptID: receiptID,
		Warnings:  result.Warnings,
	}
	if result.Metadata == nil {
		return rm
	}
	m := result.Metadata
	rm.ProviderName = m.ProviderName.Value
	rm.TotalAmount = m.TotalAmount.Value
	rm.ServiceDate = m.ServiceDate.Value
	rm.BillDate = m.BillDate.Value
	rm.InvoiceNumber = m.InvoiceNumber.Value
	rm.PatientName = m.PatientName.Value
	rm.InsuranceCompany = m.InsuranceCompany.Value
	if m.Category.Value != nil {
		cat := string(*m.Category.Value)
		rm.Category = &cat
	}
	rm.MetadataConfidence = m.MeanConfidence()
	return rm
}

// Receipt is the stored document record an analysis request points at.
// FileURL is where the uploaded document can be downloaded from.
type Receipt struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	FileURL  string `json:"file_url"`
	MimeType string `json:"mime_type"`
}
