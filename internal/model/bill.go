// Package model defines the domain types for bill analysis: extracted
// metadata fields, detected billing errors, and persisted review records.
package model

import "time"

// Field is one piece of metadata pulled from a bill document. A nil Value
// means the field was not found in the document, independent of Confidence.
type Field[T any] struct {
	Value      *T      `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// Populated reports whether the field carries a value.
func (f Field[T]) Populated() bool {
	return f.Value != nil
}

// BillCategory classifies a bill for HSA eligibility purposes.
type BillCategory string

const (
	CategoryMedical       BillCategory = "medical"
	CategoryDental        BillCategory = "dental"
	CategoryVision        BillCategory = "vision"
	CategoryPharmacy      BillCategory = "pharmacy"
	CategoryMentalHealth  BillCategory = "mental_health"
	CategoryOtherEligible BillCategory = "other_hsa_eligible"
)

// Valid reports whether c is a known category.
func (c BillCategory) Valid() bool {
	switch c {
	case CategoryMedical, CategoryDental, CategoryVision,
		CategoryPharmacy, CategoryMentalHealth, CategoryOtherEligible:
		return true
	}
	return false
}

// BillMetadata is the bag of fields extracted from one bill document.
// TotalAmount is the bill's stated final balance, not a subtotal.
type BillMetadata struct {
	ProviderName     Field[string]       `json:"provider_name"`
	TotalAmount      Field[float64]      `json:"total_amount"`
	ServiceDate      Field[time.Time]    `json:"service_date"`
	BillDate         Field[time.Time]    `json:"bill_date"`
	InvoiceNumber    Field[string]       `json:"invoice_number"`
	PatientName      Field[string]       `json:"patient_name"`
	InsuranceCompany Field[string]       `json:"insurance_company"`
	Category         Field[BillCategory] `json:"category"`
}

// MeanConfidence returns the arithmetic mean of the confidences of all
// populated fields. Fields without a value are excluded from the average,
// not counted as zero. Returns 0 when no field is populated.
func (m BillMetadata) MeanConfidence() float64 {
	var sum float64
	var n int
	add := func(populated bool, conf float64) {
		if populated {
			sum += conf
			n++
		}
	}
	add(m.ProviderName.Populated(), m.ProviderName.Confidence)
	add(m.TotalAmount.Populated(), m.TotalAmount.Confidence)
	add(m.ServiceDate.Populated(), m.ServiceDate.Confidence)
	add(m.BillDate.Populated(), m.BillDate.Confidence)
	add(m.InvoiceNumber.Populated(), m.InvoiceNumber.Confidence)
	add(m.PatientName.Populated(), m.PatientName.Confidence)
	add(m.InsuranceCompany.Populated(), m.InsuranceCompany.Confidence)
	add(m.Category.Populated(), m.Category.Confidence)
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ErrorType identifies one category of detected billing issue.
type ErrorType string

const (
	ErrDuplicateCharge          ErrorType = "duplicate_charge"
	ErrUpcoding                 ErrorType = "upcoding"
	ErrUnbundling               ErrorType = "unbundling"
	ErrIncorrectQuantity        ErrorType = "incorrect_quantity"
	ErrBalanceBilling           ErrorType = "balance_billing"
	ErrPricingDiscrepancy       ErrorType = "pricing_discrepancy"
	ErrCodingError              ErrorType = "coding_error"
	ErrExcessiveMarkup          ErrorType = "excessive_markup"
	ErrQuestionableFacilityFee  ErrorType = "questionable_facility_fee"
	ErrTimelineInconsistency    ErrorType = "timeline_inconsistency"
	ErrDiagnosisMismatch        ErrorType = "diagnosis_mismatch"
	ErrTransparencyViolation    ErrorType = "pricing_transparency_violation"
	ErrMissingItemization       ErrorType = "missing_itemization"
	ErrInsuranceProcessingError ErrorType = "insurance_processing_error"
)

// Priority ranks how urgently a detected error should be reviewed.
type Priority string

const (
	PriorityHigh   Priority = "high_priority"
	PriorityMedium Priority = "medium_priority"
	PriorityLow    Priority = "low_priority"
)

// BillError is one billing issue detected on a bill. Evidence is an opaque
// key/value map supplied by the extraction; duplicate_charge errors may carry
// "duplicate_count" and "charge_amount" entries used for arithmetic checks.
type BillError struct {
	Type              ErrorType      `json:"error_type"`
	Priority          Priority       `json:"error_category"`
	Description       string         `json:"description"`
	LineItemReference string         `json:"line_item_reference,omitempty"`
	PotentialSavings  float64        `json:"potential_savings"`
	Evidence          map[string]any `json:"evidence,omitempty"`
}

// AnalysisResult is one full extraction outcome for a bill document.
// TotalPotentialSavings is recomputed from the itemized errors during
// validation and never trusted as reported.
type AnalysisResult struct {
	Metadata              *BillMetadata `json:"metadata,omitempty"`
	Errors                []BillError   `json:"errors"`
	TotalPotentialSavings float64       `json:"total_potential_savings"`
	ConfidenceScore       float64       `json:"confidence_score"`
	Warnings              []string      `json:"extraction_warnings"`
}

// SumSavings returns the itemized sum of potential savings across all errors.
func (r *AnalysisResult) SumSavings() float64 {
	var sum float64
	for _, e := range r.Errors {
		sum += e.PotentialSavings
	}
	return sum
}
