package analysis

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/clearhsa/billscan/internal/model"
)

const (
	// highAmountThreshold flags implausibly large bills for manual review.
	highAmountThreshold = 100000
	// savingsTolerance is the dollar tolerance for reconciling the reported
	// total against the itemized sum, and for duplicate-charge arithmetic.
	savingsTolerance = 1.0
	// genericProviderConfidenceCap is the ceiling applied to provider names
	// that match the generic-term denylist.
	genericProviderConfidenceCap = 0.70
)

// genericProviderNames are terms too generic to identify a provider. An exact
// match caps the field confidence and adds a warning.
var genericProviderNames = map[string]bool{
	"Hospital":           true,
	"Clinic":             true,
	"Medical Center":     true,
	"Billing Department": true,
	"Urgent Care":        true,
	"Pharmacy":           true,
}

// Outcome is the validated result together with the warnings produced while
// validating. The same warnings are also appended to Result.Warnings, which
// is the channel persisted and returned to the caller.
type Outcome struct {
	Result   *model.AnalysisResult
	Warnings []string
}

// Validate applies the deterministic repair and consistency rules to a parsed
// result. The input comes from a non-deterministic producer and is treated as
// adversarial: values are clamped or recomputed rather than trusted. No rule
// ever fails the request; quality issues become warnings.
// The input is mutated in place; the returned Outcome wraps it.
func Validate(result *model.AnalysisResult) Outcome {
	var warns []string

	warns = append(warns, clampConfidences(result)...)
	warns = append(warns, checkDateOrder(result)...)
	warns = append(warns, downWeightGenericProvider(result)...)
	warns = append(warns, flagHighAmount(result)...)
	warns = append(warns, reconcileSavings(result)...)
	checkDuplicateArithmetic(result)

	result.Warnings = append(result.Warnings, warns...)
	return Outcome{Result: result, Warnings: warns}
}

// clampConfidences forces every field confidence into [0,1]. Field-level
// repairs are silent; an invalid top-level score is reset to 0.5 with an
// explicit warning because it feeds the persisted review record.
func clampConfidences(result *model.AnalysisResult) []string {
	if md := result.Metadata; md != nil {
		md.ProviderName.Confidence = clamp01(md.ProviderName.Confidence)
		md.TotalAmount.Confidence = clamp01(md.TotalAmount.Confidence)
		md.ServiceDate.Confidence = clamp01(md.ServiceDate.Confidence)
		md.BillDate.Confidence = clamp01(md.BillDate.Confidence)
		md.InvoiceNumber.Confidence = clamp01(md.InvoiceNumber.Confidence)
		md.PatientName.Confidence = clamp01(md.PatientName.Confidence)
		md.InsuranceCompany.Confidence = clamp01(md.InsuranceCompany.Confidence)
		md.Category.Confidence = clamp01(md.Category.Confidence)
	}

	score := result.ConfidenceScore
	if math.IsNaN(score) || score < 0 || score > 1 {
		zap.L().Warn("invalid confidence score from extraction, resetting",
			zap.Float64("reported", score))
		result.ConfidenceScore = 0.5
		return []string{"Overall confidence score was invalid and has been reset."}
	}
	return nil
}

func checkDateOrder(result *model.AnalysisResult) []string {
	md := result.Metadata
	if md == nil || md.ServiceDate.Value == nil || md.BillDate.Value == nil {
		return nil
	}
	// Values are intentionally left unchanged: it is ambiguous which date is
	// wrong, so the user is asked to verify instead.
	if md.ServiceDate.Value.After(*md.BillDate.Value) {
		return []string{"Service date is after bill date — please verify dates."}
	}
	return nil
}

func downWeightGenericProvider(result *model.AnalysisResult) []string {
	md := result.Metadata
	if md == nil || md.ProviderName.Value == nil {
		return nil
	}
	name := *md.ProviderName.Value
	if !genericProviderNames[name] {
		return nil
	}
	if md.ProviderName.Confidence > genericProviderConfidenceCap {
		md.ProviderName.Confidence = genericProviderConfidenceCap
	}
	return []string{fmt.Sprintf("Provider name %q is generic — please verify against the original bill.", name)}
}

func flagHighAmount(result *model.AnalysisResult) []string {
	md := result.Metadata
	if md == nil || md.TotalAmount.Value == nil {
		return nil
	}
	if *md.TotalAmount.Value > highAmountThreshold {
		return []string{fmt.Sprintf("Total amount $%.2f is unusually high — flagged for manual review.", *md.TotalAmount.Value)}
	}
	return nil
}

// reconcileSavings recomputes the itemized sum and replaces the reported
// top-line figure when they disagree by more than the tolerance. The model's
// own total is never trusted over the itemized sum. Negative per-error
// savings are clamped to zero first.
func reconcileSavings(result *model.AnalysisResult) []string {
	for i := range result.Errors {
		if result.Errors[i].PotentialSavings < 0 {
			result.Errors[i].PotentialSavings = 0
		}
	}

	sum := result.SumSavings()
	if math.Abs(sum-result.TotalPotentialSavings) <= savingsTolerance {
		return nil
	}

	zap.L().Warn("reported savings total disagrees with itemized sum, recomputing",
		zap.Float64("reported", result.TotalPotentialSavings),
		zap.Float64("itemized", sum))
	result.TotalPotentialSavings = sum
	return []string{fmt.Sprintf("Reported savings total did not match itemized findings — corrected to $%.2f.", sum)}
}

// checkDuplicateArithmetic verifies that duplicate_charge savings are
// consistent with the claimed count and per-charge amount. Mismatches are
// logged only: it is ambiguous whether the savings figure or the evidence is
// wrong, so neither side is corrected.
func checkDuplicateArithmetic(result *model.AnalysisResult) {
	for _, e := range result.Errors {
		if e.Type != model.ErrDuplicateCharge || e.Evidence == nil {
			continue
		}
		count, okCount := asFloat(e.Evidence["duplicate_count"])
		amount, okAmount := asFloat(e.Evidence["charge_amount"])
		if !okCount || !okAmount || count < 1 {
			continue
		}
		expected := amount * (count - 1)
		if math.Abs(expected-e.PotentialSavings) > savingsTolerance {
			zap.L().Warn("duplicate charge savings inconsistent with evidence",
				zap.Float64("reported_savings", e.PotentialSavings),
				zap.Float64("expected_savings", expected),
				zap.Float64("duplicate_count", count),
				zap.Float64("charge_amount", amount),
				zap.String("line_item", e.LineItemReference))
		}
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
