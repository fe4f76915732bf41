// Package analysis implements the bill analysis pipeline: it prompts the
// extraction model, parses its untrusted response, applies deterministic
// validation and reconciliation, and persists the outcome.
package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/clearhsa/billscan/internal/model"
)

// ErrParse marks an extraction response that did not contain usable JSON.
// A malformed extraction is fatal to the request; no partial result is kept.
var ErrParse = eris.New("analysis: unparseable extraction response")

// rawField mirrors one metadata field before any type is trusted. Value stays
// loose because the model may return numbers as strings and vice versa.
type rawField struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

type rawMetadata struct {
	ProviderName     rawField `json:"provider_name"`
	TotalAmount      rawField `json:"total_amount"`
	ServiceDate      rawField `json:"service_date"`
	BillDate         rawField `json:"bill_date"`
	InvoiceNumber    rawField `json:"invoice_number"`
	PatientName      rawField `json:"patient_name"`
	InsuranceCompany rawField `json:"insurance_company"`
	Category         rawField `json:"category"`
}

type rawError struct {
	ErrorType         string         `json:"error_type"`
	ErrorCategory     string         `json:"error_category"`
	Description       string         `json:"description"`
	LineItemReference string         `json:"line_item_reference"`
	PotentialSavings  any            `json:"potential_savings"`
	Evidence          map[string]any `json:"evidence"`
}

type rawResult struct {
	Metadata              *rawMetadata `json:"metadata"`
	Errors                []rawError   `json:"errors"`
	TotalPotentialSavings any          `json:"total_potential_savings"`
	ConfidenceScore       any          `json:"confidence_score"`
	ExtractionWarnings    []string     `json:"extraction_warnings"`
}

// Parse extracts the JSON payload from the model's raw response text and
// builds the domain result from it. The parsed JSON is never treated as
// trusted domain data directly: every field is coerced individually, and
// values that cannot be coerced are dropped with a warning rather than
// failing the request. Only a response with no decodable JSON object at all
// returns ErrParse.
func Parse(text string) (*model.AnalysisResult, error) {
	cleaned := ExtractJSON(text)
	if cleaned == "" {
		return nil, eris.Wrap(ErrParse, "empty response")
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(ErrParse, err.Error())
	}

	result := &model.AnalysisResult{
		Warnings: append([]string{}, raw.ExtractionWarnings...),
	}

	if raw.Metadata != nil {
		md, warns := buildMetadata(raw.Metadata)
		result.Metadata = md
		result.Warnings = append(result.Warnings, warns...)
	}

	for _, re := range raw.Errors {
		be, warns := buildError(re)
		result.Errors = append(result.Errors, be)
		result.Warnings = append(result.Warnings, warns...)
	}

	result.TotalPotentialSavings, _ = asFloat(raw.TotalPotentialSavings)
	result.ConfidenceScore, _ = asFloat(raw.ConfidenceScore)

	return result, nil
}

// ExtractJSON strips markdown fences and extracts the first JSON object from
// the response text. The model sometimes wraps its payload in triple-backtick
// fences with or without a language tag.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func buildMetadata(raw *rawMetadata) (*model.BillMetadata, []string) {
	var warns []string

	md := &model.BillMetadata{
		ProviderName:     stringField(raw.ProviderName),
		InvoiceNumber:    stringField(raw.InvoiceNumber),
		PatientName:      stringField(raw.PatientName),
		InsuranceCompany: stringField(raw.InsuranceCompany),
	}

	md.TotalAmount = floatField(raw.TotalAmount, "total_amount", &warns)
	md.ServiceDate = dateField(raw.ServiceDate, "service_date", &warns)
	md.BillDate = dateField(raw.BillDate, "bill_date", &warns)
	md.Category = categoryField(raw.Category, &warns)

	return md, warns
}

func buildError(raw rawError) (model.BillError, []string) {
	var warns []string

	savings, ok := asFloat(raw.PotentialSavings)
	if !ok && raw.PotentialSavings != nil {
		warns = append(warns, fmt.Sprintf("Could not read potential savings for a %s finding — treated as 0.", raw.ErrorType))
	}

	priority := model.Priority(raw.ErrorCategory)
	switch priority {
	case model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
	default:
		priority = model.PriorityMedium
	}

	return model.BillError{
		Type:              model.ErrorType(raw.ErrorType),
		Priority:          priority,
		Description:       raw.Description,
		LineItemReference: raw.LineItemReference,
		PotentialSavings:  savings,
		Evidence:          raw.Evidence,
	}, warns
}

func stringField(raw rawField) model.Field[string] {
	f := model.Field[string]{Confidence: raw.Confidence, Source: raw.Source}
	if s, ok := asString(raw.Value); ok && s != "" {
		f.Value = &s
	}
	return f
}

func floatField(raw rawField, name string, warns *[]string) model.Field[float64] {
	f := model.Field[float64]{Confidence: raw.Confidence, Source: raw.Source}
	if raw.Value == nil {
		return f
	}
	v, ok := asFloat(raw.Value)
	if !ok {
		*warns = append(*warns, fmt.Sprintf("Could not read %s from the extraction.", name))
		return f
	}
	f.Value = &v
	return f
}

func dateField(raw rawField, name string, warns *[]string) model.Field[time.Time] {
	f := model.Field[time.Time]{Confidence: raw.Confidence, Source: raw.Source}
	if raw.Value == nil {
		return f
	}
	s, ok := asString(raw.Value)
	if !ok {
		*warns = append(*warns, fmt.Sprintf("Could not read %s from the extraction.", name))
		return f
	}
	t, err := parseDate(s)
	if err != nil {
		*warns = append(*warns, fmt.Sprintf("Could not read %s %q as a date.", name, s))
		return f
	}
	f.Value = &t
	return f
}

func categoryField(raw rawField, warns *[]string) model.Field[model.BillCategory] {
	f := model.Field[model.BillCategory]{Confidence: raw.Confidence, Source: raw.Source}
	if raw.Value == nil {
		return f
	}
	s, ok := asString(raw.Value)
	if !ok {
		*warns = append(*warns, "Could not read category from the extraction.")
		return f
	}
	cat := model.BillCategory(strings.ToLower(strings.TrimSpace(s)))
	if !cat.Valid() {
		*warns = append(*warns, fmt.Sprintf("Unrecognized bill category %q.", s))
		return f
	}
	f.Value = &cat
	return f
}

// dateLayouts are the formats accepted from the extraction, most specific first.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("analysis: unrecognized date %q", s)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(strings.TrimPrefix(n, "$"), ",", ""))
		var f float64
		if _, err := fmt.Sscanf(s, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), true
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%v", s)), true
	}
	return "", false
}
