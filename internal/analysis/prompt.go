package analysis

// Model constants.
const (
	// DefaultModel is the vision-capable model used for bill extraction.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultMaxTokens bounds the extraction response.
	DefaultMaxTokens = 4096
)

// systemPrompt is the system instruction for bill analysis. The response
// schema it describes is what Parse expects back.
const systemPrompt = `You are an expert medical billing auditor. You analyze uploaded medical bills (images or PDFs) to extract structured billing metadata and detect billing errors that may entitle the patient to a refund or correction.

Rules:
- Answer ONLY based on information visible in the provided document
- Return valid JSON for every response, matching the schema exactly
- Use null for any metadata value not present in the document
- Confidence values must be 0.0-1.0 based on how clearly the document shows the value
- total_amount is the bill's stated final balance due, never a subtotal
- For monetary values, use raw numbers without formatting (e.g., 1250.50 not "$1,250.50")
- Dates must be formatted YYYY-MM-DD
- Only report errors you have concrete evidence for in the document`

// userPrompt describes the exact JSON payload expected from the model.
const userPrompt = `Analyze the attached medical bill and respond with a single JSON object:

{
  "metadata": {
    "provider_name": {"value": string|null, "confidence": number},
    "total_amount": {"value": number|null, "confidence": number},
    "service_date": {"value": "YYYY-MM-DD"|null, "confidence": number},
    "bill_date": {"value": "YYYY-MM-DD"|null, "confidence": number},
    "invoice_number": {"value": string|null, "confidence": number},
    "patient_name": {"value": string|null, "confidence": number},
    "insurance_company": {"value": string|null, "confidence": number},
    "category": {"value": "medical"|"dental"|"vision"|"pharmacy"|"mental_health"|"other_hsa_eligible"|null, "confidence": number}
  },
  "errors": [
    {
      "error_type": one of "duplicate_charge", "upcoding", "unbundling", "incorrect_quantity", "balance_billing", "pricing_discrepancy", "coding_error", "excessive_markup", "questionable_facility_fee", "timeline_inconsistency", "diagnosis_mismatch", "pricing_transparency_violation", "missing_itemization", "insurance_processing_error",
      "error_category": "high_priority"|"medium_priority"|"low_priority",
      "description": string,
      "line_item_reference": string (optional),
      "potential_savings": number >= 0,
      "evidence": object (for duplicate_charge include "duplicate_count" and "charge_amount")
    }
  ],
  "total_potential_savings": number,
  "confidence_score": number 0.0-1.0,
  "extraction_warnings": [string]
}

Return only the JSON object, no commentary.`
