package models

// Validation issue codes accumulated while a document moves through the
// pipeline. Issues never abort processing on their own; they drive routing.
const (
	IssueAmountMismatch       = "AMOUNT_MISMATCH"
	IssueAmountScaleSuspect   = "AMOUNT_SCALE_SUSPECT"
	IssueInvalidDate          = "INVALID_DATE"
	IssueFutureDate           = "FUTURE_DATE"
	IssueNoRule               = "NO_RULE"
	IssueNIFSuspect           = "NIF_SUSPECT"
	IssueNonEURCurrency       = "NON_EUR_CURRENCY"
	IssueMissingSupplierNIF   = "MISSING_SUPPLIER_NIF"
	IssueMissingInvoiceNumber = "MISSING_INVOICE_NUMBER"
	IssueMissingGross         = "MISSING_GROSS"
	IssueMissingDate          = "MISSING_DATE"
	IssueDupNIFNumber         = "DUP_NIF_NUMBER"
	IssueDupNIFGross          = "DUP_NIF_GROSS"
	IssueDuplicateSuspect     = "DUPLICATE_SUSPECT"
	IssueCreditNote           = "CREDIT_NOTE"
	IssueIntracomZeroVAT      = "INTRACOM_IVA0"
	IssueLinesIncomplete      = "LINES_INCOMPLETE"
	IssueLowConfidence        = "LOW_CONFIDENCE"
	IssuePageCountZero        = "PAGECOUNT_ZERO"
	IssueOCRTempError         = "OCR_TEMP_ERROR"
	IssueProviderUnavailable  = "PROVIDER_UNAVAILABLE"
	IssueProviderDegraded     = "PROVIDER_DEGRADED"
	IssueFallbackUsed         = "FALLBACK_USED"
	IssuePolicyAutoReview     = "POLICY_AUTOREVIEW"
	IssueCategoryReview       = "CATEGORY_REVIEW"
	IssueCanarySample         = "CANARY_SAMPLE"
	IssueCorruptInput         = "CORRUPT_INPUT"
)

// issueMessages maps codes to human-readable review reasons
var issueMessages = map[string]string{
	IssueAmountMismatch:       "Net + tax does not match gross",
	IssueAmountScaleSuspect:   "Suspicious amounts (possible decimal separator misread)",
	IssueInvalidDate:          "Invalid invoice date",
	IssueFutureDate:           "Invoice date beyond future tolerance",
	IssueNoRule:               "No counterparty-to-account rule",
	IssueNIFSuspect:           "Tax id failed checksum validation",
	IssueNonEURCurrency:       "Currency other than EUR",
	IssueMissingSupplierNIF:   "Missing supplier tax id",
	IssueMissingInvoiceNumber: "Missing invoice number",
	IssueMissingGross:         "Missing gross amount",
	IssueMissingDate:          "Missing invoice date",
	IssueDupNIFNumber:         "Possible duplicate by tax id + invoice number",
	IssueDupNIFGross:          "Possible duplicate by tax id + gross amount",
	IssueDuplicateSuspect:     "Possible duplicate document",
	IssueCreditNote:           "Credit note",
	IssueIntracomZeroVAT:      "Intra-community operation at 0% VAT",
	IssueLinesIncomplete:      "Line item detail incomplete",
	IssueLowConfidence:        "Global confidence below threshold",
	IssuePageCountZero:        "PDF appears empty (0 pages)",
	IssueOCRTempError:         "Extraction provider temporarily unavailable",
	IssueProviderUnavailable:  "Provider temporarily unavailable",
	IssueProviderDegraded:     "Provider degraded (circuit breaker open)",
	IssueFallbackUsed:         "Primary extraction unavailable; fallback backend used",
	IssuePolicyAutoReview:     "Tenant policy disables auto-posting",
	IssueCategoryReview:       "Category outside the auto-post allowlist",
	IssueCanarySample:         "Sampled for ongoing human audit coverage",
	IssueCorruptInput:         "File is corrupt or unreadable",
}

// criticalIssues force routing to review regardless of confidence
var criticalIssues = map[string]bool{
	IssueAmountMismatch:       true,
	IssueAmountScaleSuspect:   true,
	IssueInvalidDate:          true,
	IssueFutureDate:           true,
	IssueNIFSuspect:           true,
	IssueNoRule:               true,
	IssueMissingSupplierNIF:   true,
	IssueMissingInvoiceNumber: true,
	IssueMissingGross:         true,
	IssueDupNIFNumber:         true,
	IssueDupNIFGross:          true,
	IssueDuplicateSuspect:     true,
	IssueLinesIncomplete:      true,
	IssuePageCountZero:        true,
	IssueNonEURCurrency:       true,
	IssueFallbackUsed:         true,
	IssueProviderDegraded:     true,
	IssueOCRTempError:         true,
}

// IsCritical reports whether an issue forces human review
func IsCritical(code string) bool {
	return criticalIssues[code]
}

// HasCritical reports whether any issue in the list is critical
func HasCritical(codes []string) bool {
	for _, code := range codes {
		if criticalIssues[code] {
			return true
		}
	}
	return false
}

// IssueMessage returns the human-readable message for a code,
// falling back to the code itself
func IssueMessage(code string) string {
	if msg, ok := issueMessages[code]; ok {
		return msg
	}
	return code
}

// AppendIssue adds a code if not already present, preserving order
func AppendIssue(issues []string, code string) []string {
	for _, existing := range issues {
		if existing == code {
			return issues
		}
	}
	return append(issues, code)
}
