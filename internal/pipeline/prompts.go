package pipeline

import (
	"strings"
)

// buildExtractionPrompt asks the model for a strict JSON array whose keys
// are the canonical field names, so the reply can be validated like any
// other mapped row.
func buildExtractionPrompt(homeZip string) string {
	var b strings.Builder
	b.WriteString("You are a financial statement parser for card and bank statements.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Extract ALL purchase and payment transactions in the attached statement.\n")
	b.WriteString("- Output STRICT JSON only: a JSON array of objects, nothing else.\n\n")

	b.WriteString("Each object must have these fields:\n")
	b.WriteString("- \"transaction_id\": string or null (reference number if printed)\n")
	b.WriteString("- \"merchant_name\": string (merchant as printed)\n")
	b.WriteString("- \"description\": string or null\n")
	b.WriteString("- \"amount\": number (positive for charges, negative for credits and refunds)\n")
	b.WriteString("- \"date\": string, ISO format \"YYYY-MM-DD\"\n")
	b.WriteString("- \"mcc\": string or null (merchant category code if printed)\n")
	b.WriteString("- \"zip_code\": string or null (5-digit US ZIP of the merchant if printed)\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("- Skip balances, totals, interest summaries and fee tables that are not transactions.\n")
	b.WriteString("- If the statement only shows month and day, use the statement period to infer the year.\n")
	if homeZip != "" {
		b.WriteString("- The cardholder lives in ZIP " + homeZip + "; do not copy it into zip_code unless printed on the line.\n")
	}
	b.WriteString("\nReturn ONLY valid raw JSON.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Output must begin with \"[\" and end with \"]\".\n")
	return b.String()
}
