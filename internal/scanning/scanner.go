package scanning

// statementScanPrompt is the shared prompt used by all LLM providers for
// scanning billing statements
const statementScanPrompt = `You are an assistant that analyses images of monthly billing statements.
Task:
1. Identify every merchant or service that appears to be a **recurring subscription**.
2. For each one, if the statement shows the charge amount, convert that amount to **USD**. (Use today's FX rate if currency is not USD).
Return **ONLY** a JSON array of objects in this exact shape: [{"name": "Spotify", "amountUSD": 9.99}].
If an amount is unknown, omit the amountUSD field or set it to null.`

// Scanner defines the interface for statement scanning operations
type Scanner interface {
	// ScanStatement analyzes a statement image/PDF and returns the model's
	// raw text response. The response is not guaranteed to be valid JSON;
	// parsing it is the extraction layer's job.
	ScanStatement(imageData []byte, contentType string) (string, error)
	// Close closes the scanner and releases resources
	Close() error
}
