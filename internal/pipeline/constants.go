package pipeline

// Default values for ingestion and document extraction.
// These can be overridden via configuration.
const (
	// DefaultModelName is the default Gemini model used for document extraction.
	DefaultModelName = "gemini-2.5-flash"

	// SyntheticIDPrefix starts every identifier generated for rows that lack one.
	SyntheticIDPrefix = "txn"

	// ProposalSampleRows is how many parsed rows a mapping proposal shows a reviewer.
	ProposalSampleRows = 5
)
