package model

import "time"

// IngestState tracks how far an artifact has been ingested.
type IngestState string

const (
	IngestPending  IngestState = "pending"
	IngestPartial  IngestState = "partial"
	IngestComplete IngestState = "complete"
	IngestFailed   IngestState = "failed"
)

// VerifyState tracks whether the user has validated the machine-derived
// understanding of an artifact.
type VerifyState string

const (
	VerifyUnverified    VerifyState = "unverified"
	VerifyUserConfirmed VerifyState = "user_confirmed"
	VerifyUserCorrected VerifyState = "user_corrected"
)

// Ingest error codes recorded on failed runs.
const (
	IngestErrInvalidURL      = "INVALID_URL"
	IngestErrHostBlocked     = "HOST_BLOCKED"
	IngestErrFetchFailed     = "FETCH_FAILED"
	IngestErrFetchTimeout    = "FETCH_TIMEOUT"
	IngestErrBadContentType  = "UNSUPPORTED_CONTENT_TYPE"
	IngestErrTooManyHops     = "TOO_MANY_REDIRECTS"
	IngestErrExtractTooSmall = "EXTRACT_TOO_SMALL"
)

// ArtifactType identifies the kind of external reference.
type ArtifactType string

const (
	ArtifactWebsite ArtifactType = "website"
)

// ArtifactInput is one referenced external source. There is exactly one
// row per distinct (project, cycle, type, reference).
type ArtifactInput struct {
	ID            string       `json:"id"`
	ProjectID     string       `json:"project_id"`
	Cycle         int          `json:"cycle"`
	Type          ArtifactType `json:"type"`
	Reference     string       `json:"reference"`
	CanonicalURL  string       `json:"canonical_url,omitempty"`
	IngestState   IngestState  `json:"ingest_state"`
	VerifyState   VerifyState  `json:"verify_state"`
	LatestSummary string       `json:"latest_summary,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ArtifactIngestRun records one fetch attempt. Runs are deduplicated by
// IdempotencyKey: a matching prior run is reused, never duplicated.
type ArtifactIngestRun struct {
	ID             string    `json:"id"`
	ArtifactID     string    `json:"artifact_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Outcome        string    `json:"outcome"` // "ok" or an ingest error code
	BytesFetched   int       `json:"bytes_fetched"`
	Redirects      int       `json:"redirects"`
	Truncated      bool      `json:"truncated"`
	ErrorCode      string    `json:"error_code,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SummarySource distinguishes machine summaries from user corrections.
type SummarySource string

const (
	SummaryMachine SummarySource = "machine"
	SummaryUser    SummarySource = "user"
)

// ArtifactSummary is one versioned understanding of an artifact.
// Summaries are append-only: a correction supersedes by appending a
// user-sourced version, never by editing a prior row.
type ArtifactSummary struct {
	ID         string        `json:"id"`
	ArtifactID string        `json:"artifact_id"`
	Version    int           `json:"version"`
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	Source     SummarySource `json:"source"`
	PageIDs    []string      `json:"page_ids,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ArtifactPage is the raw extracted text of one fetched page, stored
// once and referenced from provenance.
type ArtifactPage struct {
	ID         string    `json:"id"`
	ArtifactID string    `json:"artifact_id"`
	URL        string    `json:"url"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}
