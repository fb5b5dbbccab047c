package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/ingest"
	"github.com/dvloznov/spend-enricher/internal/pipeline"
)

// ErrJobNotFound is returned by stores for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeImport represents a multi-file import job.
	JobTypeImport JobType = "import"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates every file was imported or failed on its own.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusNeedsConfirmation indicates at least one file awaits a mapping review.
	JobStatusNeedsConfirmation JobStatus = "needs_confirmation"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// FileStatus is the outcome of one file inside an import.
type FileStatus string

const (
	FileStatusImported          FileStatus = "imported"
	FileStatusNeedsConfirmation FileStatus = "needs_confirmation"
	FileStatusFailed            FileStatus = "failed"
)

// ImportFile is one uploaded or referenced source.
type ImportFile struct {
	Name   string        `json:"name"`
	Format ingest.Format `json:"format,omitempty"`
	// URI is set for files loaded from a path or bucket instead of uploaded.
	URI  string `json:"uri,omitempty"`
	Data []byte `json:"-"`
}

// FileOutcome reports what happened to one file.
type FileOutcome struct {
	File     string                    `json:"file"`
	Status   FileStatus                `json:"status"`
	Result   *pipeline.Result          `json:"result,omitempty"`
	Proposal *pipeline.MappingProposal `json:"proposal,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

// ImportJob represents a batch of files ingested together.
type ImportJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// HomeZip is the cardholder's home postal code declared at upload.
	HomeZip string `json:"home_zip,omitempty"`

	// Files are the sources to ingest.
	Files []ImportFile `json:"files"`

	// Outcomes holds one entry per file once the job has run.
	Outcomes []FileOutcome `json:"outcomes,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ImportJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ImportJob) GetType() JobType {
	return JobTypeImport
}

// GetStatus implements the Job interface.
func (j *ImportJob) GetStatus() JobStatus {
	return j.Status
}

// Settle derives the job status from its file outcomes: any file awaiting
// review keeps the job open, all files failing fails it.
func (j *ImportJob) Settle() JobStatus {
	failed := 0
	for _, o := range j.Outcomes {
		switch o.Status {
		case FileStatusNeedsConfirmation:
			return JobStatusNeedsConfirmation
		case FileStatusFailed:
			failed++
		}
	}
	if len(j.Outcomes) > 0 && failed == len(j.Outcomes) {
		return JobStatusFailed
	}
	return JobStatusCompleted
}

// Transactions returns the records of every imported file, in file order,
// and the first valid home ZIP among them.
func (j *ImportJob) Transactions() ([]domain.Transaction, string) {
	var (
		out  []domain.Transaction
		home = domain.ParseHomeZip(j.HomeZip)
	)
	for _, o := range j.Outcomes {
		if o.Status != FileStatusImported || o.Result == nil {
			continue
		}
		out = append(out, o.Result.Transactions...)
		if home == "" {
			home = domain.ParseHomeZip(o.Result.HomeZip)
		}
	}
	return out, home
}

// Clone returns a copy whose slices can be modified independently.
func (j *ImportJob) Clone() *ImportJob {
	c := *j
	c.Files = append([]ImportFile(nil), j.Files...)
	c.Outcomes = append([]FileOutcome(nil), j.Outcomes...)
	return &c
}

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Publisher interface {
	// PublishImport publishes an import job.
	PublishImport(ctx context.Context, job *ImportJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ImportJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*ImportJob, error)

	// ListJobs retrieves jobs with optional filtering, oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ImportJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
