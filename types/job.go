package types

// Job statuses. A processing job whose lease expired is reclaimable.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// OCRJob is one at-least-once unit of pipeline work for a document.
// The lease (claim with lease_until) prevents two workers from processing
// the same document when the queue redelivers.
type OCRJob struct {
	ID          string `bson:"_id" json:"id"`
	FirmID      string `bson:"firm_id" json:"firm_id"`
	DocumentID  string `bson:"document_id" json:"document_id"`
	FilePath    string `bson:"file_path" json:"file_path"`
	Status      string `bson:"status" json:"status"`
	Attempts    int    `bson:"attempts" json:"attempts"`
	MaxAttempts int    `bson:"max_attempts" json:"max_attempts"`
	LeaseUntil  int64  `bson:"lease_until" json:"lease_until"`
	LastError   string `bson:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedAt   int64  `bson:"created_at" json:"created_at"`
	UpdatedAt   int64  `bson:"updated_at" json:"updated_at"`
}
