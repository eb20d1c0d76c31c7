package types

// DocumentStatus tracks a document through the OCR and embedding pipeline.
type DocumentStatus string

const (
	StatusUnprocessed    DocumentStatus = "unprocessed"
	StatusProcessing     DocumentStatus = "processing"
	StatusDone           DocumentStatus = "done"
	StatusPartialFailure DocumentStatus = "partial_failure"
	StatusFailed         DocumentStatus = "failed"
)

// Document represents a stored legal document owned by a single firm.
// Status invariant: done means every page succeeded, partial_failure means
// at least one page succeeded, failed means none did.
type Document struct {
	ID             string         `bson:"_id" json:"id"`
	FirmID         string         `bson:"firm_id" json:"firm_id"`
	Filename       string         `bson:"filename" json:"filename"`
	FilePath       string         `bson:"file_path" json:"file_path"`
	FileSize       int64          `bson:"file_size,omitempty" json:"file_size,omitempty"`
	FileSHA256     string         `bson:"file_sha256,omitempty" json:"file_sha256,omitempty"`
	MimeType       string         `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	CaseID         string         `bson:"case_id,omitempty" json:"case_id,omitempty"`
	UploadedBy     string         `bson:"uploaded_by,omitempty" json:"uploaded_by,omitempty"`
	Status         DocumentStatus `bson:"status" json:"status"`
	OCRProcessed   bool           `bson:"ocr_processed" json:"ocr_processed"`
	OCRText        string         `bson:"ocr_text,omitempty" json:"ocr_text,omitempty"`
	OCRConfidence  float64        `bson:"ocr_confidence,omitempty" json:"ocr_confidence,omitempty"`
	OCRLanguage    string         `bson:"ocr_language,omitempty" json:"ocr_language,omitempty"`
	OCRMethod      string         `bson:"ocr_method,omitempty" json:"ocr_method,omitempty"`
	OCRError       string         `bson:"ocr_error,omitempty" json:"ocr_error,omitempty"`
	PagesProcessed int            `bson:"pages_processed,omitempty" json:"pages_processed,omitempty"`
	IsSearchable   bool           `bson:"is_searchable" json:"is_searchable"`
	AICategory     string         `bson:"ai_category,omitempty" json:"ai_category,omitempty"`
	AISummary      string         `bson:"ai_summary,omitempty" json:"ai_summary,omitempty"`
	AIConfidence   float64        `bson:"ai_confidence,omitempty" json:"ai_confidence,omitempty"`
	AIProcessed    bool           `bson:"ai_processed" json:"ai_processed"`
	AIError        string         `bson:"ai_error,omitempty" json:"ai_error,omitempty"`
	CreatedAt      int64          `bson:"created_at" json:"created_at"`
	UpdatedAt      int64          `bson:"updated_at" json:"updated_at"`
}

// ChunkEmbedding is one embedded text chunk as stored in the vector database.
type ChunkEmbedding struct {
	FirmID     string    `json:"firm_id"`
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Model      string    `json:"model"`
	Vector     []float32 `json:"-"`
	CreatedAt  int64     `json:"created_at"`
}

// ChunkMatch is a search hit with its vector distance.
type ChunkMatch struct {
	ChunkEmbedding
	Distance float64 `json:"distance"`
}
