package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey    = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderUserID    = "X-User-ID"
	ContentTypeJSON = "application/json"
)

// API paths
const (
	PathHealthz            = "/healthz"
	PathDocuments          = "/documents"
	PathGenerateMindmap    = "/mindmaps:generate"
	PathGenerateFlashcards = "/flashcards:generate"
	PathGenerateQuiz       = "/quizzes:generate"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 128
	DefaultWorkerCount   = 4
	SQLiteBusyTimeoutMS  = 5000

	// MaxTextLength bounds the text sent to the AI service, in runes.
	MaxTextLength = 8000
	// PreviewLength bounds the stored content preview, in runes.
	PreviewLength = 1000
)

// MIME types served for original file download.
const (
	MimePDF   = "application/pdf"
	MimeDOCX  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeText  = "text/plain"
	MimeOctet = "application/octet-stream"
)

// Subdirectory names under the storage dir.
const (
	StagingDirName = "uploads"
	ArchiveDirName = "preserved"
)

// Job status strings as stored and served.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)
