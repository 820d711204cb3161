package documents

import (
	"time"

	"github.com/google/uuid"
)

// Attachment categories.
const (
	CategoryLabReport        = "lab-report"
	CategoryImaging          = "imaging"
	CategoryPrescriptionScan = "prescription-scan"
	CategoryOther            = "other"
)

var validCategories = map[string]bool{
	CategoryLabReport:        true,
	CategoryImaging:          true,
	CategoryPrescriptionScan: true,
	CategoryOther:            true,
}

// DownloadTTL is how long a presigned download link stays valid.
const DownloadTTL = 15 * time.Minute

// Attachment is a report or scan stored in object storage.
type Attachment struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	EncounterID *uuid.UUID `json:"encounter_id,omitempty"`
	UploadedBy  uuid.UUID  `json:"uploaded_by"`
	FileName    string     `json:"file_name"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	SHA256      string     `json:"sha256"`
	ObjectKey   string     `json:"-"`
	Category    string     `json:"category"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Upload is an incoming file. The content type is sniffed from the bytes.
type Upload struct {
	FileName string
	Category string
	Size     int64
}
