package models

import "time"

// Document categories.
const (
	DocumentCategoryOnboarding = "onboarding"
	DocumentCategoryAdHoc      = "ad_hoc"
)

// Document is the metadata row of one stored client file.
type Document struct {
	ID           string         `db:"id" json:"id"`
	ClientID     string         `db:"client_id" json:"client_id"`
	Name         string         `db:"name" json:"name"`
	StoragePath  string         `db:"storage_path" json:"-"`
	MimeType     string         `db:"mime_type" json:"mime_type"`
	SizeBytes    int64          `db:"size_bytes" json:"size_bytes"`
	DocumentType string         `db:"document_type" json:"document_type"`
	Category     string         `db:"category" json:"category"`
	Status       DocumentStatus `db:"status" json:"status"`
	UploadedBy   string         `db:"uploaded_by" json:"uploaded_by"`
	ReviewedBy   *string        `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time     `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// DocumentFilter narrows document listings.
type DocumentFilter struct {
	ClientID string
	Category string
	Status   DocumentStatus
	Limit    int
	Offset   int
}

// RequiredDocument is one onboarding checklist slot per (client, type).
type RequiredDocument struct {
	ID           string                 `db:"id" json:"id"`
	ClientID     string                 `db:"client_id" json:"client_id"`
	DocumentType string                 `db:"document_type" json:"document_type"`
	IsRequired   bool                   `db:"is_required" json:"is_required"`
	Status       RequiredDocumentStatus `db:"status" json:"status"`
	DocumentID   *string                `db:"document_id" json:"document_id,omitempty"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time              `db:"updated_at" json:"updated_at"`
}

// DocumentGate summarizes the required-document checklist.
type DocumentGate struct {
	Required  int  `json:"required"`
	Fulfilled int  `json:"fulfilled"`
	Missing   int  `json:"missing"`
	Satisfied bool `json:"satisfied"`
}

// AttachResult reports the outcome of linking an upload to a checklist slot.
type AttachResult struct {
	Slot     RequiredDocument
	Replaced *Document
}
