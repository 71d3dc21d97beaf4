package models

import "time"

// ArchivalJob is the durable marker of an archival in progress.
type ArchivalJob struct {
	ID           string         `db:"id" json:"id"`
	ClientID     string         `db:"client_id" json:"client_id"`
	UserID       *string        `db:"user_id" json:"user_id,omitempty"`
	Status       ArchivalStatus `db:"status" json:"status"`
	RequestedBy  string         `db:"requested_by" json:"requested_by"`
	Attempts     int            `db:"attempts" json:"attempts"`
	LastError    *string        `db:"last_error" json:"last_error,omitempty"`
	ManifestPath *string        `db:"manifest_path" json:"manifest_path,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
	CompletedAt  *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// ArchivedClient is the retained copy of a client row.
type ArchivedClient struct {
	ID                 string    `db:"id" json:"id"`
	UserID             string    `db:"user_id" json:"user_id"`
	Name               string    `db:"name" json:"name"`
	ContactEmail       string    `db:"contact_email" json:"contact_email"`
	Phone              *string   `db:"phone" json:"phone,omitempty"`
	CompanyName        *string   `db:"company_name" json:"company_name,omitempty"`
	SubscriptionPlan   *string   `db:"subscription_plan" json:"subscription_plan,omitempty"`
	SubscriptionStatus string    `db:"subscription_status" json:"subscription_status"`
	StripeCustomerID   *string   `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	ArchivedAt         time.Time `db:"archived_at" json:"archived_at"`
	DeleteAfterDate    time.Time `db:"delete_after_date" json:"delete_after_date"`
	ArchivedBy         *string   `db:"archived_by" json:"archived_by,omitempty"`
}

// ArchivedDocument is the retained copy of a document row.
type ArchivedDocument struct {
	ID              string    `db:"id" json:"id"`
	ClientID        string    `db:"client_id" json:"client_id"`
	Name            string    `db:"name" json:"name"`
	StoragePath     string    `db:"storage_path" json:"storage_path"`
	DocumentType    string    `db:"document_type" json:"document_type"`
	Category        string    `db:"category" json:"category"`
	Status          string    `db:"status" json:"status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	ArchivedAt      time.Time `db:"archived_at" json:"archived_at"`
	DeleteAfterDate time.Time `db:"delete_after_date" json:"delete_after_date"`
}

// ArchivedReport is the retained copy of a report row.
type ArchivedReport struct {
	ID              string     `db:"id" json:"id"`
	ClientID        string     `db:"client_id" json:"client_id"`
	ReportType      string     `db:"report_type" json:"report_type"`
	Name            string     `db:"name" json:"name"`
	StoragePath     string     `db:"storage_path" json:"storage_path"`
	PeriodStart     *time.Time `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd       *time.Time `db:"period_end" json:"period_end,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	ArchivedAt      time.Time  `db:"archived_at" json:"archived_at"`
	DeleteAfterDate time.Time  `db:"delete_after_date" json:"delete_after_date"`
}

// ArchiveFilter narrows archived client listings.
type ArchiveFilter struct {
	Search string
	Limit  int
	Offset int
}
