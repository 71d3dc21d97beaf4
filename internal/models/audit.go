package models

import "time"

// Audit actions recorded for privileged operations.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionSignup         = "SIGNUP"
	AuditActionInviteCreate   = "INVITE_CREATE"
	AuditActionInviteRevoke   = "INVITE_REVOKE"
	AuditActionDocumentReview = "DOCUMENT_REVIEW"
	AuditActionReportUpload   = "REPORT_UPLOAD"
	AuditActionReportDelete   = "REPORT_DELETE"
	AuditActionClientArchive  = "CLIENT_ARCHIVE"
	AuditActionBillingSync    = "BILLING_SYNC"
	AuditActionThreadUpdate   = "THREAD_UPDATE"
	AuditActionArchiveExport  = "ARCHIVE_EXPORT"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
