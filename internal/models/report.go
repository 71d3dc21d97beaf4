package models

import "time"

// ReportType enumerates staff-delivered financial reports.
type ReportType string

const (
	ReportProfitLoss     ReportType = "profit_loss"
	ReportBalanceSheet   ReportType = "balance_sheet"
	ReportReconciliation ReportType = "reconciliation"
)

// Valid reports whether t is a supported report type.
func (t ReportType) Valid() bool {
	switch t {
	case ReportProfitLoss, ReportBalanceSheet, ReportReconciliation:
		return true
	}
	return false
}

// Report is a financial artifact uploaded by staff for a client.
type Report struct {
	ID          string     `db:"id" json:"id"`
	ClientID    string     `db:"client_id" json:"client_id"`
	ReportType  ReportType `db:"report_type" json:"report_type"`
	Name        string     `db:"name" json:"name"`
	StoragePath string     `db:"storage_path" json:"-"`
	MimeType    string     `db:"mime_type" json:"mime_type"`
	SizeBytes   int64      `db:"size_bytes" json:"size_bytes"`
	PeriodStart *time.Time `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd   *time.Time `db:"period_end" json:"period_end,omitempty"`
	UploadedBy  string     `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// UploadReportRequest describes a report file uploaded by staff.
type UploadReportRequest struct {
	ReportType  ReportType `form:"report_type" validate:"required"`
	Name        string     `form:"name" validate:"required,max=255"`
	PeriodStart *time.Time `form:"period_start" time_format:"2006-01-02"`
	PeriodEnd   *time.Time `form:"period_end" time_format:"2006-01-02"`
}
