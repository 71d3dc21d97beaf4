package models

import (
	"strings"
	"time"
)

// InviteCode gates self-service signup.
type InviteCode struct {
	Code                 string     `db:"code" json:"code"`
	Email                *string    `db:"email" json:"email,omitempty"`
	ClientName           *string    `db:"client_name" json:"client_name,omitempty"`
	Notes                *string    `db:"notes" json:"notes,omitempty"`
	RecommendedPlan      *string    `db:"recommended_plan" json:"recommended_plan,omitempty"`
	EngagementLetterPath *string    `db:"engagement_letter_path" json:"-"`
	BypassPayment        bool       `db:"bypass_payment" json:"bypass_payment"`
	TrialDays            *int       `db:"trial_days" json:"trial_days,omitempty"`
	ExpiresAt            time.Time  `db:"expires_at" json:"expires_at"`
	Used                 bool       `db:"used" json:"used"`
	UsedAt               *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedBy            string     `db:"created_by" json:"created_by"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}

// HasEngagementLetter reports whether a letter file is attached.
func (i InviteCode) HasEngagementLetter() bool {
	return i.EngagementLetterPath != nil && *i.EngagementLetterPath != ""
}

// Redeemable checks the single-use, expiry and e-mail lock rules at now.
// An empty reason means the code can be consumed.
func (i InviteCode) Redeemable(email string, now time.Time) string {
	if i.Used {
		return "invite code has already been used"
	}
	if !now.Before(i.ExpiresAt) {
		return "invite code has expired"
	}
	if i.Email != nil && *i.Email != "" && email != "" && *i.Email != NormalizeEmail(email) {
		return "invite code is locked to a different email"
	}
	return ""
}

// InviteFilter narrows the staff invite listing.
type InviteFilter struct {
	Used    *bool
	Expired *bool
	Limit   int
	Offset  int
}

// NormalizeEmail lowercases and trims an e-mail address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateInviteRequest is the staff form for issuing an invite code.
type CreateInviteRequest struct {
	Email           string     `json:"email" form:"email" validate:"omitempty,email"`
	ClientName      string     `json:"client_name" form:"client_name" validate:"omitempty,max=200"`
	Notes           string     `json:"notes" form:"notes" validate:"omitempty,max=2000"`
	RecommendedPlan string     `json:"recommended_plan" form:"recommended_plan"`
	BypassPayment   bool       `json:"bypass_payment" form:"bypass_payment"`
	TrialDays       *int       `json:"trial_days" form:"trial_days" validate:"omitempty,min=1,max=365"`
	ExpiresAt       *time.Time `json:"expires_at" form:"expires_at" time_format:"2006-01-02T15:04:05Z07:00"`
	SendEmail       bool       `json:"send_email" form:"send_email"`
}

// InviteValidation answers an invite check.
type InviteValidation struct {
	Valid      bool        `json:"valid"`
	InviteCode *InviteCode `json:"invite_code,omitempty"`
	Error      string      `json:"error,omitempty"`
}
