package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Client is a customer of the firm, linked 1:1 to a CLIENT user.
type Client struct {
	ID                      string             `db:"id" json:"id"`
	UserID                  string             `db:"user_id" json:"user_id"`
	Name                    string             `db:"name" json:"name"`
	ContactEmail            string             `db:"contact_email" json:"contact_email"`
	Phone                   *string            `db:"phone" json:"phone,omitempty"`
	CompanyName             *string            `db:"company_name" json:"company_name,omitempty"`
	AccountingInfo          *string            `db:"accounting_info" json:"-"`
	SubscriptionPlan        *string            `db:"subscription_plan" json:"subscription_plan,omitempty"`
	SubscriptionStatus      SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	StripeCustomerID        *string            `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID    *string            `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	TrialEnd                *time.Time         `db:"trial_end" json:"trial_end,omitempty"`
	SubscriptionStartedAt   *time.Time         `db:"subscription_started_at" json:"subscription_started_at,omitempty"`
	SubscriptionCancelledAt *time.Time         `db:"subscription_cancelled_at" json:"subscription_cancelled_at,omitempty"`
	SubscriptionEventAt     *time.Time         `db:"subscription_event_at" json:"-"`
	BypassPayment           bool               `db:"bypass_payment" json:"bypass_payment"`
	OnboardingStatus        OnboardingStatus   `db:"onboarding_status" json:"onboarding_status"`
	OnboardingStep          int                `db:"onboarding_step" json:"onboarding_step"`
	OnboardingCompletedAt   *time.Time         `db:"onboarding_completed_at" json:"onboarding_completed_at,omitempty"`
	CreatedAt               time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time          `db:"updated_at" json:"updated_at"`
}

// Plan returns the subscription plan id or an empty string.
func (c *Client) Plan() string {
	if c == nil || c.SubscriptionPlan == nil {
		return ""
	}
	return *c.SubscriptionPlan
}

// CustomerID returns the processor customer id or an empty string.
func (c *Client) CustomerID() string {
	if c == nil || c.StripeCustomerID == nil {
		return ""
	}
	return *c.StripeCustomerID
}

// ClientFilter narrows the staff client directory.
type ClientFilter struct {
	Search             string
	SubscriptionStatus SubscriptionStatus
	OnboardingStatus   OnboardingStatus
	Page               int
	PageSize           int
}

// SubscriptionUpdate is a conditional write of subscription fields. Nil
// pointers leave the column untouched; Clear* flags null the column.
type SubscriptionUpdate struct {
	ClientID       string
	EventAt        time.Time
	Plan           *string
	Status         *SubscriptionStatus
	CustomerID     *string
	SubscriptionID *string
	TrialEnd       *time.Time
	ClearTrialEnd  bool
	StartedAt      *time.Time
	CancelledAt    *time.Time
}

// Accounting info variants.
const (
	AccountingInfoVersion    = 1
	AccountingInfoStructured = "structured"
	AccountingInfoLegacy     = "legacy"
)

// AccountingInfo describes the client's external accounting system. Kind is
// "structured" for parsed data and "legacy" when the stored value could not
// be interpreted; Raw keeps the original text in that case.
type AccountingInfo struct {
	Version     int    `json:"version"`
	Kind        string `json:"kind"`
	System      string `json:"system,omitempty"`
	CompanyName string `json:"company_name"`
	Email       string `json:"email"`
	Notes       string `json:"notes,omitempty"`
	Raw         string `json:"raw,omitempty"`
}

// ParseAccountingInfo decodes a stored accounting info column. Untagged JSON
// objects written before versioning are upgraded to the structured variant.
func ParseAccountingInfo(raw *string) AccountingInfo {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return AccountingInfo{Version: AccountingInfoVersion, Kind: AccountingInfoStructured}
	}
	var info AccountingInfo
	if err := json.Unmarshal([]byte(*raw), &info); err != nil {
		return AccountingInfo{Version: AccountingInfoVersion, Kind: AccountingInfoLegacy, Raw: *raw}
	}
	switch info.Kind {
	case AccountingInfoStructured, AccountingInfoLegacy:
		if info.Version == 0 {
			info.Version = AccountingInfoVersion
		}
		return info
	case "":
		if info.CompanyName == "" && info.Email == "" && info.Notes == "" {
			return AccountingInfo{Version: AccountingInfoVersion, Kind: AccountingInfoLegacy, Raw: *raw}
		}
		info.Version = AccountingInfoVersion
		info.Kind = AccountingInfoStructured
		return info
	default:
		return AccountingInfo{Version: AccountingInfoVersion, Kind: AccountingInfoLegacy, Raw: *raw}
	}
}

// Complete reports whether the info satisfies the onboarding step 2 guard.
func (a AccountingInfo) Complete() bool {
	return a.Kind == AccountingInfoStructured &&
		strings.TrimSpace(a.CompanyName) != "" &&
		strings.TrimSpace(a.Email) != ""
}

// Encode serializes the info for storage.
func (a AccountingInfo) Encode() (string, error) {
	a.Version = AccountingInfoVersion
	if a.Kind == "" {
		a.Kind = AccountingInfoStructured
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UpdateProfileRequest is the self-service profile form. Nil fields are left unchanged.
type UpdateProfileRequest struct {
	Name           *string                `json:"name" validate:"omitempty,min=1,max=200"`
	ContactEmail   *string                `json:"contact_email" validate:"omitempty,email"`
	Phone          *string                `json:"phone" validate:"omitempty,max=40"`
	CompanyName    *string                `json:"company_name" validate:"omitempty,max=200"`
	AccountingInfo *AccountingInfoRequest `json:"accounting_info"`
}

// ClientProfile is a client row with its decoded accounting info.
type ClientProfile struct {
	Client
	AccountingInfo AccountingInfo `json:"accounting_info"`
	Plan           *Plan          `json:"plan,omitempty"`
}
