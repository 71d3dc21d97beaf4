package models

import "time"

// Onboarding wizard steps.
const (
	OnboardingStepDocuments  = 1
	OnboardingStepAccounting = 2
	OnboardingStepPlan       = 3
	OnboardingStepReview     = 4
)

// Checkout return results.
const (
	CheckoutResultSuccess = "success"
	CheckoutResultCancel  = "cancel"
)

// OnboardingState is the client-facing view of the wizard.
type OnboardingState struct {
	Step            int                `json:"step"`
	Status          OnboardingStatus   `json:"status"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	Documents       []RequiredDocument `json:"documents"`
	Gate            DocumentGate       `json:"gate"`
	AccountingInfo  AccountingInfo     `json:"accounting_info"`
	SelectedPlan    string             `json:"selected_plan,omitempty"`
	PaymentComplete bool               `json:"payment_complete"`
	BypassPayment   bool               `json:"bypass_payment"`
}

// AccountingInfoRequest is the step 2 form.
type AccountingInfoRequest struct {
	System      string `json:"system" validate:"omitempty,max=100"`
	CompanyName string `json:"company_name" validate:"required,max=255"`
	Email       string `json:"email" validate:"required,max=255"`
	Notes       string `json:"notes" validate:"omitempty,max=2000"`
}

// PlanSelection is the result of choosing a plan in step 3. CheckoutURL is
// empty when the client skips payment.
type PlanSelection struct {
	PlanID      string `json:"plan_id"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	Step        int    `json:"step"`
}
