package dto

import "github.com/noah-isme/client-portal-api/internal/models"

// AdvanceOnboardingRequest moves the onboarding wizard to a step.
type AdvanceOnboardingRequest struct {
	Step int `json:"step" binding:"required,min=1,max=4"`
}

// SelectPlanRequest picks a catalog plan.
type SelectPlanRequest struct {
	PlanID string `json:"planId" binding:"required"`
}

// CheckoutReturnRequest reports how the hosted checkout ended.
type CheckoutReturnRequest struct {
	Result string `json:"result" binding:"required,oneof=success cancel"`
}

// ValidateInviteRequest checks an invite code before signup.
type ValidateInviteRequest struct {
	Code  string `json:"code" binding:"required"`
	Email string `json:"email"`
}

// ReviewDocumentRequest records a staff decision on a document.
type ReviewDocumentRequest struct {
	Status models.DocumentStatus `json:"status" binding:"required"`
}

// LogoutRequest revokes a refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}
