package models

// SubscriptionStatus is the portal's normalized view of a client's subscription.
type SubscriptionStatus string

const (
	SubscriptionNone      SubscriptionStatus = "none"
	SubscriptionTrialing  SubscriptionStatus = "trialing"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCanceling SubscriptionStatus = "canceling"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// DocumentStatus tracks staff review of an uploaded file.
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "pending"
	DocumentProcessed DocumentStatus = "processed"
	DocumentRejected  DocumentStatus = "rejected"
)

// RequiredDocumentStatus tracks one onboarding checklist slot.
type RequiredDocumentStatus string

const (
	RequiredPending  RequiredDocumentStatus = "pending"
	RequiredUploaded RequiredDocumentStatus = "uploaded"
	RequiredVerified RequiredDocumentStatus = "verified"
)

// MessageStatus is the status of a conversation thread.
type MessageStatus string

const (
	MessageOpen       MessageStatus = "open"
	MessageInProgress MessageStatus = "in_progress"
	MessageResolved   MessageStatus = "resolved"
	MessageClosed     MessageStatus = "closed"
)

// OnboardingStatus marks whether the wizard has been finished.
type OnboardingStatus string

const (
	OnboardingPending   OnboardingStatus = "pending"
	OnboardingCompleted OnboardingStatus = "completed"
)

// ArchivalStatus is the durable marker of an archival job.
type ArchivalStatus string

const (
	ArchivalPending   ArchivalStatus = "pending"
	ArchivalCopied    ArchivalStatus = "copied"
	ArchivalCompleted ArchivalStatus = "completed"
)

// Any processor-reported status may follow any other; "none" is
// unreachable once a subscription exists.
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionNone:      {SubscriptionTrialing, SubscriptionActive, SubscriptionPastDue, SubscriptionCanceling, SubscriptionCancelled},
	SubscriptionTrialing:  {SubscriptionActive, SubscriptionPastDue, SubscriptionCanceling, SubscriptionCancelled},
	SubscriptionActive:    {SubscriptionTrialing, SubscriptionPastDue, SubscriptionCanceling, SubscriptionCancelled},
	SubscriptionPastDue:   {SubscriptionTrialing, SubscriptionActive, SubscriptionCanceling, SubscriptionCancelled},
	SubscriptionCanceling: {SubscriptionTrialing, SubscriptionActive, SubscriptionPastDue, SubscriptionCancelled},
	SubscriptionCancelled: {SubscriptionTrialing, SubscriptionActive, SubscriptionPastDue, SubscriptionCanceling},
}

var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentPending: {DocumentProcessed, DocumentRejected},
}

var requiredDocumentTransitions = map[RequiredDocumentStatus][]RequiredDocumentStatus{
	RequiredPending:  {RequiredUploaded},
	RequiredUploaded: {RequiredPending, RequiredVerified},
	RequiredVerified: {RequiredUploaded, RequiredPending},
}

var messageTransitions = map[MessageStatus][]MessageStatus{
	MessageOpen:       {MessageInProgress, MessageResolved, MessageClosed},
	MessageInProgress: {MessageOpen, MessageResolved, MessageClosed},
	MessageResolved:   {MessageOpen, MessageClosed},
	MessageClosed:     {MessageOpen},
}

var onboardingTransitions = map[OnboardingStatus][]OnboardingStatus{
	OnboardingPending: {OnboardingCompleted},
}

var archivalTransitions = map[ArchivalStatus][]ArchivalStatus{
	ArchivalPending: {ArchivalCopied},
	ArchivalCopied:  {ArchivalCompleted},
}

// canTransition is the single transition check shared by every lifecycle.
// Re-applying the current state is always legal; unknown states never are.
func canTransition[S ~string](table map[S][]S, from, to S) bool {
	if _, known := table[to]; !known && !isTarget(table, to) {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

func isTarget[S ~string](table map[S][]S, s S) bool {
	for _, targets := range table {
		for _, t := range targets {
			if t == s {
				return true
			}
		}
	}
	return false
}

// CanTransitionTo reports whether the subscription may move to next.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	return canTransition(subscriptionTransitions, s, next)
}

// Valid reports whether s is a known subscription status.
func (s SubscriptionStatus) Valid() bool {
	_, ok := subscriptionTransitions[s]
	return ok
}

// HasAccess reports whether the status grants use of paid features.
func (s SubscriptionStatus) HasAccess() bool {
	switch s {
	case SubscriptionActive, SubscriptionTrialing, SubscriptionCanceling, SubscriptionPastDue:
		return true
	}
	return false
}

// CanTransitionTo reports whether the document may move to next.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	return canTransition(documentTransitions, s, next)
}

// Valid reports whether s is a known document status.
func (s DocumentStatus) Valid() bool {
	return s == DocumentPending || s == DocumentProcessed || s == DocumentRejected
}

// CanTransitionTo reports whether the checklist slot may move to next.
func (s RequiredDocumentStatus) CanTransitionTo(next RequiredDocumentStatus) bool {
	return canTransition(requiredDocumentTransitions, s, next)
}

// Fulfilled reports whether the slot counts toward the onboarding gate.
func (s RequiredDocumentStatus) Fulfilled() bool {
	return s == RequiredUploaded || s == RequiredVerified
}

// CanTransitionTo reports whether the thread may move to next.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	return canTransition(messageTransitions, s, next)
}

// Valid reports whether s is a known message status.
func (s MessageStatus) Valid() bool {
	_, ok := messageTransitions[s]
	return ok
}

// CanTransitionTo reports whether onboarding may move to next.
func (s OnboardingStatus) CanTransitionTo(next OnboardingStatus) bool {
	return canTransition(onboardingTransitions, s, next)
}

// CanTransitionTo reports whether the archival marker may move to next.
func (s ArchivalStatus) CanTransitionTo(next ArchivalStatus) bool {
	return canTransition(archivalTransitions, s, next)
}
