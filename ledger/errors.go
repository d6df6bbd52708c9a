/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error causes in one place for consistency and discoverability.
  Stores return the sentinels below; the engine wraps every failure it
  returns in *Error so callers can branch on Kind without knowing causes.

ERROR CATEGORIES:
  1. Validation - malformed input (non-positive amounts, bad fields)
  2. Rule       - business rule violations (insufficient balance, used promo)
  3. Permission - the actor's role is not cleared for the operation
  4. NotFound   - a referenced account, transaction, promotion or event is missing
  5. Internal   - storage failures; the atomic unit was rolled back

USAGE:
    if errors.Is(err, ledger.ErrInsufficientBalance) { ... }
    switch ledger.KindOf(err) { case ledger.KindPermission: ... }

SEE ALSO:
  - engine.go: fail() classifies and wraps errors
  - api/handlers.go: maps Kind to HTTP status
*/
package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers.
type Kind string

const (
	KindValidation Kind = "validation"
	KindRule       Kind = "rule"
	KindPermission Kind = "permission"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for zero, negative or otherwise unusable point amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidSpent is returned when a purchase's spend is not positive or exceeds the maximum.
	ErrInvalidSpent = errors.New("invalid spent amount")

	// ErrInvalidInput covers malformed fields that have no dedicated cause.
	ErrInvalidInput = errors.New("invalid input")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSelfTransfer        = errors.New("cannot transfer points to yourself")

	// ErrUnverifiedSender is returned when an unverified account attempts a transfer.
	ErrUnverifiedSender = errors.New("sender is not verified")

	// ErrPromotionInvalid is returned for unknown, automatic, inactive or
	// repeated promotion IDs supplied with a purchase.
	ErrPromotionInvalid = errors.New("invalid promotion")

	ErrPromotionUsed        = errors.New("promotion already used")
	ErrPromotionMinSpending = errors.New("promotion minimum spending not met")

	// ErrPromotionStarted is returned when editing or deleting a promotion that has begun.
	ErrPromotionStarted = errors.New("promotion has already started")

	ErrNotRedemption    = errors.New("transaction is not a redemption")
	ErrAlreadyProcessed = errors.New("redemption already processed")

	// ErrRelatedMismatch is returned when an adjustment references a
	// transaction that belongs to a different account.
	ErrRelatedMismatch = errors.New("related transaction belongs to another account")

	ErrBudgetExceeded   = errors.New("event points budget exceeded")
	ErrNoGuests         = errors.New("event has no guests")
	ErrNotGuest         = errors.New("user is not a guest of the event")
	ErrGuestIsOrganizer = errors.New("user is an organizer of the event")
	ErrOrganizerIsGuest = errors.New("user is a guest of the event")
	ErrEventEnded       = errors.New("event has ended")
	ErrEventFull        = errors.New("event is full")

	// ErrEventStarted is returned when editing the name, description,
	// location, start time or capacity of an event that has begun.
	ErrEventStarted   = errors.New("event has already started")
	ErrEventPublished = errors.New("event is published")
	ErrEventAwarded   = errors.New("event has awarded points")

	// ErrCapacityBelowGuests is returned when a capacity edit would leave
	// more guests than seats.
	ErrCapacityBelowGuests = errors.New("capacity is below the current guest count")

	ErrRoleNotAssignable = errors.New("role cannot be assigned by this actor")
	ErrSuspiciousCashier = errors.New("suspicious account cannot be a cashier")
	ErrDuplicateUtorid   = errors.New("utorid already registered")

	// ErrForbidden is returned when the actor's role does not permit the operation.
	ErrForbidden = errors.New("forbidden")

	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPromotionNotFound   = errors.New("promotion not found")
	ErrEventNotFound       = errors.New("event not found")
	ErrNotOrganizer        = errors.New("user is not an organizer of the event")

	// ErrTransactionFailed is returned when the atomic unit could not be committed.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrConcurrentModification is returned by stores when a writer could not
	// acquire the database. The whole operation may be retried.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidAmount, KindValidation},
	{ErrInvalidSpent, KindValidation},
	{ErrInvalidInput, KindValidation},
	{ErrForbidden, KindPermission},
	{ErrUnverifiedSender, KindPermission},
	{ErrRoleNotAssignable, KindPermission},
	{ErrAccountNotFound, KindNotFound},
	{ErrTransactionNotFound, KindNotFound},
	{ErrPromotionNotFound, KindNotFound},
	{ErrEventNotFound, KindNotFound},
	{ErrNotOrganizer, KindNotFound},
	{ErrInsufficientBalance, KindRule},
	{ErrSelfTransfer, KindRule},
	{ErrPromotionInvalid, KindRule},
	{ErrPromotionUsed, KindRule},
	{ErrPromotionMinSpending, KindRule},
	{ErrPromotionStarted, KindRule},
	{ErrNotRedemption, KindRule},
	{ErrAlreadyProcessed, KindRule},
	{ErrRelatedMismatch, KindRule},
	{ErrBudgetExceeded, KindRule},
	{ErrNoGuests, KindRule},
	{ErrNotGuest, KindRule},
	{ErrGuestIsOrganizer, KindRule},
	{ErrOrganizerIsGuest, KindRule},
	{ErrEventEnded, KindRule},
	{ErrEventFull, KindRule},
	{ErrEventStarted, KindRule},
	{ErrEventPublished, KindRule},
	{ErrEventAwarded, KindRule},
	{ErrCapacityBelowGuests, KindRule},
	{ErrSuspiciousCashier, KindRule},
	{ErrDuplicateUtorid, KindRule},
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Error is the classified failure every Engine operation returns.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID int64
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// BudgetExceededError reports an award larger than the event's remaining pool.
type BudgetExceededError struct {
	EventID   int64
	Remaining int64
	Requested int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("event points budget exceeded: remaining %d, requested %d", e.Remaining, e.Requested)
}

func (e *BudgetExceededError) Unwrap() error {
	return ErrBudgetExceeded
}

// PromotionError names the promotion that failed a purchase.
type PromotionError struct {
	PromotionID int64
	Err         error
}

func (e *PromotionError) Error() string {
	return fmt.Sprintf("promotion %d: %v", e.PromotionID, e.Err)
}

func (e *PromotionError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the classification of err. Unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindRule, KindPermission, KindNotFound:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
