package economy

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/zy54321/after-school/internal/database"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("not found")
	ErrExpired             = errors.New("expired")
	ErrLimitExceeded       = errors.New("limit exceeded")
	ErrMemberNotAllowed    = errors.New("member not allowed")
	ErrMemberNotOwned      = errors.New("member does not belong to family")
	ErrBidTooLow           = errors.New("bid too low")
	ErrTicketsInsufficient = errors.New("tickets insufficient")
	ErrInvalidState        = errors.New("invalid state")
	ErrIdempotencyMismatch = errors.New("idempotency key already used for a different request")
	ErrConcurrencyConflict = database.ErrConflict
)

func points(n int64) string {
	if n == 1 || n == -1 {
		return humanize.Comma(n) + " point"
	}
	return humanize.Comma(n) + " points"
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type InsufficientBalanceError struct {
	MemberID int64
	Balance  int64
	Required int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for member %d: have %s, need %s",
		e.MemberID, points(e.Balance), points(e.Required))
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(resource string, id int64) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ExpiredError reports a resource used outside its validity window.
type ExpiredError struct {
	Resource string
	ID       int64
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("%s %d is outside its validity window", e.Resource, e.ID)
}

func (e *ExpiredError) Is(target error) bool { return target == ErrExpired }

// LimitExceededError reports a purchase or spin cap. Window is daily, weekly,
// monthly or stock.
type LimitExceededError struct {
	Resource  string
	ID        int64
	Window    string
	Max       int64
	Used      int64
	Requested int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded for %s %d: %s used of %s, %s requested",
		e.Window, e.Resource, e.ID, humanize.Comma(e.Used), humanize.Comma(e.Max), humanize.Comma(e.Requested))
}

func (e *LimitExceededError) Is(target error) bool { return target == ErrLimitExceeded }

type BidTooLowError struct {
	Bid     int64
	Minimum int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid of %s is too low: must be at least %s", points(e.Bid), points(e.Minimum))
}

func (e *BidTooLowError) Is(target error) bool { return target == ErrBidTooLow }

type TicketsInsufficientError struct {
	Required  int64
	Available int64
}

func (e *TicketsInsufficientError) Error() string {
	return fmt.Sprintf("tickets insufficient: have %s, need %s",
		humanize.Comma(e.Available), humanize.Comma(e.Required))
}

func (e *TicketsInsufficientError) Is(target error) bool { return target == ErrTicketsInsufficient }

type InvalidStateError struct {
	Resource string
	ID       int64
	State    string
	Op       string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %d in state %q", e.Op, e.Resource, e.ID, e.State)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// InvalidState builds an InvalidStateError.
func InvalidState(resource string, id int64, state, op string) error {
	return &InvalidStateError{Resource: resource, ID: id, State: state, Op: op}
}
