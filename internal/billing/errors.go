package billing

import (
	"fmt"
	"net/http"
)

// Kind identifies a billing failure class. Every kind carries an
// HTTP-equivalent status so collaborators can translate without inspecting
// message text.
type Kind int

const (
	KindStorage Kind = iota
	KindOrganizationNotFound
	KindFeatureNotConfigured
	KindTariffNotFound
	KindAccessDenied
	KindInsufficientBalance
	KindSeatLimitReached
	KindCannotRemoveLastMember
	KindNoOpUpgrade
	KindInvalidArgument
)

// Code returns the stable machine-readable code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindOrganizationNotFound:
		return "organization_not_found"
	case KindFeatureNotConfigured:
		return "feature_not_configured"
	case KindTariffNotFound:
		return "tariff_not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindSeatLimitReached:
		return "seat_limit_reached"
	case KindCannotRemoveLastMember:
		return "cannot_remove_last_member"
	case KindNoOpUpgrade:
		return "noop_upgrade"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "billing_error"
	}
}

// Status returns the HTTP-equivalent status for the kind.
func (k Kind) Status() int {
	switch k {
	case KindOrganizationNotFound, KindFeatureNotConfigured, KindTariffNotFound:
		return http.StatusNotFound
	case KindAccessDenied:
		return http.StatusForbidden
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindSeatLimitReached, KindCannotRemoveLastMember:
		return http.StatusConflict
	case KindNoOpUpgrade, KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed billing failure.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is makes two billing errors of the same kind match under errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapStorage(op string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: op, cause: cause}
}

func errOrganizationNotFound(orgID string) *Error {
	return newError(KindOrganizationNotFound, "no ledger for organization %q", orgID)
}

func errFeatureNotConfigured(feature string) *Error {
	return newError(KindFeatureNotConfigured, "feature %q is not configured", feature)
}

func errTariffNotFound(tariff string) *Error {
	return newError(KindTariffNotFound, "tariff %q not found", tariff)
}
