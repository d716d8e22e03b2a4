package emissions

import "errors"

// Input errors. Each is returned wrapped with context; match with errors.Is.
var (
	ErrInvalidActivityAmount = errors.New("activity amount must be greater than zero")
	ErrInvalidFactorValue    = errors.New("emission factor value must be greater than zero")
	ErrScopeMismatch         = errors.New("emission factor scope does not match activity scope")
	ErrInvalidPeriod         = errors.New("invalid reporting period")
	ErrIncompatibleUnit      = errors.New("activity unit cannot be converted to factor unit")
)

// Resolution and persistence errors
var (
	ErrNoFactorFound      = errors.New("no applicable emission factor found")
	ErrNotFound           = errors.New("record not found")
	ErrActivityReferenced = errors.New("activity is referenced by a non-archived emission result")
	ErrResultArchived     = errors.New("emission result is archived")
	ErrActivityArchived   = errors.New("activity is archived")
)

// IsInputError reports whether err is caused by invalid calculation input
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidActivityAmount) ||
		errors.Is(err, ErrInvalidFactorValue) ||
		errors.Is(err, ErrScopeMismatch) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrIncompatibleUnit)
}
