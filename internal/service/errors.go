package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/secretaria-go-api/internal/repository"
)

// Error categories. Specific failures wrap one of them so handlers can map status codes.
var (
	ErrValidation   = errors.New("validation failed")
	ErrPrecondition = errors.New("precondition failed")
	ErrNotFound     = errors.New("not found")
	ErrConsistency  = errors.New("consistency check failed")
)

// ReviewRequired is returned when an operation refuses to guess and needs a human
// decision. It is not a failure: nothing was written.
type ReviewRequired struct {
	Reason     string        `json:"reason"`
	Candidates []interface{} `json:"candidates,omitempty"`
}

func (r *ReviewRequired) Error() string {
	return "needs review: " + r.Reason
}

// AsReview extracts a review request from err.
func AsReview(err error) (*ReviewRequired, bool) {
	var review *ReviewRequired
	if errors.As(err, &review) {
		return review, true
	}
	return nil, false
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func preconditionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

func consistencyf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConsistency, fmt.Sprintf(format, args...))
}

// notFound maps gorm's missing-record error onto the domain category.
func notFound(err error, entity string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
	}
	return err
}

// conflict maps repository guard failures onto the precondition category.
func conflict(err error, message string) error {
	switch {
	case errors.Is(err, repository.ErrConditionFailed), errors.Is(err, repository.ErrStaleRecord):
		return fmt.Errorf("%w: %s", ErrPrecondition, message)
	default:
		return err
	}
}
