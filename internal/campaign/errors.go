package campaign

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a campaign, mailbox, client, or message
	// does not exist for the given tenant.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a lifecycle operation is applied
	// to a campaign in the wrong state (e.g. starting a running campaign).
	ErrInvalidTransition = errors.New("invalid campaign state transition")
)

// ValidationError rejects bad input shape before any persistence.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AdmissionError is returned when a tenant's remaining send credits cannot
// cover a campaign start. The campaign stays in draft and no messages are
// created.
type AdmissionError struct {
	Required  int
	Remaining int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("insufficient send credits: required %d, remaining %d (short %d)",
		e.Required, e.Remaining, e.Required-e.Remaining)
}

// Shortfall returns how many credits the tenant is missing.
func (e *AdmissionError) Shortfall() int { return e.Required - e.Remaining }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAdmission reports whether err is an AdmissionError.
func IsAdmission(err error) (*AdmissionError, bool) {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
