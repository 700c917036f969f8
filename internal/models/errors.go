package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrPathRequired indicates a required base path field is empty.
	ErrPathRequired = errors.New("path is required")

	// ErrSourceKeyRequired indicates a required source identity key is empty.
	ErrSourceKeyRequired = errors.New("source key is required")

	// ErrInvalidSourceVariant indicates an invalid source variant.
	ErrInvalidSourceVariant = errors.New("invalid source variant")

	// ErrSourceIDRequired indicates a required source ID field is zero.
	ErrSourceIDRequired = errors.New("source_id is required")

	// ErrPlatformIDRequired indicates a required platform id field is empty.
	ErrPlatformIDRequired = errors.New("platform_id is required")

	// ErrVideoIDRequired indicates a required video ID field is zero.
	ErrVideoIDRequired = errors.New("video_id is required")

	// ErrMultipleSourceReferences indicates more than one source reference column is set.
	ErrMultipleSourceReferences = errors.New("exactly one source reference must be set")

	// ErrNoSourceReference indicates no source reference column is set.
	ErrNoSourceReference = errors.New("exactly one source reference must be set")
)

// RiskControlError is raised when the remote platform responds with a
// risk-control code. It is never retried by the remote client; the
// scheduler halts the affected source for the remainder of the tick.
type RiskControlError struct {
	Code    int
	Message string
}

func (e *RiskControlError) Error() string {
	return fmt.Sprintf("risk control triggered: code=%d message=%q", e.Code, e.Message)
}

// RiskControlVerificationRequiredError is a risk-control variant where the
// envelope embeds a verification voucher the caller cannot act on
// automatically.
type RiskControlVerificationRequiredError struct {
	Code    int
	Message string
	Voucher string
}

func (e *RiskControlVerificationRequiredError) Error() string {
	return fmt.Sprintf("risk control verification required: code=%d voucher=%s", e.Code, e.Voucher)
}

// CredentialExpiredError is fatal at the scheduler level: scheduling of new
// work ceases globally until credentials are refreshed by an external
// collaborator.
type CredentialExpiredError struct {
	Code    int
	Message string
}

func (e *CredentialExpiredError) Error() string {
	return fmt.Sprintf("credential expired: code=%d message=%q", e.Code, e.Message)
}

// EnvelopeError is returned when the remote's {code,message,data} envelope
// carries a non-zero code that is neither risk-control nor credential
// expiry.
type EnvelopeError struct {
	Code    int
	Message string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("remote error: code=%d message=%q", e.Code, e.Message)
}

// ContentUnavailableError marks a video as deleted/unavailable upstream.
// It is fatal for the lane(s) in progress; the state machine transitions
// the video to all-terminal with deleted=1.
type ContentUnavailableError struct {
	PlatformID string
	Reason     string
}

func (e *ContentUnavailableError) Error() string {
	return fmt.Sprintf("content unavailable: platform_id=%s reason=%s", e.PlatformID, e.Reason)
}

// DiskFullError is fatal for the file being written; it is never retried.
type DiskFullError struct {
	Path string
}

func (e *DiskFullError) Error() string {
	return fmt.Sprintf("disk full writing %s", e.Path)
}
