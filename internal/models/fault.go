package models

import (
	"errors"
	"fmt"
)

// Fault kinds surfaced to callers, grouped by family.
const (
	// Validation: rejected synchronously at submission, no job created.
	FaultInvalidPageRange    = "invalid_page_range"
	FaultInvalidOutputFormat = "invalid_output_format"
	FaultUnsupportedFileType = "unsupported_file_type"
	FaultFileTooLarge        = "file_too_large"

	// Quota: rejected synchronously at submission.
	FaultMonthlyLimitExceeded = "monthly_limit_exceeded"

	// Extraction: page-local, does not necessarily fail the job.
	FaultOCRFailure    = "ocr_failure"
	FaultEmptyDocument = "empty_document"

	// Structuring: retried, surfaced only after retries are exhausted.
	FaultMalformedResponse     = "malformed_response"
	FaultTimeout               = "timeout"
	FaultUpstreamQuotaExceeded = "upstream_quota_exceeded"

	// System: fatal, not retried.
	FaultQueueUnavailable = "queue_unavailable"
	FaultStorageFailure   = "storage_failure"

	// FaultInternal is the catch-all for errors that carry no fault kind.
	FaultInternal = "internal"
)

// Fault is an error with a stable kind that callers can match on. Raw
// internal failures are never exposed directly; they are wrapped into a Fault
// before crossing the pipeline boundary.
type Fault struct {
	Kind    string
	Message string
}

func (f *Fault) Error() string { return f.Kind + ": " + f.Message }

// Faultf builds a Fault with a formatted message.
func Faultf(kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FaultKind extracts the kind from err, or FaultInternal when it carries none.
func FaultKind(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return FaultInternal
}

// FaultMessage returns the fault message from err, or the plain error text.
func FaultMessage(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Message
	}
	return err.Error()
}
