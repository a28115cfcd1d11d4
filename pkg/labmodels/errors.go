package labmodels

import (
	"errors"
)

// Error taxonomy shared by every pipeline component. Raw failures are wrapped
// with one of these before they leave a package.
var (
	ErrMappingNotFound        = errors.New("canonical mapping not found")
	ErrConversionNotFound     = errors.New("unit conversion rule not found")
	ErrRangeNotFound          = errors.New("reference range not found")
	ErrInvalidValue           = errors.New("invalid parameter value")
	ErrLookupStoreUnavailable = errors.New("lookup store unavailable")
	ErrAuditWriteFailure      = errors.New("audit write failure")
	ErrInsufficientData       = errors.New("insufficient data for trend")
)

// Stable codes exposed to downstream collaborators in place of error text.
const (
	CodeMappingNotFound        = "mapping_not_found"
	CodeConversionNotFound     = "conversion_not_found"
	CodeRangeNotFound          = "range_not_found"
	CodeInvalidValue           = "invalid_value"
	CodeLookupStoreUnavailable = "lookup_store_unavailable"
	CodeAuditWriteFailure      = "audit_write_failure"
	CodeInsufficientData       = "insufficient_data"
	CodeInternal               = "internal_error"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrMappingNotFound, CodeMappingNotFound},
	{ErrConversionNotFound, CodeConversionNotFound},
	{ErrRangeNotFound, CodeRangeNotFound},
	{ErrInvalidValue, CodeInvalidValue},
	{ErrLookupStoreUnavailable, CodeLookupStoreUnavailable},
	{ErrAuditWriteFailure, CodeAuditWriteFailure},
	{ErrInsufficientData, CodeInsufficientData},
}

// Code maps an error onto its taxonomy code. Unknown errors map to
// CodeInternal and nil maps to "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// IsRetryable reports whether the caller should retry the whole batch.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLookupStoreUnavailable)
}
