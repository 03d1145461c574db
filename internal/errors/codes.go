// Package errors provides structured error handling for webdb.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store errors (key-value stores, meta store)
//   - 3XX: Archive reachability errors
//   - 4XX: Record errors (parse, validation)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates key-value store errors.
	CategoryStore Category = "STORE"
	// CategoryArchive indicates archive reachability errors.
	CategoryArchive Category = "ARCHIVE"
	// CategoryRecord indicates record parse/validation errors.
	CategoryRecord Category = "RECORD"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeStoreCorrupt = "ERR_201_STORE_CORRUPT"
	ErrCodeStoreClosed  = "ERR_202_STORE_CLOSED"
	ErrCodeMetaMissing  = "ERR_203_META_MISSING"

	// Archive reachability errors (300-399)
	ErrCodeArchiveUnreachable = "ERR_301_ARCHIVE_UNREACHABLE"
	ErrCodeArchiveTimeout     = "ERR_302_ARCHIVE_TIMEOUT"

	// Record errors (400-499)
	ErrCodeRecordMalformed = "ERR_401_RECORD_MALFORMED"
	ErrCodeRecordInvalid   = "ERR_402_RECORD_INVALID"

	// Internal errors (500-599)
	ErrCodeArchiveInternal = "ERR_501_ARCHIVE_INTERNAL"
	ErrCodeInternal        = "ERR_502_INTERNAL"
)

// categoryFromCode derives the category from an error code prefix.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryArchive
	case '4':
		return CategoryRecord
	default:
		return CategoryInternal
	}
}

// severityFromCode derives the severity from an error code.
// Store corruption is fatal for the containing pass; record errors are
// warnings because they are isolated per file.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryStore:
		return SeverityFatal
	case CategoryRecord:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether the code identifies a transient
// condition worth retrying. Only archive reachability errors qualify;
// they route into the resilience loop.
func isRetryableCode(code string) bool {
	return categoryFromCode(code) == CategoryArchive
}
