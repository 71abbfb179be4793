package importer

// error_messages.go maps technical errors to user-facing messages with codes
// support staff can look up.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large            Patterns: "file too large"
//	FILE002 - Empty file                Patterns: "empty file"
//	FILE003 - No headers                Patterns: "no headers"
//	FILE004 - Encoding                  Patterns: "encoding error"
//	FILE005 - Unreadable workbook       Patterns: "failed to open workbook"
//	FILE006 - No file                   Patterns: "no file provided"
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Required field missing     Patterns: "required field missing"
//	MAP002 - Bad column or field        Patterns: "column index out of range", "unknown field"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Too many imports           Patterns: "too many concurrent imports"
//	IMP002 - Session not found          Patterns: "session not found"
//	IMP003 - Cancelled                  Patterns: "import cancelled", "context canceled"
//	IMP004 - Save failed                Patterns: "failed to save imported items"
//	IMP005 - Nothing to import          Patterns: "no validated rows"
//	IMP006 - Already running            Patterns: "already in progress"
//	IMP007 - Wrong step                 Patterns: "not allowed in current phase", "no parsed file"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid price              Patterns: "invalid price"
//	VAL002 - Invalid date               Patterns: "invalid date"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate                   Patterns: "duplicate", "already exists"
//	DB002 - Connection refused          Patterns: "connection refused"
//	DB003 - Not found                   Patterns: "not found"
//	DB004 - Timeout                     Patterns: "deadline exceeded", "timeout"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Malformed request          Patterns: "invalid request"
//
// # Default Error (ERR000)
//
// Patterns match case-insensitively with strings.Contains; the first match
// wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// File Errors
	// =========================================================================
	{"file too large", UserMessage{"File exceeds the maximum upload size", "Split the spreadsheet into smaller files", "FILE001"}},
	{"empty file", UserMessage{"The uploaded file is empty", "Upload a spreadsheet with a header row and data rows", "FILE002"}},
	{"no headers", UserMessage{"No header row was found", "Add a header row, or import without headers", "FILE003"}},
	{"encoding error", UserMessage{"The file's text encoding could not be read", "Save the file as UTF-8 and try again", "FILE004"}},
	{"failed to open workbook", UserMessage{"The workbook could not be opened", "Save the file as .xlsx or export it as CSV", "FILE005"}},
	{"no file provided", UserMessage{"No file was selected", "Choose a CSV or XLSX file to upload", "FILE006"}},

	// =========================================================================
	// Mapping Errors
	// =========================================================================
	{"required field missing", UserMessage{"A required field is not mapped", "Map a column to Name before importing", "MAP001"}},
	{"column index out of range", UserMessage{"That column does not exist", "Refresh the mapping and try again", "MAP002"}},
	{"unknown field", UserMessage{"That field is not recognized", "Pick a field from the list", "MAP002"}},

	// =========================================================================
	// Import Errors
	// =========================================================================
	{"too many concurrent imports", UserMessage{"The system is busy with other imports", "Please wait a moment and try again", "IMP001"}},
	{"session not found", UserMessage{"Import session not found", "The session may have expired. Upload the file again", "IMP002"}},
	{"import cancelled", UserMessage{"The import was cancelled", "No items were saved. Start the import again when ready", "IMP003"}},
	{"context canceled", UserMessage{"The import was cancelled", "No items were saved. Start the import again when ready", "IMP003"}},
	{"failed to save imported items", UserMessage{"Imported items could not be saved", "No items were saved. Please try again", "IMP004"}},
	{"no validated rows", UserMessage{"There are no valid rows to import", "Validate the file and fix the listed errors", "IMP005"}},
	{"already in progress", UserMessage{"An import is already running for this file", "Wait for it to finish", "IMP006"}},
	{"not allowed in current phase", UserMessage{"That step is not available right now", "Follow the steps in order: upload, map, validate, import", "IMP007"}},
	{"no parsed file", UserMessage{"No file has been uploaded for this session", "Upload a file first", "IMP007"}},

	// =========================================================================
	// Validation Errors
	// =========================================================================
	{"invalid price", UserMessage{"Invalid price format detected", "Use plain numbers such as 1299.99", "VAL001"}},
	{"invalid date", UserMessage{"Invalid date format detected", "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024", "VAL002"}},

	// =========================================================================
	// Database Errors
	// =========================================================================
	{"duplicate", UserMessage{"A record with this value already exists", "Use a different name", "DB001"}},
	{"already exists", UserMessage{"A record with this value already exists", "Use a different name", "DB001"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB002"}},
	{"not found", UserMessage{"The requested record was not found", "Check the id and try again", "DB003"}},
	{"deadline exceeded", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB004"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB004"}},

	// =========================================================================
	// Request Errors
	// =========================================================================
	{"invalid request", UserMessage{"The request could not be understood", "Check the request parameters and try again", "REQ001"}},
}

// defaultMessage is the ERR000 fallback. Check the logs for the original
// error when users report it.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns the zero UserMessage for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matched a specific pattern rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
