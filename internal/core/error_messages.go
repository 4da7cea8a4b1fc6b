package core

// error_messages.go maps technical errors to user-facing messages with codes
// that support staff can look up.
//
// # Error Codes Reference
//
// # Validation Errors (VAL)
//
//	VAL010 - Invalid postal code: CEP must contain exactly 8 digits
//	         Action: Send the CEP as 8 digits, with or without the hyphen
//	VAL011 - Missing parameter: cep and numero are required
//	         Action: Provide both query parameters
//
// # Source Errors (SRC)
//
//	SRC001 - Unreadable workbook: the file could not be opened as .xlsx
//	SRC002 - No sheets: the workbook contains no sheets
//	SRC003 - Unmappable columns: a sheet header has fewer than 14 columns
//	SRC004 - Empty result: no row carried a viability value
//
// # File Errors (FILE)
//
//	FILE001 - File too large
//	FILE002 - Unsupported file type (only .xlsx)
//	FILE004 - No file provided
//
// # Reload Errors (RLD)
//
//	RLD001 - Reload in progress: another reload or clear is running
//	RLD002 - Lock unavailable: the shared reload lock could not be reached
//
// # Database Errors (DB)
//
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout
//	DB007 - Deadlock
//
// # Request Errors (REQ) and Rate Limiting (RATE)
//
//	REQ001 - Request cancelled
//	REQ002 - Request timed out
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
// Typed errors are matched first with errors.Is / errors.As. Everything else
// falls through to case-insensitive substring patterns, where the first match
// wins. If ERR000 is reported, check the logs for the original error.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

// sentinelMessages is consulted before the string patterns.
var sentinelMessages = []sentinelMessage{
	{ErrInvalidPostalCode, UserMessage{
		Message: "Invalid CEP: it must contain exactly 8 digits",
		Action:  "Send the CEP as 8 digits, with or without the hyphen",
		Code:    "VAL010",
	}},
	{ErrNoSheets, UserMessage{
		Message: "The workbook contains no sheets",
		Action:  "Upload the full address workbook",
		Code:    "SRC002",
	}},
	{ErrUnmappableColumns, UserMessage{
		Message: "A sheet does not have the expected 14 columns",
		Action:  "Check that row 2 of every sheet holds the column headers",
		Code:    "SRC003",
	}},
	{ErrEmptySource, UserMessage{
		Message: "The workbook has no rows with a viability value",
		Action:  "Check the file contents; the current data was kept",
		Code:    "SRC004",
	}},
	{ErrUnsupportedFile, UserMessage{
		Message: "Only .xlsx workbooks are accepted",
		Action:  "Save the file as an Excel workbook (.xlsx)",
		Code:    "FILE002",
	}},
	{ErrReloadInProgress, UserMessage{
		Message: "Another reload is already running",
		Action:  "Wait for it to finish and check /api/reload/status",
		Code:    "RLD001",
	}},
	{ErrReloadLockUnavailable, UserMessage{
		Message: "The reload lock could not be acquired",
		Action:  "Please try again in a few moments",
		Code:    "RLD002",
	}},
}

// unreadableSource is returned for any other SourceParseError.
var unreadableSource = UserMessage{
	Message: "The file could not be read as an Excel workbook",
	Action:  "Open the file in Excel and save it again as .xlsx",
	Code:    "SRC001",
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps lowercase substrings to messages. Specific before general.
var errorPatterns = []errorPattern{
	{"missing parameter", UserMessage{
		Message: "Both cep and numero are required",
		Action:  "Provide both query parameters",
		Code:    "VAL011",
	}},
	{"file too large", UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Remove unused sheets or split the workbook",
		Code:    "FILE001",
	}},
	{"no file provided", UserMessage{
		Message: "No file was selected",
		Action:  "Send the workbook in the multipart field \"file\"",
		Code:    "FILE004",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{"context canceled", UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "Request timed out",
		Action:  "Try again later",
		Code:    "REQ002",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try again later",
		Code:    "DB006",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Unknown errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}
	var parseErr *SourceParseError
	if errors.As(err, &parseErr) {
		return unreadableSource
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
