package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all fatal failure modes.
// Per-module problems found while walking the import graph are not errors of
// this kind; they are collected as depgraph.ResolutionError values.
type ErrorCode string

const (
	// InvalidInput indicates a bad entry list, resolver configuration or rootDir
	InvalidInput ErrorCode = "INVALID_INPUT"
	// Cancelled indicates the caller cancelled the computation
	Cancelled ErrorCode = "CANCELLED"
	// ConfigInvalid indicates the config file could not be read or failed validation
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// CacheUnavailable indicates the scan cache could not be opened
	CacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
	// ChangesUnavailable indicates the changed file set could not be collected
	ChangesUnavailable ErrorCode = "CHANGES_UNAVAILABLE"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// EditConfig suggests changing a config value
	EditConfig FixActionType = "edit-config"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type" yaml:"type"`
	Command     string        `json:"command,omitempty" yaml:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty" yaml:"safe,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
}

// Error represents a fatal error with code, message, and suggestions
type Error struct {
	Code           ErrorCode   `json:"code" yaml:"code"`
	Message        string      `json:"message" yaml:"message"`
	Details        interface{} `json:"details,omitempty" yaml:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty" yaml:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new Error with the default fixes for its code
func New(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Newf creates a new Error without a cause, formatting the message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err's chain carries an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	ConfigInvalid: {
		{
			Type:        RunCommand,
			Command:     "affected config show",
			Safe:        true,
			Description: "Inspect the effective configuration",
		},
		{
			Type:        RunCommand,
			Command:     "affected config init --force",
			Description: "Rewrite .affected/config.json with defaults",
		},
	},
	CacheUnavailable: {
		{
			Type:        RunCommand,
			Command:     "affected cache clear",
			Description: "Remove the scan cache and rebuild it on the next run",
		},
		{
			Type:        EditConfig,
			Description: "Set cache.enabled to false to run without a cache",
		},
	},
	ChangesUnavailable: {
		{
			Type:        RunCommand,
			Command:     "git status",
			Safe:        true,
			Description: "Check that the project is a git repository",
		},
	},
	InvalidInput: {
		{
			Type:        RunCommand,
			Command:     "affected tests --help",
			Safe:        true,
			Description: "Check the test entry and resolver flags",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
