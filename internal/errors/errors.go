package errors

import (
	"errors"
	"fmt"
)

// Credential errors
//
// ErrCredentialUnavailable means no token could be obtained via any
// path (cached, refresh, cold extraction). It marks a source as
// unusable for this cycle, not the account as failed.
//
// ErrCredentialExpired means the refresh secret itself was rejected by
// the issuer. Unlike a transient network failure, recovering from it
// requires the user to re-authenticate externally.
var (
	ErrCredentialUnavailable = errors.New("no credential available")
	ErrCredentialExpired     = errors.New("refresh secret rejected, re-authentication required")

	// ErrSourceInapplicable marks a source as inapplicable for an
	// account (missing credential, unreachable, empty data); the
	// resolver falls through to the next source.
	ErrSourceInapplicable = errors.New("source inapplicable")
)

// IsInapplicable reports whether err should cause fallthrough to the
// next source rather than fail the account.
func IsInapplicable(err error) bool {
	return errors.Is(err, ErrSourceInapplicable) ||
		errors.Is(err, ErrCredentialUnavailable) ||
		errors.Is(err, ErrCredentialExpired)
}

// Source errors

type ErrSourceUnreachable struct {
	Source string
	Err    error
}

func (e *ErrSourceUnreachable) Error() string {
	return fmt.Sprintf("source %s unreachable: %v", e.Source, e.Err)
}

func (e *ErrSourceUnreachable) Unwrap() error {
	return e.Err
}

type ErrSourceMalformed struct {
	Source string
	Err    error
}

func (e *ErrSourceMalformed) Error() string {
	return fmt.Sprintf("source %s returned malformed payload: %v", e.Source, e.Err)
}

func (e *ErrSourceMalformed) Unwrap() error {
	return e.Err
}

// Resolution errors

type ErrResolutionTimeout struct {
	AccountID string
}

func (e *ErrResolutionTimeout) Error() string {
	return fmt.Sprintf("resolution timed out for account %s", e.AccountID)
}

// Validation errors

type ErrRecordValidation struct {
	AccountID string
	Field     string
	Err       error
}

func (e *ErrRecordValidation) Error() string {
	return fmt.Sprintf("usage record validation error for %s (%s): %v", e.AccountID, e.Field, e.Err)
}

func (e *ErrRecordValidation) Unwrap() error {
	return e.Err
}

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}
