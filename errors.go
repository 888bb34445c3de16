package simpleldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Sentinel errors returned by pool and search operations. Match with
// errors.Is.
var (
	// ErrPoolClosed is returned by Acquire after Close has been called.
	ErrPoolClosed = errors.New("simpleldap: pool is closed")

	// ErrPoolExhausted is returned when no session could be leased within
	// the acquire timeout or the bounded validation retries.
	ErrPoolExhausted = errors.New("simpleldap: pool exhausted")

	// ErrNotFound is returned when a search expected exactly one entry and
	// found none, or when the directory reports that the target entry does
	// not exist.
	ErrNotFound = errors.New("simpleldap: no such entry")

	// ErrMultipleResults is returned when a search expected exactly one
	// entry and found more than one.
	ErrMultipleResults = errors.New("simpleldap: multiple entries matched")

	// ErrEndOfResults is returned by Cursor.Next once the result sequence
	// is exhausted. Every subsequent Next call returns it again.
	ErrEndOfResults = errors.New("simpleldap: end of results")
)

// ErrorCategory classifies directory operation failures.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// OperationError wraps a failed directory operation with the operation name,
// the directory's result code (when the server produced one) and a category
// derived from it. The underlying cause, including any *ldap.Error, remains
// reachable through Unwrap.
type OperationError struct {
	Operation  string        // operation that failed (search, add, bind, ...)
	Category   ErrorCategory // derived from the result code or cause
	ResultCode uint16        // directory result code, 0 when not applicable
	DN         string        // DN involved, if any
	Cause      error
}

func (e *OperationError) Error() string {
	var parts []string

	if e.ResultCode > 0 {
		parts = append(parts, fmt.Sprintf("ldap %s failed (code %d)", e.Operation, e.ResultCode))
	} else {
		parts = append(parts, fmt.Sprintf("ldap %s failed", e.Operation))
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("dn %q", e.DN))
	}

	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrNotFound) succeed for operations the directory
// rejected with a no-such-object result.
func (e *OperationError) Is(target error) bool {
	return target == ErrNotFound && e.Category == ErrorCategoryNotFound
}

// operationError wraps err with operation context. The dn may be empty.
func operationError(operation, dn string, err error) error {
	if err == nil {
		return nil
	}

	opErr := &OperationError{
		Operation: operation,
		DN:        dn,
		Cause:     err,
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		opErr.ResultCode = ldapErr.ResultCode
		opErr.Category = categorizeResultCode(ldapErr.ResultCode)
	} else {
		opErr.Category = categorizeGenericError(err)
	}

	return opErr
}

// categorizeResultCode maps a directory result code onto an ErrorCategory.
func categorizeResultCode(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType:
		return ErrorCategoryNotFound

	case ldap.LDAPResultEntryAlreadyExists,
		ldap.LDAPResultAttributeOrValueExists,
		ldap.LDAPResultObjectClassViolation,
		ldap.LDAPResultNotAllowedOnNonLeaf:
		return ErrorCategoryConflict

	case ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultNamingViolation,
		ldap.LDAPResultFilterError:
		return ErrorCategoryValidation

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryServer

	case ldap.LDAPResultConnectError,
		ldap.LDAPResultProtocolError:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

// categorizeGenericError categorizes errors without a directory result code.
func categorizeGenericError(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset") {
		return ErrorCategoryConnection
	}

	if strings.Contains(errStr, "credentials") ||
		strings.Contains(errStr, "authentication") {
		return ErrorCategoryAuthentication
	}

	return ErrorCategoryUnknown
}

// ErrorCategoryOf returns the category of any error produced by this package.
func ErrorCategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Category
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return categorizeResultCode(ldapErr.ResultCode)
	}

	return categorizeGenericError(err)
}

// IsNotFound reports whether err indicates a missing entry, either the
// ErrNotFound sentinel or a no-such-object verdict from the directory.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || ErrorCategoryOf(err) == ErrorCategoryNotFound
}

// IsAuthenticationError reports whether err indicates rejected credentials.
func IsAuthenticationError(err error) bool {
	return ErrorCategoryOf(err) == ErrorCategoryAuthentication
}

// IsConflict reports whether err indicates the operation collided with
// existing directory state.
func IsConflict(err error) bool {
	return ErrorCategoryOf(err) == ErrorCategoryConflict
}

// DecodeError reports that an entry's attributes could not be materialized
// into the requested typed shape.
type DecodeError struct {
	DN    string
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode entry %q: %s", e.DN, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}
