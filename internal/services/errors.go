package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrTokenInvalid          = errors.New("token not valid")
	ErrTokenExpired          = errors.New("token expired")
	ErrNoToken               = errors.New("no token provided")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidSession        = errors.New("invalid session")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
	ErrPartialUpdate         = errors.New("partial update")
)

// RoleDeniedError is returned when a principal's role does not satisfy a
// policy. The roles are not secret, so the HTTP layer shows them.
type RoleDeniedError struct {
	Required []string
	Actual   string
	Mode     PolicyMode
}

func (e *RoleDeniedError) Error() string {
	return fmt.Sprintf("role %q does not satisfy %s of [%s]", e.Actual, e.Mode, strings.Join(e.Required, ", "))
}

func (e *RoleDeniedError) Unwrap() error {
	return ErrForbidden
}

// PermissionDeniedError is returned when a role lacks a permission.
type PermissionDeniedError struct {
	Permission string
	Role       string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("role %q lacks permission %q", e.Role, e.Permission)
}

func (e *PermissionDeniedError) Unwrap() error {
	return ErrForbidden
}

// BulkUpdateResult reports which permission ids a role diff applied.
type BulkUpdateResult struct {
	Added   []uint           `json:"added"`
	Removed []uint           `json:"removed"`
	Failed  []BulkUpdateFail `json:"failed"`
}

type BulkUpdateFail struct {
	PermissionID uint   `json:"permission_id"`
	Operation    string `json:"operation"` // add, remove
	Reason       string `json:"reason"`
}

func (r *BulkUpdateResult) HasFailures() bool {
	return len(r.Failed) > 0
}
