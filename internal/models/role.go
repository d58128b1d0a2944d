package models

import (
	"fmt"
	"strings"
)

// RoleName is the closed set of roles a user can hold.
type RoleName string

const (
	RoleAdmin        RoleName = "admin"
	RoleTeacher      RoleName = "teacher"
	RoleStudent      RoleName = "student"
	RoleParent       RoleName = "parent"
	RoleLibraryStaff RoleName = "library_staff"
	RoleFinance      RoleName = "finance"
)

// AllRoles lists every role in seeding order.
var AllRoles = []RoleName{
	RoleAdmin,
	RoleTeacher,
	RoleStudent,
	RoleParent,
	RoleLibraryStaff,
	RoleFinance,
}

func (r RoleName) String() string {
	return string(r)
}

func (r RoleName) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent, RoleLibraryStaff, RoleFinance:
		return true
	}
	return false
}

// IsAdmin reports whether the role bypasses every role and permission check.
func (r RoleName) IsAdmin() bool {
	return r == RoleAdmin
}

// ParseRole normalises s and returns the matching role.
func ParseRole(s string) (RoleName, error) {
	role := RoleName(strings.ToLower(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}

// Description returns the seeded description for a role.
func (r RoleName) Description() string {
	switch r {
	case RoleAdmin:
		return "Full access to every resource"
	case RoleTeacher:
		return "Teaching staff"
	case RoleStudent:
		return "Enrolled student"
	case RoleParent:
		return "Parent or guardian of a student"
	case RoleLibraryStaff:
		return "Library staff"
	case RoleFinance:
		return "Finance office staff"
	}
	return ""
}
