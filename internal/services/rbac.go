package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"school-auth/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RBACService manages roles, permissions and their association.
type RBACService struct {
	db *gorm.DB
}

func NewRBACService(db *gorm.DB) *RBACService {
	return &RBACService{db: db}
}

type RoleInput struct {
	Name        string
	Description string
}

type PermissionInput struct {
	Name        string
	Description string
	GroupID     *uint
}

// CreatePermissionGroup creates a display group for permissions
func (s *RBACService) CreatePermissionGroup(ctx context.Context, name, description string) (*models.PermissionGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidArgument)
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.PermissionGroup{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: permission group %q already exists", ErrConflict, name)
	}

	group := &models.PermissionGroup{Name: name, Description: description}
	if err := db.Create(group).Error; err != nil {
		return nil, err
	}
	return group, nil
}

func (s *RBACService) ListPermissionGroups(ctx context.Context) ([]models.PermissionGroup, error) {
	var groups []models.PermissionGroup
	if err := s.db.WithContext(ctx).Order("name").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// CreatePermission creates a named capability
func (s *RBACService) CreatePermission(ctx context.Context, in PermissionInput) (*models.Permission, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: permission name is required", ErrInvalidArgument)
	}

	db := s.db.WithContext(ctx)
	if err := s.checkGroup(db, in.GroupID); err != nil {
		return nil, err
	}

	var count int64
	if err := db.Model(&models.Permission{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: permission %q already exists", ErrConflict, name)
	}

	permission := &models.Permission{
		Name:        name,
		Description: in.Description,
		GroupID:     in.GroupID,
	}
	if err := db.Omit(clause.Associations).Create(permission).Error; err != nil {
		return nil, err
	}
	return permission, nil
}

// UpdatePermission renames or regroups a permission
func (s *RBACService) UpdatePermission(ctx context.Context, id uint, in PermissionInput) (*models.Permission, error) {
	db := s.db.WithContext(ctx)

	permission, err := s.GetPermission(ctx, id)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(in.Name); name != "" && name != permission.Name {
		var count int64
		if err := db.Model(&models.Permission{}).Where("name = ? AND id <> ?", name, id).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, fmt.Errorf("%w: permission %q already exists", ErrConflict, name)
		}
		permission.Name = name
	}

	if err := s.checkGroup(db, in.GroupID); err != nil {
		return nil, err
	}
	permission.Description = in.Description
	permission.GroupID = in.GroupID
	permission.Group = nil

	if err := db.Omit(clause.Associations).Save(permission).Error; err != nil {
		return nil, err
	}
	return permission, nil
}

// DeletePermission removes a permission that no role references.
func (s *RBACService) DeletePermission(ctx context.Context, id uint) error {
	db := s.db.WithContext(ctx)

	if _, err := s.GetPermission(ctx, id); err != nil {
		return err
	}

	var refs int64
	if err := db.Model(&models.RolePermission{}).Where("permission_id = ?", id).Count(&refs).Error; err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: permission %d is assigned to %d role(s)", ErrConflict, id, refs)
	}

	return db.Delete(&models.Permission{}, id).Error
}

func (s *RBACService) GetPermission(ctx context.Context, id uint) (*models.Permission, error) {
	var permission models.Permission
	if err := s.db.WithContext(ctx).Preload("Group").First(&permission, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: permission %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &permission, nil
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	var permissions []models.Permission
	if err := s.db.WithContext(ctx).Preload("Group").Order("name").Find(&permissions).Error; err != nil {
		return nil, err
	}
	return permissions, nil
}

func (s *RBACService) checkGroup(db *gorm.DB, groupID *uint) error {
	if groupID == nil {
		return nil
	}
	var count int64
	if err := db.Model(&models.PermissionGroup{}).Where("id = ?", *groupID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: permission group %d", ErrNotFound, *groupID)
	}
	return nil
}

// CreateRole creates a role row. Only enumerated role names are accepted.
func (s *RBACService) CreateRole(ctx context.Context, in RoleInput) (*models.Role, error) {
	name, err := models.ParseRole(in.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.Role{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: role %q already exists", ErrConflict, name)
	}

	role := &models.Role{Name: name, Description: in.Description}
	if err := db.Create(role).Error; err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRole updates a role's description. Renaming is refused while
// users hold the role because issued tokens carry the name.
func (s *RBACService) UpdateRole(ctx context.Context, id uint, in RoleInput) (*models.Role, error) {
	db := s.db.WithContext(ctx)

	role, err := s.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.Name) != "" {
		name, err := models.ParseRole(in.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		if name != role.Name {
			var taken int64
			if err := db.Model(&models.Role{}).Where("name = ?", name).Count(&taken).Error; err != nil {
				return nil, err
			}
			if taken > 0 {
				return nil, fmt.Errorf("%w: role %q already exists", ErrConflict, name)
			}
			var holders int64
			if err := db.Model(&models.User{}).Where("role_id = ?", id).Count(&holders).Error; err != nil {
				return nil, err
			}
			if holders > 0 {
				return nil, fmt.Errorf("%w: role %q is held by %d user(s)", ErrConflict, role.Name, holders)
			}
			role.Name = name
		}
	}
	role.Description = in.Description

	if err := db.Save(role).Error; err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole removes a role that no user holds and no permission references.
func (s *RBACService) DeleteRole(ctx context.Context, id uint) error {
	db := s.db.WithContext(ctx)

	role, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}

	var holders int64
	if err := db.Model(&models.User{}).Where("role_id = ?", id).Count(&holders).Error; err != nil {
		return err
	}
	if holders > 0 {
		return fmt.Errorf("%w: role %q is held by %d user(s)", ErrConflict, role.Name, holders)
	}

	var grants int64
	if err := db.Model(&models.RolePermission{}).Where("role_id = ?", id).Count(&grants).Error; err != nil {
		return err
	}
	if grants > 0 {
		return fmt.Errorf("%w: role %q still has %d permission(s)", ErrConflict, role.Name, grants)
	}

	return db.Delete(&models.Role{}, id).Error
}

func (s *RBACService) GetRole(ctx context.Context, id uint) (*models.Role, error) {
	var role models.Role
	if err := s.db.WithContext(ctx).First(&role, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: role %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &role, nil
}

func (s *RBACService) GetRoleByName(ctx context.Context, name models.RoleName) (*models.Role, error) {
	var role models.Role
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
		}
		return nil, err
	}
	return &role, nil
}

func (s *RBACService) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := s.db.WithContext(ctx).Order("id").Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

// AddPermissionsToRole grants every permission in permissionIDs. Pairs that
// already exist are left alone.
func (s *RBACService) AddPermissionsToRole(ctx context.Context, roleID uint, permissionIDs []uint) error {
	ids := uniqueIDs(permissionIDs)
	if len(ids) == 0 {
		return fmt.Errorf("%w: no permission ids given", ErrInvalidArgument)
	}

	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}

	found, err := s.existingPermissionIDs(ctx, ids)
	if err != nil {
		return err
	}
	if missing := diffIDs(ids, found); len(missing) > 0 {
		return fmt.Errorf("%w: permissions %v", ErrNotFound, missing)
	}

	return s.insertGrants(ctx, roleID, ids)
}

// RemovePermissionFromRole revokes one grant. A pair that does not exist is ErrNotFound.
func (s *RBACService) RemovePermissionFromRole(ctx context.Context, roleID, permissionID uint) error {
	result := s.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&models.RolePermission{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: role %d does not have permission %d", ErrNotFound, roleID, permissionID)
	}
	return nil
}

// GetPermissionsForRole returns the role's permissions ordered by name.
func (s *RBACService) GetPermissionsForRole(ctx context.Context, roleID uint) ([]models.Permission, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}

	permissions := []models.Permission{}
	err := s.db.WithContext(ctx).
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Where("role_permissions.role_id = ?", roleID).
		Order("permissions.name").
		Find(&permissions).Error
	if err != nil {
		return nil, err
	}
	return permissions, nil
}

// PermissionNamesForRole resolves a role name to its permission names.
func (s *RBACService) PermissionNamesForRole(ctx context.Context, role models.RoleName) ([]string, error) {
	names := []string{}
	err := s.db.WithContext(ctx).
		Model(&models.Permission{}).
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Joins("JOIN roles ON roles.id = role_permissions.role_id").
		Where("roles.name = ?", role).
		Order("permissions.name").
		Pluck("permissions.name", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

// UpdatePermissionsForRole applies removals, then additions, as two
// independent batches. Every id ends up in exactly one of Added, Removed
// or Failed. ErrPartialUpdate is returned alongside the result when
// anything failed.
func (s *RBACService) UpdatePermissionsForRole(ctx context.Context, roleID uint, addIDs, removeIDs []uint) (*BulkUpdateResult, error) {
	add := uniqueIDs(addIDs)
	remove := uniqueIDs(removeIDs)
	if len(add) == 0 && len(remove) == 0 {
		return nil, fmt.Errorf("%w: nothing to add or remove", ErrInvalidArgument)
	}

	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}

	result := &BulkUpdateResult{Added: []uint{}, Removed: []uint{}, Failed: []BulkUpdateFail{}}

	if len(remove) > 0 {
		s.removeBatch(ctx, roleID, remove, result)
	}
	if len(add) > 0 {
		s.addBatch(ctx, roleID, add, result)
	}

	if result.HasFailures() {
		return result, ErrPartialUpdate
	}
	return result, nil
}

func (s *RBACService) removeBatch(ctx context.Context, roleID uint, ids []uint, result *BulkUpdateResult) {
	var assigned []uint
	err := s.db.WithContext(ctx).
		Model(&models.RolePermission{}).
		Where("role_id = ? AND permission_id IN ?", roleID, ids).
		Pluck("permission_id", &assigned).Error
	if err == nil && len(assigned) > 0 {
		err = s.db.WithContext(ctx).
			Where("role_id = ? AND permission_id IN ?", roleID, assigned).
			Delete(&models.RolePermission{}).Error
	}
	if err != nil {
		for _, id := range ids {
			result.Failed = append(result.Failed, BulkUpdateFail{PermissionID: id, Operation: "remove", Reason: err.Error()})
		}
		return
	}

	result.Removed = append(result.Removed, assigned...)
	for _, id := range diffIDs(ids, assigned) {
		result.Failed = append(result.Failed, BulkUpdateFail{PermissionID: id, Operation: "remove", Reason: "not assigned to role"})
	}
}

func (s *RBACService) addBatch(ctx context.Context, roleID uint, ids []uint, result *BulkUpdateResult) {
	found, err := s.existingPermissionIDs(ctx, ids)
	if err == nil && len(found) > 0 {
		err = s.insertGrants(ctx, roleID, found)
	}
	if err != nil {
		for _, id := range ids {
			result.Failed = append(result.Failed, BulkUpdateFail{PermissionID: id, Operation: "add", Reason: err.Error()})
		}
		return
	}

	result.Added = append(result.Added, found...)
	for _, id := range diffIDs(ids, found) {
		result.Failed = append(result.Failed, BulkUpdateFail{PermissionID: id, Operation: "add", Reason: "permission not found"})
	}
}

func (s *RBACService) insertGrants(ctx context.Context, roleID uint, permissionIDs []uint) error {
	grants := make([]models.RolePermission, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		grants = append(grants, models.RolePermission{RoleID: roleID, PermissionID: id})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&grants).Error
}

func (s *RBACService) existingPermissionIDs(ctx context.Context, ids []uint) ([]uint, error) {
	var found []uint
	err := s.db.WithContext(ctx).
		Model(&models.Permission{}).
		Where("id IN ?", ids).
		Order("id").
		Pluck("id", &found).Error
	return found, err
}

// uniqueIDs drops zeros and duplicates, keeping first-seen order.
func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// diffIDs returns the ids in all that are not in some.
func diffIDs(all, some []uint) []uint {
	present := make(map[uint]bool, len(some))
	for _, id := range some {
		present[id] = true
	}
	var out []uint
	for _, id := range all {
		if !present[id] {
			out = append(out, id)
		}
	}
	return out
}
