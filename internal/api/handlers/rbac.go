package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"school-auth/internal/services"

	"github.com/gin-gonic/gin"
)

type RBACHandler struct {
	rbac *services.RBACService
}

func NewRBACHandler(rbac *services.RBACService) *RBACHandler {
	return &RBACHandler{rbac: rbac}
}

type RoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description" binding:"max=255"`
}

type PermissionRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Description string `json:"description" binding:"max=255"`
	GroupID     *uint  `json:"group_id"`
}

type PermissionGroupRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Description string `json:"description" binding:"max=255"`
}

type RolePermissionsRequest struct {
	PermissionIDs []uint `json:"permission_ids" binding:"required,min=1"`
}

type RolePermissionsDiffRequest struct {
	Add    []uint `json:"add"`
	Remove []uint `json:"remove"`
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// GetRoles returns all roles
func (h *RBACHandler) GetRoles(c *gin.Context) {
	roles, err := h.rbac.ListRoles(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

func (h *RBACHandler) GetRole(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	role, err := h.rbac.GetRole(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func (h *RBACHandler) CreateRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	role, err := h.rbac.CreateRole(c.Request.Context(), services.RoleInput{Name: req.Name, Description: req.Description})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

func (h *RBACHandler) UpdateRole(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	role, err := h.rbac.UpdateRole(c.Request.Context(), id, services.RoleInput{Name: req.Name, Description: req.Description})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func (h *RBACHandler) DeleteRole(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.rbac.DeleteRole(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Role deleted successfully"})
}

// GetPermissions returns all permissions
func (h *RBACHandler) GetPermissions(c *gin.Context) {
	permissions, err := h.rbac.ListPermissions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": permissions})
}

func (h *RBACHandler) CreatePermission(c *gin.Context) {
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	permission, err := h.rbac.CreatePermission(c.Request.Context(), services.PermissionInput{
		Name:        req.Name,
		Description: req.Description,
		GroupID:     req.GroupID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, permission)
}

func (h *RBACHandler) UpdatePermission(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	permission, err := h.rbac.UpdatePermission(c.Request.Context(), id, services.PermissionInput{
		Name:        req.Name,
		Description: req.Description,
		GroupID:     req.GroupID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, permission)
}

func (h *RBACHandler) DeletePermission(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.rbac.DeletePermission(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Permission deleted successfully"})
}

func (h *RBACHandler) GetPermissionGroups(c *gin.Context) {
	groups, err := h.rbac.ListPermissionGroups(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *RBACHandler) CreatePermissionGroup(c *gin.Context) {
	var req PermissionGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	group, err := h.rbac.CreatePermissionGroup(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

// GetRolePermissions returns the permissions granted to a role
func (h *RBACHandler) GetRolePermissions(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	permissions, err := h.rbac.GetPermissionsForRole(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": permissions})
}

func (h *RBACHandler) AddRolePermissions(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req RolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := h.rbac.AddPermissionsToRole(c.Request.Context(), id, req.PermissionIDs); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Permissions added"})
}

func (h *RBACHandler) RemoveRolePermission(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	permissionID, ok := parseID(c, "permissionId")
	if !ok {
		return
	}

	if err := h.rbac.RemovePermissionFromRole(c.Request.Context(), id, permissionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Permission removed"})
}

// UpdateRolePermissions applies an add/remove diff and reports each id
func (h *RBACHandler) UpdateRolePermissions(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req RolePermissionsDiffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	result, err := h.rbac.UpdatePermissionsForRole(c.Request.Context(), id, req.Add, req.Remove)
	if err != nil && !errors.Is(err, services.ErrPartialUpdate) {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	c.JSON(status, result)
}
