package handlers

import (
	"net/http"

	"school-auth/internal/models"
	"school-auth/internal/services"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	authService *services.AuthService
	userService *services.UserService
}

func NewUserHandler(authService *services.AuthService, userService *services.UserService) *UserHandler {
	return &UserHandler{
		authService: authService,
		userService: userService,
	}
}

type CreateUserRequest struct {
	Username        string  `json:"username" binding:"required,min=3,max=64"`
	Email           string  `json:"email" binding:"required,email"`
	AdmissionNumber *string `json:"admission_number"`
	Password        string  `json:"password" binding:"required,min=8"`
	Role            string  `json:"role" binding:"required,oneof=admin teacher student parent library_staff finance"`
}

type UpdateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// GetUsers returns all users, optionally filtered by ?role=
func (h *UserHandler) GetUsers(c *gin.Context) {
	var role models.RoleName
	if raw := c.Query("role"); raw != "" {
		parsed, err := models.ParseRole(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		role = parsed
	}

	users, err := h.userService.GetUsers(c.Request.Context(), role)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GetUser returns a specific user
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.userService.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// CreateUser registers a new user
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	user, err := h.authService.CreateUser(c.Request.Context(), services.CreateUserInput{
		Username:        req.Username,
		Email:           req.Email,
		AdmissionNumber: req.AdmissionNumber,
		Password:        req.Password,
		Role:            models.RoleName(req.Role),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

// UpdateUser updates identifiers or the role of a user
func (h *UserHandler) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	user, err := h.userService.UpdateUser(c.Request.Context(), c.Param("id"), services.UpdateUserInput{
		Username: req.Username,
		Email:    req.Email,
		Role:     req.Role,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// DeactivateUser soft-deletes a user
func (h *UserHandler) DeactivateUser(c *gin.Context) {
	if err := h.userService.DeactivateUser(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User deactivated successfully"})
}

// GetUserSessions returns the sessions of a user
func (h *UserHandler) GetUserSessions(c *gin.Context) {
	if _, err := h.userService.GetUser(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	sessions, err := h.userService.GetSessions(c.Request.Context(), c.Param("id"), c.Query("active") == "true")
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
