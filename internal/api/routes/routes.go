package routes

import (
	"net/http"
	"strings"
	"time"

	"school-auth/internal/api/handlers"
	"school-auth/internal/api/middleware"
	"school-auth/internal/config"
	"school-auth/internal/logging"
	"school-auth/internal/models"
	"school-auth/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// PermissionManageRBAC lets a non-admin role manage roles and permissions.
const PermissionManageRBAC = "rbac:manage"

// Options carries the collaborators SetupRoutes wires into services.
// Redis and Notifier are optional.
type Options struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Logger   *logging.Logger
	Notifier services.Notifier
}

func SetupRoutes(r *gin.Engine, cfg *config.Config, opts Options) {
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	notifier := opts.Notifier
	if notifier == nil {
		if opts.Redis != nil {
			notifier = services.NewRedisNotifier(opts.Redis, cfg.Redis.ResetChannel)
		} else {
			notifier = services.NewLogNotifier(log)
		}
	}

	// Initialize services
	tokens := services.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer)
	credentials := services.NewCredentialStore(opts.DB)
	rbacService := services.NewRBACService(opts.DB)
	sessions := services.NewSessionManager(opts.DB, tokens, cfg, log)
	authService := services.NewAuthService(opts.DB, cfg, credentials, sessions, log)
	userService := services.NewUserService(opts.DB, cfg, credentials, sessions)
	resets := services.NewPasswordResetService(opts.DB, cfg, notifier, sessions, log)
	guard := services.NewGuard(tokens, rbacService)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, sessions, resets, userService, cfg)
	userHandler := handlers.NewUserHandler(authService, userService)
	rbacHandler := handlers.NewRBACHandler(rbacService)

	// Middleware
	r.Use(cors.New(corsConfig(cfg.CORS)))

	var limiter *redis.Client
	if cfg.Security.LoginRateLimit.Enabled {
		limiter = opts.Redis
	}

	// Public routes
	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"message": "School auth API is running",
			})
		})
		api.GET("/metrics", gin.WrapH(promhttp.Handler()))

		auth := api.Group("/auth")
		{
			auth.POST("/login", middleware.LoginRateLimit(limiter, cfg.Security.LoginRateLimit.Window.Std(), log), authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/forgot-password", authHandler.ForgotPassword)
			auth.POST("/reset-password", authHandler.ResetPassword)
		}
	}

	// Protected routes
	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(guard, sessions, log))
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.GetMe)
		protected.POST("/auth/change-password", authHandler.ChangePassword)
		protected.GET("/auth/sessions", authHandler.GetSessions)
		protected.DELETE("/auth/sessions/:id", authHandler.RevokeSession)
		protected.GET("/auth/logs", authHandler.GetSessionLogs)

		// User management routes
		users := protected.Group("/users")
		{
			users.GET("", middleware.RequireAnyRole(guard, models.RoleTeacher), userHandler.GetUsers)
			users.GET("/:id", middleware.RequireAnyRole(guard, models.RoleTeacher), userHandler.GetUser)
			users.POST("", middleware.RequireAnyRole(guard, models.RoleAdmin), userHandler.CreateUser)
			users.PUT("/:id", middleware.RequireAnyRole(guard, models.RoleAdmin), userHandler.UpdateUser)
			users.DELETE("/:id", middleware.RequireAnyRole(guard, models.RoleAdmin), userHandler.DeactivateUser)
			users.GET("/:id/sessions", middleware.RequireAnyRole(guard, models.RoleAdmin), userHandler.GetUserSessions)
		}

		// Role and permission management routes
		rbac := protected.Group("/rbac")
		rbac.Use(middleware.RequirePermission(guard, PermissionManageRBAC))
		{
			rbac.GET("/roles", rbacHandler.GetRoles)
			rbac.GET("/roles/:id", rbacHandler.GetRole)
			rbac.POST("/roles", rbacHandler.CreateRole)
			rbac.PUT("/roles/:id", rbacHandler.UpdateRole)
			rbac.DELETE("/roles/:id", rbacHandler.DeleteRole)

			rbac.GET("/roles/:id/permissions", rbacHandler.GetRolePermissions)
			rbac.POST("/roles/:id/permissions", rbacHandler.AddRolePermissions)
			rbac.PATCH("/roles/:id/permissions", rbacHandler.UpdateRolePermissions)
			rbac.DELETE("/roles/:id/permissions/:permissionId", rbacHandler.RemoveRolePermission)

			rbac.GET("/permissions", rbacHandler.GetPermissions)
			rbac.POST("/permissions", rbacHandler.CreatePermission)
			rbac.PUT("/permissions/:id", rbacHandler.UpdatePermission)
			rbac.DELETE("/permissions/:id", rbacHandler.DeletePermission)

			rbac.GET("/permission-groups", rbacHandler.GetPermissionGroups)
			rbac.POST("/permission-groups", rbacHandler.CreatePermissionGroup)
		}
	}
}

// corsConfig allows the configured origins. An empty list or "*" allows
// every origin without credentials.
func corsConfig(cfg config.CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			c.AllowAllOrigins = true
			return c
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}

	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}
