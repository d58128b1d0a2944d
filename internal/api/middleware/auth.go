package middleware

import (
	"context"
	"errors"
	"net/http"

	"school-auth/internal/logging"
	"school-auth/internal/models"
	"school-auth/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	principalKey   = "principal"
	accessTokenKey = "access_token"
)

// TimeoutRecorder records that a presented access token has expired.
type TimeoutRecorder interface {
	RecordTimeout(ctx context.Context, accessToken string) error
}

// AuthMiddleware authenticates the bearer token and stores the principal
// in the context. An expired token is reported to timeouts before the
// request is rejected.
func AuthMiddleware(guard *services.Guard, timeouts TimeoutRecorder, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")

		principal, err := guard.Authenticate(header)
		if err != nil {
			if errors.Is(err, services.ErrTokenExpired) && timeouts != nil {
				token, _ := services.BearerToken(header)
				if rerr := timeouts.RecordTimeout(c.Request.Context(), token); rerr != nil {
					log.Error("failed to record session timeout", "error", rerr)
				}
			}
			abortWithAuthError(c, err)
			return
		}

		token, _ := services.BearerToken(header)
		c.Set(principalKey, principal)
		c.Set(accessTokenKey, token)

		c.Next()
	}
}

// RequireRole admits principals whose role satisfies policy.
func RequireRole(guard *services.Guard, policy services.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		if err := guard.Authorize(principal, policy); err != nil {
			abortWithAuthError(c, err)
			return
		}

		c.Next()
	}
}

// RequireAnyRole is RequireRole with an ANY policy.
func RequireAnyRole(guard *services.Guard, roles ...models.RoleName) gin.HandlerFunc {
	return RequireRole(guard, services.AnyOf(roles...))
}

// RequirePermission admits principals whose role grants permission.
func RequirePermission(guard *services.Guard, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		if err := guard.AuthorizePermission(c.Request.Context(), principal, permission); err != nil {
			abortWithAuthError(c, err)
			return
		}

		c.Next()
	}
}

// CurrentPrincipal returns the principal set by AuthMiddleware.
func CurrentPrincipal(c *gin.Context) (*services.Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	principal, ok := value.(*services.Principal)
	return principal, ok
}

// AccessToken returns the raw bearer token of the request.
func AccessToken(c *gin.Context) string {
	return c.GetString(accessTokenKey)
}

func abortWithAuthError(c *gin.Context, err error) {
	var roleDenied *services.RoleDeniedError
	var permDenied *services.PermissionDeniedError

	switch {
	case errors.Is(err, services.ErrNoToken):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "No token provided"})
	case errors.Is(err, services.ErrTokenExpired):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired", "code": "token_expired"})
	case errors.Is(err, services.ErrTokenInvalid):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token not valid", "code": "token_invalid"})
	case errors.As(err, &roleDenied):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":          "Forbidden: insufficient role",
			"required_roles": roleDenied.Required,
			"actual_role":    roleDenied.Actual,
			"mode":           roleDenied.Mode.String(),
		})
	case errors.As(err, &permDenied):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":      "Forbidden: missing permission",
			"permission": permDenied.Permission,
			"role":       permDenied.Role,
		})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authorization check failed"})
	}
}
