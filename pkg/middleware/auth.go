package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/pkg/logger"
	"github.com/chongs12/learning-rag/pkg/utils"
)

const (
	CtxUserID   = "user_id"
	CtxUserRole = "user_role"
	CtxClaims   = "claims"
)

type AuthMiddleware struct {
	jwt *utils.JWTManager
}

func NewAuthMiddleware(jwt *utils.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}

		tokenString := utils.ExtractTokenFromHeader(authHeader)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format",
			})
			return
		}

		claims, err := a.jwt.Validate(tokenString)
		if err != nil {
			logger.WithFieldsCtx(c.Request.Context(), logrus.Fields{"error": err.Error()}).Warn("invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUserRole, claims.Role)
		c.Set(CtxClaims, claims)
		InjectUserIDToContext(c, claims.UserID)

		c.Next()
	}
}

func (a *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleStr := c.GetString(CtxUserRole)
		if roleStr == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Role not found",
			})
			return
		}

		for _, role := range roles {
			if roleStr == role {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Insufficient permissions",
		})
	}
}

// UserID returns the authenticated user, which is also the tenant key for every scope.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserID)
}
