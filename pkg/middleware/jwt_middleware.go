package middleware

import (
	"net/http"
	"strings"

	"clubpay/pkg/utils"
	"github.com/gin-gonic/gin"
)

const (
	ActorIDKey  = "actor_id"
	TenantIDKey = "tenant_id"
	RoleKey     = "role"
)

// Staff roles allowed to run billing operations.
const (
	RoleAdmin     = "admin"
	RoleTreasurer = "treasurer"
)

// JWTAuthMiddleware resolves {actor_id, tenant_id} from a bearer token.
func JWTAuthMiddleware(signer *utils.TokenSigner) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			utils.RespondError(c, http.StatusUnauthorized, "Authorization header missing or invalid")
			c.Abort()
			return
		}

		claims, err := signer.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			utils.RespondError(c, http.StatusUnauthorized, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ActorIDKey, claims.ActorID)
		c.Set(TenantIDKey, claims.TenantID)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// RoleMiddleware admits requests whose token carries one of roles. It must
// run after JWTAuthMiddleware.
func RoleMiddleware(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(RoleKey)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		utils.RespondError(c, http.StatusForbidden, "Forbidden: insufficient permissions")
		c.Abort()
	}
}
