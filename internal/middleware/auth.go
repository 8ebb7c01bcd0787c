package middleware

import (
	"net/http"
	"strings"
	"time"

	"opsdesk/internal/auth"

	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware for handlers that prefer gin lookups.
const (
	ContextSession     = "session"
	ContextUserID      = "user_id"
	ContextCompanyID   = "company_id"
	ContextRole        = "role"
	ContextPermissions = "permissions"
)

// TokenVerifier turns a bearer token into a session.
type TokenVerifier interface {
	Verify(token string, now time.Time) (*auth.Session, error)
}

// AuthMiddleware enforces Authorization: Bearer <jwt> on protected routes.
// On success the session is stored both in gin.Context and in the request
// context (auth.WithSession) so services receive it explicitly.
func AuthMiddleware(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ah := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "missing bearer token",
			})
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])
		if token == "" || v == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "invalid token or server misconfig",
			})
			return
		}
		sess, err := v.Verify(token, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": err.Error(),
			})
			return
		}

		sess.Permissions = dedupeStrings(append(sess.Permissions, rolePermissions(sess.Role)...))

		c.Set(ContextSession, sess)
		c.Set(ContextUserID, sess.UserID)
		c.Set(ContextCompanyID, sess.TenantID)
		c.Set(ContextRole, sess.Role)
		if len(sess.Permissions) > 0 {
			c.Set(ContextPermissions, sess.Permissions)
		}
		c.Request = c.Request.WithContext(auth.WithSession(c.Request.Context(), sess))

		c.Next()
	}
}

// SessionFromGin returns the session set by AuthMiddleware, or nil.
func SessionFromGin(c *gin.Context) *auth.Session {
	if v, ok := c.Get(ContextSession); ok {
		if s, ok := v.(*auth.Session); ok {
			return s
		}
	}
	return auth.SessionFrom(c.Request.Context())
}

// rolePermissions 角色到权限的默认映射
func rolePermissions(role string) []string {
	switch role {
	case auth.RoleITAdmin:
		return []string{"*"}
	case auth.RoleHRUser, auth.RoleFinanceManager, auth.RoleEmployee:
		return []string{"tickets.read", "tickets.write", "assets.read"}
	}
	return nil
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
