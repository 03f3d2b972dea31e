// README: Auth middleware verifying Firebase ID tokens and exposing the caller uid and role.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sharetaxi/internal/infra"
)

const (
	ctxCallerUID  = "auth.uid"
	ctxCallerRole = "auth.role"

	RolePassenger = "passenger"
	RoleDriver    = "driver"
)

type authError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Auth verifies the bearer token, or the token query parameter used by websocket
// clients that cannot set headers.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, authError{Error: "missing bearer token", Code: "unauthorized"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, authError{Error: "invalid token", Code: "invalid_credential"})
			return
		}
		role := RolePassenger
		if r, ok := token.Claims["role"].(string); ok && r != "" {
			role = r
		}
		c.Set(ctxCallerUID, token.UID)
		c.Set(ctxCallerRole, role)
		c.Next()
	}
}

// HeaderIdentity trusts X-User-ID and X-User-Role. Only for local runs without Firebase.
func HeaderIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader("X-User-ID")
		if uid == "" {
			uid = c.Query("user_id")
		}
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, authError{Error: "missing X-User-ID", Code: "unauthorized"})
			return
		}
		role := c.GetHeader("X-User-Role")
		if role == "" {
			role = RolePassenger
		}
		c.Set(ctxCallerUID, uid)
		c.Set(ctxCallerRole, role)
		c.Next()
	}
}

// RequireRole rejects callers whose role claim differs.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, authError{Error: role + " role required", Code: "forbidden"})
			return
		}
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxCallerUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxCallerRole)
}

func bearerToken(c *gin.Context) (string, bool) {
	if h := c.GetHeader("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		raw = strings.TrimSpace(raw)
		return raw, ok && raw != ""
	}
	if q := c.Query("token"); q != "" {
		return q, true
	}
	return "", false
}
