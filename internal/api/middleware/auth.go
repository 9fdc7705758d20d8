package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AbhinavJain2107/unihive/internal/auth"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

const (
	// ContextKeyMemberID holds the key for the member ID in Gin context.
	ContextKeyMemberID = "memberID"
	// ContextKeyIsAdmin holds the key for the admin claim in Gin context.
	ContextKeyIsAdmin = "isAdmin"
)

// AuthMiddleware creates a Gin middleware for JWT authentication.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := auth.ValidateJWT(parts[1], jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": fmt.Sprintf("Invalid or expired token: %v", err)})
			return
		}

		memberID, err := utils.ParseSixID(claims.MemberID)
		if err != nil || memberID.IsZero() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token subject"})
			return
		}

		c.Set(ContextKeyMemberID, memberID)
		c.Set(ContextKeyIsAdmin, claims.IsAdmin)
		c.Next()
	}
}

// MemberID returns the authenticated member's ID from the Gin context.
func MemberID(c *gin.Context) (utils.SixID, bool) {
	val, exists := c.Get(ContextKeyMemberID)
	if !exists {
		return utils.SixID{}, false
	}
	id, ok := val.(utils.SixID)
	return id, ok
}

// IsAdmin reports the token's admin claim. The claim only routes requests to
// the admin surface; services re-check authority against stored grants.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextKeyIsAdmin)
}

// AdminMiddleware creates a Gin middleware to check for admin privileges.
// Assumes AuthMiddleware runs first.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Administrator privileges required"})
			return
		}
		c.Next()
	}
}
