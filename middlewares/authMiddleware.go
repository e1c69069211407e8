package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

// BearerToken returns the caller token from `token` or `Authorization: Bearer`.
func BearerToken(c *gin.Context) string {
	if t := strings.TrimSpace(c.GetHeader("token")); t != "" {
		return t
	}
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// AuthMiddleware resolves the caller identity. Requests without a token pass through
// anonymous; RequireCapability rejects them later. A bad token is a 401 here.
func AuthMiddleware(resolver auth.Resolver, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.Next()
			return
		}
		id, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil || id == nil {
			if err != nil && err != auth.ErrInvalidToken && logger != nil {
				logger.WithFields(logrus.Fields{"field": "auth"}).Warn(err.Error())
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": utils.KindUnauthenticated})
			return
		}
		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		c.Request = c.Request.WithContext(auth.WithIdentity(ctx, *id))
		c.Next()
	}
}

// RequireCapability gates a route on the capability table: 401 without an identity,
// 403 when the role lacks the capability.
func RequireCapability(capability auth.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.FromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": utils.KindUnauthenticated})
			return
		}
		if !id.Can(capability) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": utils.KindUnauthorized})
			return
		}
		c.Next()
	}
}

// CurrentIdentity is the identity RequireCapability already checked.
func CurrentIdentity(c *gin.Context) auth.Identity {
	id, _ := auth.FromContext(c.Request.Context())
	return id
}
