package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
)

// Authenticate verifies the bearer token and stores the caller identity in
// the request context.
func (h *Handler) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			fail(c, http.StatusUnauthorized, CodeUnauthorized, "authorization header must be a bearer token")
			return
		}
		id, err := h.verifier.Verify(token)
		if err != nil {
			respondError(c, err)
			return
		}
		ctx := auth.WithIdentity(c.Request.Context(), id)
		ctx = zctx.With(ctx, zap.String("user_id", id.UserID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, _ := auth.FromContext(c.Request.Context()); !id.IsAdmin() {
			fail(c, http.StatusForbidden, CodeForbidden, "admin role required")
			return
		}
		c.Next()
	}
}

func identity(c *gin.Context) auth.Identity {
	id, _ := auth.FromContext(c.Request.Context())
	return id
}
