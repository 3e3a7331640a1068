package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				event := log.Error().
					Interface("error", r).
					Str("method", c.Request.Method).
					Str("path", c.FullPath()).
					Str("request_id", RequestIDFrom(c)).
					Bytes("stack", debug.Stack())
				if identity, ok := IdentityFrom(c); ok {
					event = event.Str("user_id", identity.Profile.ID)
				}
				event.Msg("panic recovered")

				// A handler that already streamed part of a response cannot
				// switch to a JSON error body.
				if c.Writer.Written() {
					c.Abort()
					return
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "internal_server_error",
					"request_id": RequestIDFrom(c),
				})
			}
		}()
		c.Next()
	}
}
