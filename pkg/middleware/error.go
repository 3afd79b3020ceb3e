package middleware

import (
	"errors"
	"net/http"

	"sendloop-engine/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached to the gin context as the standard
// JSON envelope. Domain errors keep their status and details; anything else
// becomes an opaque 500 with the real cause logged server-side.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var base errutil.BaseError
		if errors.As(last.Err, &base) {
			c.JSON(base.Code.HTTPStatus(), base.JSON())
			return
		}

		zap.L().Error("unhandled request error",
			zap.String("path", c.FullPath()),
			zap.Error(last.Err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    errutil.StatusInternal,
				"message": "internal server error",
			},
		})
	}
}
