package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/matedash/authbridge/pkg/logger"
	"github.com/matedash/authbridge/pkg/response"
)

// ErrorHandler renders errors attached with c.Error as envelopes. Server
// errors (>=500) are logged with a stack trace; client errors are logged
// only outside production.
func ErrorHandler(production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		e := response.As(c.Errors.Last().Err)
		logError(c, e, production)
		if c.Writer.Written() {
			return
		}
		response.Fail(c, e)
	}
}

// Recovery turns panics into a 500 envelope.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		e := response.Internal(fmt.Errorf("panic: %v", recovered))
		logger.Stackf("%s %s: %v", c.Request.Method, c.FullPath(), e)
		response.Fail(c, e)
	})
}

func logError(c *gin.Context, e *response.Error, production bool) {
	if e.StatusCode() >= 500 {
		logger.Stackf("%s %s -> %d: %v", c.Request.Method, c.FullPath(), e.StatusCode(), e)
		return
	}
	if !production {
		logger.Debugw("client error", "method", c.Request.Method, "path", c.FullPath(),
			"status", e.StatusCode(), "code", e.Code, "err", e.Error())
	}
}
