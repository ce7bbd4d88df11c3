package middleware

import (
	"fmt"
	"net/http"
	"time"

	"storefront-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RequestLogger logs each probe request. Healthy probes arrive every few
// seconds, so 2xx responses log at debug.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		log.WithLevel(levelFor(status)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("probe request")
	}
}

func levelFor(status int) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest:
		return zerolog.WarnLevel
	default:
		return zerolog.DebugLevel
	}
}

// Recovery answers a panicking handler with a SYS_001 body.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			appErr := apperror.InternalError(fmt.Errorf("panic: %v", r))
			log.Error().Err(appErr).Str("path", c.Request.URL.Path).Msg("probe handler panicked")
			c.AbortWithStatusJSON(http.StatusInternalServerError, appErr)
		}()
		c.Next()
	}
}
