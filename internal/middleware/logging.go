package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
)

// Logger middleware logs request details
func Logger(log *logging.Logger) gin.HandlerFunc {
	log = logging.OrNop(log).WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}

		c.Next()

		log.LogHTTPRequest(c.Request.Method, path, c.ClientIP(), c.Writer.Status(), time.Since(start))
	}
}
