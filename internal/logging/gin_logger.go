package logging

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poeproxy/poe-openai-proxy/internal/util"
	log "github.com/sirupsen/logrus"
)

// trackedPrefixes are the API paths that receive a request ID.
var trackedPrefixes = []string{
	"/v1/chat/completions",
	"/v1/completions",
	"/v1/moderations",
	"/v1/files",
}

const skipGinLogKey = "__gin_skip_request_logging__"

// GinLogrusLogger returns a Gin middleware that logs one line per request.
// API requests get a request ID that is propagated through the request context
// so backend and translator logs can be correlated with the access line.
//
// Output format: [2025-12-23 20:14:10] [a1b2c3d4] [info ] 200 |  23.559s | 127.0.0.1 | POST "/v1/chat/completions"
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := util.MaskSensitiveQuery(c.Request.URL.RawQuery)

		requestID := ""
		if isTrackedPath(path) {
			requestID = GenerateRequestID()
			SetGinRequestID(c, requestID)
			c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))
			c.Header("X-Request-Id", requestID)
		}

		c.Next()

		if shouldSkipGinRequestLogging(c) {
			return
		}
		if query != "" {
			path += "?" + query
		}

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		} else {
			latency = latency.Truncate(time.Millisecond)
		}

		status := c.Writer.Status()
		line := fmt.Sprintf("%3d | %10v | %15s | %-6s %q", status, latency, c.ClientIP(), c.Request.Method, path)
		if errText := c.Errors.ByType(gin.ErrorTypePrivate).String(); errText != "" {
			line += " | " + errText
		}

		entry := log.NewEntry(log.StandardLogger())
		if requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(line)
		case status >= http.StatusBadRequest:
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	}
}

func isTrackedPath(path string) bool {
	for _, prefix := range trackedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// GinLogrusRecovery recovers handler panics, logs the stack and answers 500.
// http.ErrAbortHandler is re-raised so net/http can abort the connection quietly.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			panic(http.ErrAbortHandler)
		}
		log.WithFields(log.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// SkipGinRequestLogging suppresses the access log line for this request.
func SkipGinRequestLogging(c *gin.Context) {
	if c != nil {
		c.Set(skipGinLogKey, true)
	}
}

func shouldSkipGinRequestLogging(c *gin.Context) bool {
	if c == nil {
		return false
	}
	return c.GetBool(skipGinLogKey)
}
