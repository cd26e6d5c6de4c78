// Package middleware provides HTTP middleware for the connector status API
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderXRequestID carries the request ID in both directions
const HeaderXRequestID = "X-Request-ID"

type contextKey string

// RequestIDKey is the gin context key holding the request ID.
// Error responses echo it back as request_id.
const RequestIDKey contextKey = "request_id"

// GetRequestID retrieves the request ID from the Gin context
func GetRequestID(c *gin.Context) string {
	return c.GetString(string(RequestIDKey))
}

// RequestID tags every status API request with an ID. A caller supplied
// X-Request-ID is kept, otherwise a UUID is generated.
func RequestID() gin.HandlerFunc {
	return RequestIDWithGenerator(func() string { return uuid.New().String() })
}

// RequestIDWithGenerator is RequestID with a custom ID source
func RequestIDWithGenerator(generate func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" {
			requestID = generate()
		}

		c.Set(string(RequestIDKey), requestID)
		c.Header(HeaderXRequestID, requestID)

		c.Next()
	}
}
