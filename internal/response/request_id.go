package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// ContextKeyRequestID is the Gin context key for the request ID.
	ContextKeyRequestID = "request_id"
	// HeaderRequestID carries the request ID between client and server.
	HeaderRequestID = "X-Request-ID"
	// HeaderStudentID carries the student identity.
	HeaderStudentID = "X-Student-ID"
)

// RequestIDMiddleware reuses the caller's request ID when present so client and
// simulator logs can be correlated; otherwise it generates one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header(HeaderRequestID, reqID)
		c.Next()
	}
}
