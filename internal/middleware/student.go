package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

const (
	// ContextKeyStudentID is the Gin context key for the calling student.
	ContextKeyStudentID = "student_id"

	maxStudentIDLen = 64
)

// RequireStudent reads the student identity from the X-Student-ID header.
// WebSocket upgrades may pass it as ?student= instead. There is no
// authentication; the simulator trusts the caller.
func RequireStudent() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(response.HeaderStudentID))
		if id == "" {
			id = strings.TrimSpace(c.Query("student"))
		}
		if id == "" || len(id) > maxStudentIDLen {
			response.AbortFail(c, http.StatusBadRequest, response.ErrStudentRequired)
			return
		}
		c.Set(ContextKeyStudentID, model.ID(id))
		c.Next()
	}
}

// GetStudentID returns the identity set by RequireStudent.
func GetStudentID(c *gin.Context) model.ID {
	v, _ := c.Get(ContextKeyStudentID)
	id, _ := v.(model.ID)
	return id
}
