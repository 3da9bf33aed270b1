package response

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is the error member of a failed Envelope.
type ErrorBody struct {
	Type      string      `json:"type"`
	Code      string      `json:"code"`
	Timestamp string      `json:"timestamp"`
	Details   interface{} `json:"details,omitempty"`
}

// now is swapped by tests.
var now = func() time.Time { return time.Now().UTC() }

// Body builds the failure envelope for e.
func Body(e *Error) Envelope {
	eb := &ErrorBody{
		Type:      e.Type,
		Code:      e.Code,
		Timestamp: now().Format(time.RFC3339),
	}
	if e.Type == "" {
		eb.Type = TypeInternal
	}
	if e.Expose {
		eb.Details = e.Details
	}
	return Envelope{Success: false, Message: e.Message, Error: eb}
}

// OK writes a success envelope.
func OK(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

// Fail aborts the request with the envelope for e.
func Fail(c *gin.Context, e *Error) {
	c.AbortWithStatusJSON(e.StatusCode(), Body(e))
}
