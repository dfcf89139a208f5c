package response

import (
	"net/http"

	appErrors "github.com/charlesng35/campusgate/pkg/errors"
	"github.com/gin-gonic/gin"
)

// Response defines the base API payload.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo holds error details to send to clients.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta describes a list page: how many rows were returned and the limit applied.
type Meta struct {
	Count int `json:"count"`
	Limit int `json:"limit,omitempty"`
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
	})
}

// List writes a 200 response for a slice result with its page metadata. limit is zero
// for unbounded lists.
func List[T any](c *gin.Context, items []T, limit int) {
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    items,
		Meta:    &Meta{Count: len(items), Limit: limit},
	})
}

// Error writes a JSON error response derived from an AppError. Internal details never
// reach the client.
func Error(c *gin.Context, err error) {
	status, body := render(err)
	c.JSON(status, body)
}

// Abort writes the error response and stops the middleware chain.
func Abort(c *gin.Context, err error) {
	status, body := render(err)
	c.AbortWithStatusJSON(status, body)
}

func render(err error) (int, Response) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	return status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	}
}
