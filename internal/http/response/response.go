package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/podscribe-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondErr maps a service error to its status. 5xx messages are not echoed
// back to the client.
func RespondErr(c *gin.Context, err error) {
	ae := apierr.From(err)
	_ = c.Error(err)
	if ae.Status >= http.StatusInternalServerError && ae.Code == "internal" {
		c.JSON(ae.Status, ErrorEnvelope{Error: APIError{Message: "internal server error", Code: ae.Code}})
		return
	}
	RespondError(c, ae.Status, ae.Code, ae)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
