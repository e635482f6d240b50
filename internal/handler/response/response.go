package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"donation-core/pkg/errno"
)

// Response defines the standard JSON structure
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"msg"`
	Data    interface{} `json:"data"`
}

// Success returns a success response with data
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		data = gin.H{} // Return empty object instead of null
	}
	c.JSON(http.StatusOK, Response{
		Code:    errno.OK.Code,
		Message: errno.OK.Message,
		Data:    data,
	})
}

// Error returns an error response
// HTTP 状态码按错误码区分，银行 webhook 只在 5xx 时重推
func Error(c *gin.Context, err error) {
	code, msg := errno.Decode(err)
	c.JSON(HTTPStatus(code), Response{
		Code:    code,
		Message: msg,
		Data:    gin.H{},
	})
}

func HTTPStatus(code int) int {
	switch code {
	case errno.OK.Code:
		return http.StatusOK
	case errno.ErrBind.Code, errno.ErrValidation.Code:
		return http.StatusBadRequest
	case errno.ErrNotFound.Code, errno.ErrStoryNotFound.Code:
		return http.StatusNotFound
	case errno.ErrInvalidState.Code, errno.ErrDepositConsumed.Code:
		return http.StatusConflict
	case errno.ErrSignature.Code:
		return http.StatusUnauthorized
	case errno.ErrExternalService.Code:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
