package response

import (
	"errors"
	"net/http"

	appErr "table-service/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Body is the envelope of every HTTP reply. Error carries the stable
// client code (phase_closed, invalid_bet, ...) and is empty on success.
type Body struct {
	Code  int         `json:"code"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data"`
	Msg   string      `json:"msg"`
}

var statuses = []struct {
	err    error
	status int
}{
	{appErr.ErrUnauthorized, http.StatusUnauthorized},
	{appErr.ErrUserBanned, http.StatusForbidden},
	{appErr.ErrTableNotFound, http.StatusNotFound},
	{appErr.ErrWalletNotFound, http.StatusNotFound},
	{appErr.ErrUserNotFound, http.StatusNotFound},
	{appErr.ErrPhaseClosed, http.StatusConflict},
	{appErr.ErrCommissionModeConflict, http.StatusConflict},
	{appErr.ErrInsufficientBalance, http.StatusPaymentRequired},
	{appErr.ErrInvalidBet, http.StatusBadRequest},
	{appErr.ErrBetOutOfRange, http.StatusBadRequest},
	{appErr.ErrNoBetsToClear, http.StatusBadRequest},
	{appErr.ErrInvalidWalletPayload, http.StatusBadRequest},
	{appErr.ErrInvalidReportScope, http.StatusBadRequest},
	{appErr.ErrInvalidUserStatus, http.StatusBadRequest},
}

// StatusOf maps a domain error to its HTTP status. Timing rejections are
// conflicts, distinct from validation failures.
func StatusOf(err error) int {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

func Success(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data, "")
}

func Error(c *gin.Context, status int, msg string) {
	JSON(c, status, gin.H{}, msg)
}

// Fail writes err with its mapped status and client code. Internal errors
// never leak their message.
func Fail(c *gin.Context, err error) {
	status := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, Body{
		Code:  status,
		Error: appErr.Code(err),
		Data:  gin.H{},
		Msg:   msg,
	})
}

// AbortFail is Fail for middleware: later handlers do not run.
func AbortFail(c *gin.Context, err error) {
	Fail(c, err)
	c.Abort()
}

func JSON(c *gin.Context, status int, data interface{}, msg string) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(status, Body{
		Code: status,
		Data: data,
		Msg:  msg,
	})
}
