package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/shellfs/pkg/models"
	"github.com/choraleia/shellfs/pkg/service"
	"github.com/choraleia/shellfs/pkg/service/fs"
	"github.com/choraleia/shellfs/pkg/shell"
)

// statusFor maps service errors to HTTP status codes. Anything unknown is
// reported as a bad request.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, fs.ErrExist), errors.Is(err, fs.ErrStaleHandle):
		return http.StatusConflict
	case errors.Is(err, service.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, shell.ErrSpawn):
		return http.StatusServiceUnavailable
	case errors.Is(err, fs.ErrUnparseableListing):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, models.Response{Code: status, Message: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, models.Response{Code: http.StatusBadRequest, Message: msg})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: data})
}
