package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/thiagokokada/refdiff/internal/contentapi"
	rerrors "github.com/thiagokokada/refdiff/internal/errors"
)

const codeInternal rerrors.Code = "internal"

func statusFor(code rerrors.Code) int {
	switch code {
	case rerrors.UnknownRef:
		return http.StatusNotFound
	case rerrors.RepositoryUnavailable:
		return http.StatusBadGateway
	case rerrors.InvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func sendError(c *gin.Context, err error) {
	var coded *rerrors.Error
	if !errors.As(err, &coded) {
		coded = rerrors.New(codeInternal, err.Error())
	}
	c.JSON(statusFor(coded.Code), contentapi.ErrorBody{Error: coded})
}

// callerIdentity reads a bearer token used as the clone credential.
func callerIdentity(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func postJSON[P any](f func(c *gin.Context, params *P) (any, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params P
		if err := c.ShouldBindJSON(&params); err != nil {
			sendError(c, rerrors.ErrInvalidArgument(err.Error()))
			return
		}
		result, err := f(c, &params)
		if err != nil {
			sendError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func getP[P any](f func(c *gin.Context, params *P) (any, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params P
		if err := c.ShouldBindQuery(&params); err != nil {
			sendError(c, rerrors.ErrInvalidArgument(err.Error()))
			return
		}
		result, err := f(c, &params)
		if err != nil {
			sendError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
