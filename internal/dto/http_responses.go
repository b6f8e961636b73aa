package dto

import (
	"github.com/wb-go/wbf/ginext"

	"rollcall/internal/apperr"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."
)

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func BadResponseError(c *ginext.Context, code, desc string) {
	c.JSON(400, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func InternalServerError(c *ginext.Context) {
	c.JSON(500, Response{
		Status: "error",
		Error: &Error{
			Code: ServiceUnavailable,
			Desc: InternalError,
		},
	})
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(200, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(201, Response{
		Status: "ok",
		Data:   data,
	})
}

// TypedError renders a taxonomy failure with the HTTP status implied by
// its kind.
func TypedError(c *ginext.Context, err error) {
	kind := apperr.KindOf(err)
	code := apperr.CodeOf(err)

	var httpStatus int
	switch kind {
	case apperr.KindValidation:
		httpStatus = 400
	case apperr.KindNotFound:
		httpStatus = 404
	case apperr.KindPermission:
		httpStatus = 403
	case apperr.KindConflict:
		httpStatus = 409
	case apperr.KindWindowClosed, apperr.KindLocation, apperr.KindMethod:
		httpStatus = 422
	default:
		InternalServerError(c)
		return
	}

	c.JSON(httpStatus, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: err.Error(),
		},
	})
}
