package validator

import (
	"context"
	"errors"

	"github.com/go-playground/validator"

	"rollcall/internal/model"
)

var global *validator.Validate

const (
	ErrInvalidFormat      = "Invalid format"
	ErrFieldRequired      = "Field is required"
	ErrFieldExceedsMaxLen = "Field exceeds maximum length"
	ErrFieldBelowMinLen   = "Field is below minimum length"
	ErrFieldExceedsMaxVal = "Field exceeds maximum value"
	ErrFieldBelowMinVal   = "Field is below minimum value"
	ErrUnknownValidation  = "Unknown validation error"
)

func init() {
	SetValidator(New())
}

func New() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("attendance_method", validateMethod)
	_ = v.RegisterValidation("attendance_status", validateStatus)
	_ = v.RegisterValidation("rating", validateRating)
	_ = v.RegisterValidation("positive64", validatePositiveInt64)
	return v
}

func SetValidator(v *validator.Validate) {
	global = v
}

func Validator() *validator.Validate {
	return global
}

func validateMethod(fl validator.FieldLevel) bool {
	return model.ValidMethod(model.Method(fl.Field().String()))
}

func validateStatus(fl validator.FieldLevel) bool {
	return model.ValidStatus(model.Status(fl.Field().String()))
}

func validateRating(fl validator.FieldLevel) bool {
	val := fl.Field().Int()
	return val >= 1 && val <= 5
}

func validatePositiveInt64(fl validator.FieldLevel) bool {
	return fl.Field().Int() > 0
}

func Validate(ctx context.Context, structure any) error {
	return parseValidationErrors(Validator().StructCtx(ctx, structure))
}

func parseValidationErrors(err error) error {
	if err == nil {
		return nil
	}
	vErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(vErrors) == 0 {
		return nil
	}
	ve := vErrors[0]
	var msg string
	switch ve.Tag() {
	case "required":
		msg = ErrFieldRequired
	case "max":
		msg = ErrFieldExceedsMaxLen
	case "min":
		msg = ErrFieldBelowMinLen
	case "lt", "lte":
		msg = ErrFieldExceedsMaxVal
	case "gt", "gte":
		msg = ErrFieldBelowMinVal
	case "attendance_method":
		msg = "Unknown attendance method"
	case "attendance_status":
		msg = "Unknown attendance status"
	case "rating":
		msg = "Rating must be between 1 and 5"
	case "positive64":
		msg = "Value must be positive"
	default:
		msg = ErrUnknownValidation
	}
	return errors.New(msg + ": " + ve.Namespace())
}
