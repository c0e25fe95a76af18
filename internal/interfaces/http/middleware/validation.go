package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/erp/fulfillment/internal/application/fulfillment"
	domain "github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
)

var setupOnce sync.Once

// SetupValidator reports JSON/form field names in errors and registers the
// fulfillment tags: order_bucket, order_sort and shipping_type.
func SetupValidator() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			}
			return name
		})
		_ = v.RegisterValidation("order_bucket", func(fl validator.FieldLevel) bool {
			_, ok := domain.ParseBucket(fl.Field().String())
			return ok
		})
		_ = v.RegisterValidation("order_sort", func(fl validator.FieldLevel) bool {
			return fulfillment.SortKey(fl.Field().String()).IsValid()
		})
		_ = v.RegisterValidation("shipping_type", func(fl validator.FieldLevel) bool {
			return domain.ShippingType(fl.Field().String()).IsValid()
		})
	})
}

// FormatValidationErrors turns binding errors into the standard validation response
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			details = append(details, dto.ValidationDetail{
				Field:   e.Field(),
				Message: validationMessage(e),
			})
		}
	}
	message := "Request validation failed"
	if len(details) == 0 {
		message = "Malformed request: " + err.Error()
	}
	return dto.NewValidationErrorResponse(message, requestID, details)
}

// HandleValidationError responds 400 with the validation details of err
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, GetRequestID(c)))
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Must be at least " + e.Param()
	case "max":
		return "Must be at most " + e.Param()
	case "dive":
		return "Invalid list item"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "order_bucket":
		return "Unknown order bucket"
	case "order_sort":
		return "Unknown sort key"
	case "shipping_type":
		return "Unknown shipping type"
	case "datetime":
		return "Must be a date formatted as " + e.Param()
	default:
		return "Invalid value"
	}
}
