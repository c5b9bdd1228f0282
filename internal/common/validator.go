package common

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

var (
	defaultValidator *validator.Validate
	validatorOnce    sync.Once
)

// Validator returns the process wide struct validator.
func Validator() *validator.Validate {
	validatorOnce.Do(func() {
		defaultValidator = validator.New()
	})
	return defaultValidator
}

// ValidateStruct checks the validate tags of i.
func ValidateStruct(i interface{}) error {
	return Validator().Struct(i)
}

// GenericEchoValidator plugs the struct validator into echo's Context.Validate.
// A nil Validator falls back to the process wide one. Validate never writes
// to gv, so one instance serves concurrent requests.
type GenericEchoValidator struct {
	Validator *validator.Validate
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	v := gv.Validator
	if v == nil {
		v = Validator()
	}
	if err := v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request body: %v", err))
	}
	return nil
}
