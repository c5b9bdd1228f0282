package common

import (
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

type sample struct {
	Type string `validate:"required,oneof=deleteImage image-paste"`
}

func TestValidateStruct(t *testing.T) {
	if err := ValidateStruct(sample{Type: "deleteImage"}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := ValidateStruct(sample{Type: "shutdown"}); err == nil {
		t.Error("Expected error for value outside oneof")
	}
	if err := ValidateStruct(sample{}); err == nil {
		t.Error("Expected error for missing required field")
	}
}

func TestGenericEchoValidator_ReturnsBadRequest(t *testing.T) {
	gv := &GenericEchoValidator{Validator: Validator()}

	err := gv.Validate(sample{})
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Expected *echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, httpErr.Code)
	}
	if gv.Validate(sample{Type: "image-paste"}) != nil {
		t.Error("Expected valid struct to pass")
	}
}

func TestGenericEchoValidator_ZeroValueIsReadOnly(t *testing.T) {
	gv := &GenericEchoValidator{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gv.Validate(sample{Type: "deleteImage"}); err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		}()
	}
	wg.Wait()

	if gv.Validator != nil {
		t.Error("Expected Validate to leave the zero value untouched")
	}
	if gv.Validate(sample{}) == nil {
		t.Error("Expected the fallback validator to reject a missing field")
	}
}
