package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/unigate/unigate/internal/shared"
)

// MessageBody is the error body returned to clients.
type MessageBody struct {
	Message string `json:"message"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Message sends {"message": msg}.
func Message(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, MessageBody{Message: msg})
}

// DecodeJSON decodes the request body into target and validates it.
// Both failures are reported as validation errors.
func DecodeJSON(r *http.Request, validate *validator.Validate, target any) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: malformed request body", shared.ErrValidation)
	}
	if validate == nil {
		return nil
	}
	if err := validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if ok := asValidationErrors(err, &fieldErrs); ok && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return fmt.Errorf("%w: field %s failed on %s", shared.ErrValidation, first.Field(), first.Tag())
		}
		return fmt.Errorf("%w: %s", shared.ErrValidation, err.Error())
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	errs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = errs
	}
	return ok
}
