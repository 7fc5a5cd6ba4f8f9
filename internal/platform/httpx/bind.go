package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Bind decodes a JSON body into target and runs its validate tags.
func Bind(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return Classify(ErrValidation, fmt.Errorf("decode body: %w", err))
	}
	if err := validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return Classify(ErrValidation, errors.New(strings.Join(msgs, "; ")))
		}
		return Classify(ErrValidation, err)
	}
	return nil
}

// QueryInt64 parses an optional integer query parameter; missing values return 0.
func QueryInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, Classify(ErrValidation, fmt.Errorf("%s must be an integer", name))
	}
	return v, nil
}

// PathInt64 parses a positive integer URL parameter value.
func PathInt64(raw, name string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, Classify(ErrValidation, fmt.Errorf("%s must be a positive integer", name))
	}
	return v, nil
}
