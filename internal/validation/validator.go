// Package validation rejects malformed location and user-location records
// before anything is written to the document store.
package validation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/models"
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	// Report fields by their wire name so messages match what clients sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		switch name {
		case "-":
			return ""
		case "":
			return fld.Name
		}
		return name
	})
	return &Validator{validate: v}
}

func (v *Validator) Location(in *models.LocationInput) error {
	return v.Struct("validate_location", in)
}

func (v *Validator) UserLocation(in *models.UserLocationInput) error {
	return v.Struct("validate_user_location", in)
}

func (v *Validator) Patch(p *models.LocationPatch) error {
	return v.Struct("validate_location_patch", p)
}

// Struct validates s and folds every failure into one validation error.
// Missing fields are reported alone when present; otherwise every
// range or type violation is listed.
func (v *Validator) Struct(op string, s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Wrap(apperr.KindValidation, op, err)
	}

	var missing, invalid []string
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
			continue
		}
		invalid = append(invalid, describe(fe))
	}

	if len(missing) > 0 {
		return apperr.Validation(op, "Missing required fields: %s", strings.Join(missing, ", "))
	}
	return apperr.Validation(op, "Validation failed: %s", strings.Join(invalid, "; "))
}

func describe(fe validator.FieldError) string {
	if isNaN(fe.Value()) {
		return fmt.Sprintf("%s must be a number", fe.Field())
	}
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "min":
		if fe.Param() == "1" {
			return fmt.Sprintf("%s must not be empty", fe.Field())
		}
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

func isNaN(value any) bool {
	switch f := value.(type) {
	case float64:
		return math.IsNaN(f)
	case *float64:
		return f != nil && math.IsNaN(*f)
	}
	return false
}
