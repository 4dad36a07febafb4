package nanoweb

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

const (
	errRequired      = "field is required"
	errInvalidFormat = "invalid format"
	errMustBeNumber  = "must be a number"
	errMustBeBoolean = "must be a boolean value"
)

// ValidationError represents a single validation error with field and message.
type ValidationError struct {
	Field string `json:"field"` // Field name that failed validation
	Err   string `json:"error"` // Error message describing the failure
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Err)
}

// ValidationErrors is the list sent back in a 400 response.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	errs := make([]string, 0, len(ve))
	for _, e := range ve {
		errs = append(errs, e.Field+": "+e.Err)
	}
	return "validation failed: " + strings.Join(errs, ", ")
}

// ValidatorFunc checks one value and returns nil when it passes.
type ValidatorFunc func(string) *ValidationError

// ValidationChain represents a chain of validation rules for a field.
// Chains are built once at registration and are safe for concurrent use.
type ValidationChain struct {
	field string
	rules []ValidatorFunc
}

// NewValidationChain creates a new ValidationChain for the specified field.
func NewValidationChain(field string) *ValidationChain {
	return &ValidationChain{field: field}
}

// rule appends a check that skips empty values; Required handles those.
func (vc *ValidationChain) rule(msg string, ok func(string) bool) *ValidationChain {
	verr := &ValidationError{Field: vc.field, Err: msg}
	vc.rules = append(vc.rules, func(value string) *ValidationError {
		if value == "" || ok(value) {
			return nil
		}
		return verr
	})
	return vc
}

// Required adds a rule that the field must not be empty.
func (vc *ValidationChain) Required() *ValidationChain {
	verr := &ValidationError{Field: vc.field, Err: errRequired}
	vc.rules = append(vc.rules, func(value string) *ValidationError {
		if value == "" {
			return verr
		}
		return nil
	})
	return vc
}

// IsInt adds a rule that the field must be an integer.
func (vc *ValidationChain) IsInt() *ValidationChain {
	return vc.rule("must be an integer", func(v string) bool {
		_, err := strconv.Atoi(v)
		return err == nil
	})
}

// IsFloat adds a rule that the field must be a floating-point number.
func (vc *ValidationChain) IsFloat() *ValidationChain {
	return vc.rule(errMustBeNumber, func(v string) bool {
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	})
}

// IsBoolean adds a rule that the field must be a boolean value.
func (vc *ValidationChain) IsBoolean() *ValidationChain {
	return vc.rule(errMustBeBoolean, func(v string) bool {
		_, err := strconv.ParseBool(v)
		return err == nil
	})
}

// IsEmail adds a rule that the field must look like an email address.
func (vc *ValidationChain) IsEmail() *ValidationChain {
	return vc.rule("invalid email format", func(v string) bool {
		at := strings.IndexByte(v, '@')
		return at > 0 && strings.Contains(v[at:], ".")
	})
}

// Length adds a rule that the field length is within [min, max].
func (vc *ValidationChain) Length(min, max int) *ValidationChain {
	return vc.rule(fmt.Sprintf("must be between %d and %d characters", min, max), func(v string) bool {
		return len(v) >= min && len(v) <= max
	})
}

// OneOf adds a rule that the field must be one of the specified options.
func (vc *ValidationChain) OneOf(options ...string) *ValidationChain {
	return vc.rule("must be one of: "+strings.Join(options, ", "), func(v string) bool {
		for _, o := range options {
			if v == o {
				return true
			}
		}
		return false
	})
}

// Matches adds a rule that the field must match pattern. An invalid pattern
// panics at registration.
func (vc *ValidationChain) Matches(pattern string) *ValidationChain {
	re := regexp.MustCompile(pattern)
	return vc.rule(errInvalidFormat, re.MatchString)
}

// Custom adds a custom validation function to the chain.
func (vc *ValidationChain) Custom(fn func(string) error) *ValidationChain {
	vc.rules = append(vc.rules, func(value string) *ValidationError {
		if value == "" {
			return nil
		}
		if err := fn(value); err != nil {
			return &ValidationError{Field: vc.field, Err: err.Error()}
		}
		return nil
	})
	return vc
}

// validate returns the first failing rule for the field, if any.
func (vc *ValidationChain) validate(value string) *ValidationError {
	for _, rule := range vc.rules {
		if err := rule(value); err != nil {
			return err
		}
	}
	return nil
}

// Field looks a value up in the route params, then the query string, then
// the top level of a JSON object body. A body that fails to decode has no
// fields.
func (r *Request) Field(name string) string {
	if v, ok := r.GetParam(name); ok {
		return v
	}
	if v := r.Query(name); v != "" {
		return v
	}
	r.DecodeBody()
	if body, ok := r.JSONBody.(map[string]interface{}); ok {
		if v, ok := body[name]; ok && v != nil {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprint(v)
		}
	}
	return ""
}

// ValidationMiddleware answers 400 with {"errors": [...]} when any chain
// fails; each field reports only its first failing rule.
func ValidationMiddleware(chains ...*ValidationChain) MiddlewareFunc {
	return func(r *Request) (Handler, error) {
		if err := r.DecodeBody(); err != nil {
			return nil, err
		}
		var errs ValidationErrors
		for _, chain := range chains {
			if verr := chain.validate(r.Field(chain.field)); verr != nil {
				errs = append(errs, *verr)
			}
		}
		if len(errs) == 0 {
			return nil, nil
		}
		r.Set("validationErrors", errs)
		return JSON{Code: http.StatusBadRequest, Value: map[string]interface{}{"errors": errs}}, nil
	}
}
