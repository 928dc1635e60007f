// Package validation checks API request payloads against struct tags.
package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates structs
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct against its "validate" tags. Supported rules:
// required, min=N, max=N (string length or numeric value), oneof=a b c.
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")
		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%s: %w", fieldType.Name, err)
		}
	}
	return nil
}

func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]
		arg := ""
		if len(parts) == 2 {
			arg = parts[1]
		}

		switch ruleName {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "min":
			n, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				continue
			}
			if below, got := compare(field, n); below {
				return fmt.Errorf("must be at least %s, got %s", arg, got)
			}

		case "max":
			n, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				continue
			}
			if above, got := compareMax(field, n); above {
				return fmt.Errorf("must be at most %s, got %s", arg, got)
			}

		case "oneof":
			if field.Kind() == reflect.String && field.String() != "" {
				allowed := strings.Fields(arg)
				ok := false
				for _, a := range allowed {
					if field.String() == a {
						ok = true
						break
					}
				}
				if !ok {
					return fmt.Errorf("must be one of [%s]", arg)
				}
			}
		}
	}
	return nil
}

// compare reports whether the field falls below the minimum, returning the
// observed size for the error message.
func compare(field reflect.Value, min float64) (bool, string) {
	switch field.Kind() {
	case reflect.String:
		l := len(field.String())
		return float64(l) < min, strconv.Itoa(l)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := field.Int()
		return float64(n) < min, strconv.FormatInt(n, 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := field.Uint()
		return float64(n) < min, strconv.FormatUint(n, 10)
	case reflect.Float32, reflect.Float64:
		n := field.Float()
		return n < min, strconv.FormatFloat(n, 'g', -1, 64)
	}
	return false, ""
}

func compareMax(field reflect.Value, max float64) (bool, string) {
	switch field.Kind() {
	case reflect.String:
		l := len(field.String())
		return float64(l) > max, strconv.Itoa(l)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := field.Int()
		return float64(n) > max, strconv.FormatInt(n, 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := field.Uint()
		return float64(n) > max, strconv.FormatUint(n, 10)
	case reflect.Float32, reflect.Float64:
		n := field.Float()
		return n > max, strconv.FormatFloat(n, 'g', -1, 64)
	}
	return false, ""
}
