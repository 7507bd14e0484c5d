package modules

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Custom validation tags used by module settings.
const (
	tagAnalyticsProperty = "analytics_property"
	tagContainerID       = "gtm_container"
	tagOptimizeID        = "optimize_id"
)

var (
	analyticsPropertyPattern = regexp.MustCompile(`^(UA-\d+-\d+|G-[A-Z0-9]+)$`)
	containerIDPattern       = regexp.MustCompile(`^GTM-[A-Z0-9]+$`)
	optimizeIDPattern        = regexp.MustCompile(`^(GTM|OPT)-[A-Z0-9]+$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	for tag, pattern := range map[string]*regexp.Regexp{
		tagAnalyticsProperty: analyticsPropertyPattern,
		tagContainerID:       containerIDPattern,
		tagOptimizeID:        optimizeIDPattern,
	} {
		// Registration only fails for empty tags.
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return pattern.MatchString(fl.Field().String())
		})
	}
	return v
}

// validateSettings checks values against the settings struct of m. Unknown
// keys and values of the wrong JSON type are reported per field before the
// validate tags run.
func validateSettings(v *validator.Validate, m Module, values map[string]any) error {
	target := m.NewSettings()

	var verrs ValidationErrors
	if target == nil {
		for _, key := range slices.Sorted(maps.Keys(values)) {
			verrs.Add(key, "unknown setting")
		}
		if verrs.HasErrors() {
			return verrs
		}
		return nil
	}

	rv := reflect.ValueOf(target).Elem()
	fields := jsonFields(rv.Type())
	for _, key := range slices.Sorted(maps.Keys(values)) {
		idx, ok := fields[key]
		if !ok {
			verrs.Add(key, "unknown setting")
			continue
		}
		field := rv.Field(idx)
		raw, err := json.Marshal(values[key])
		if err != nil {
			verrs.Add(key, "is not a JSON value")
			continue
		}
		if err := json.Unmarshal(raw, field.Addr().Interface()); err != nil {
			verrs.Add(key, "must be a "+jsonType(field.Type()))
		}
	}
	if verrs.HasErrors() {
		return verrs
	}

	if err := v.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate settings: %w", err)
		}
		for _, fe := range fieldErrs {
			verrs.Add(fe.Field(), reasonForTag(fe))
		}
		return verrs
	}
	return nil
}

func jsonFields(t reflect.Type) map[string]int {
	fields := make(map[string]int, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = f.Name
		}
		fields[name] = i
	}
	return fields
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "list"
	default:
		return "object"
	}
}
