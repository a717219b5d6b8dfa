// Package validate checks form input and backend responses against struct tags.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	v     *govalidator.Validate
	trans ut.Translator
)

func init() {
	v = govalidator.New(govalidator.WithRequiredStructEnabled())

	// Prefer the form field name, then the JSON name, in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"form", "json"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)
}

// ValidationError carries human-readable messages keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Messages returns the field messages in a stable order.
func (e *ValidationError) Messages() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return msgs
}

// Struct validates a form struct. It returns a *ValidationError when any rule fails.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	return translate(err)
}

// Response validates a decoded backend payload. Pointers, structs and slices of
// structs are checked; anything else passes.
func Response(out any) error {
	rv := reflect.ValueOf(out)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		if !rv.CanAddr() {
			return Struct(rv.Interface())
		}
		return Struct(rv.Addr().Interface())
	case reflect.Slice:
		for i := 0; i < rv.Len(); i++ {
			if err := Response(rv.Index(i).Addr().Interface()); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
	}
	return nil
}

func translate(err error) error {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Translate(trans)
	}
	return &ValidationError{Fields: fields}
}
