// Package validate wraps go-playground/validator with the project's custom
// tags and converts its errors into model.ValidationError.
package validate

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/scoring"
)

var (
	v          *validator.Validate
	translator ut.Translator

	halfStepTag = "halfstep"
)

func init() {
	v = validator.New()

	english := en.New()
	uni := ut.New(english, english)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, translator)

	// Report JSON field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(halfStepTag, func(fl validator.FieldLevel) bool {
		switch fl.Field().Kind() {
		case reflect.Float32, reflect.Float64:
			return scoring.HalfStep(fl.Field().Float())
		}
		return false
	})
	_ = v.RegisterTranslation(halfStepTag, translator,
		func(ut.Translator) error { return nil },
		func(_ ut.Translator, fe validator.FieldError) string {
			return "must be a multiple of 0.5"
		})
}

// Struct validates s by its struct tags. Field names in the returned
// error are prefixed with prefix when it is not empty.
func Struct(prefix string, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	verr := &model.ValidationError{}
	for _, fe := range fieldErrs {
		field := fe.Field()
		if prefix != "" {
			field = prefix + "." + field
		}
		verr.Add(field, "%s", fe.Translate(translator))
	}
	return verr
}
