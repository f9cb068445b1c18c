package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("scopetokens", validateScopeTokens)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// Space delimited list of scope tokens, RFC 6749 section 3.3:
// scope-token = 1*( %x21 / %x23-5B / %x5D-7E )
func validateScopeTokens(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if strings.TrimSpace(value) == "" {
		return false
	}

	for _, token := range strings.Split(value, " ") {
		if token == "" {
			continue // repeated spaces are tolerated
		}
		for i := 0; i < len(token); i++ {
			c := token[i]
			if c < 0x21 || c > 0x7e || c == '"' || c == '\\' {
				return false
			}
		}
	}
	return true
}
