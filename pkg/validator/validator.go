package validator

import (
	"net/netip"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate

	permissionTokenPattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]*$`)
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, err := range v {
		if err.Param != "" {
			parts[i] = err.Field + " failed on " + err.Tag + "=" + err.Param
		} else {
			parts[i] = err.Field + " failed on " + err.Tag
		}
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct validates a struct using registered rules.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	if ve, ok := err.(validator.ValidationErrors); ok {
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, ValidationError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return err
}

// RegisterValidation exposes underlying validator custom rules.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

// pageAction accepts the two page access levels.
func pageAction(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "view", "edit":
		return true
	}
	return false
}

// ipAddress accepts IPv4 and IPv6 literals, including IPv4-mapped IPv6 and zones, with
// surrounding whitespace tolerated. Stricter than the built-in ip tag on leading zeros.
func ipAddress(fl validator.FieldLevel) bool {
	_, err := netip.ParseAddr(strings.TrimSpace(fl.Field().String()))
	return err == nil
}

// permissionToken accepts lowercase resource, action, page and mode identifiers such as
// "students", "soc-dashboard" or "attendance_only".
func permissionToken(fl validator.FieldLevel) bool {
	return permissionTokenPattern.MatchString(fl.Field().String())
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if name == "" {
				return fld.Name
			}

			comma := strings.Index(name, ",")
			if comma != -1 {
				name = name[:comma]
			}

			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("permtoken", permissionToken)
		_ = validate.RegisterValidation("pageaction", pageAction)
		_ = validate.RegisterValidation("ipaddr", ipAddress)
	})
	return validate
}
