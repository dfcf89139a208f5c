package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusgate/internal/services"
	appErrors "github.com/charlesng35/campusgate/pkg/errors"
	"github.com/charlesng35/campusgate/pkg/response"
	appValidator "github.com/charlesng35/campusgate/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		if domainErr := ruleError(err); domainErr != nil {
			response.Error(c, domainErr)
			return false
		}
		response.Error(c, appErrors.NewValidation(formatValidationError(err)))
		return false
	}

	return true
}

// ruleErrors maps rules that have a dedicated API error code.
var ruleErrors = map[string]error{
	"ipaddr": services.ErrInvalidIPAddress,
}

// ruleError returns the dedicated error when every failure is a rule listed in ruleErrors.
func ruleError(err error) error {
	ve, ok := err.(appValidator.ValidationErrors)
	if !ok || len(ve) == 0 {
		return nil
	}
	var mapped error
	for _, failure := range ve {
		target, ok := ruleErrors[failure.Tag]
		if !ok || (mapped != nil && mapped != target) {
			return nil
		}
		mapped = target
	}
	return mapped
}

func formatValidationError(err error) string {
	if err == nil {
		return "invalid request payload"
	}

	if ve, ok := err.(appValidator.ValidationErrors); ok {
		if len(ve) == 0 {
			return "invalid request payload"
		}

		messages := make([]string, 0, len(ve))
		for _, failure := range ve {
			field := prettifyFieldName(failure.Field)
			switch failure.Tag {
			case "required":
				messages = append(messages, fmt.Sprintf("%s is required", field))
			case "email":
				messages = append(messages, fmt.Sprintf("%s must be a valid email address", field))
			case "min":
				messages = append(messages, fmt.Sprintf("%s must be at least %s characters", field, failure.Param))
			case "max":
				messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, failure.Param))
			case "oneof":
				messages = append(messages, fmt.Sprintf("%s must be one of %s", field, failure.Param))
			case "ip", "ipaddr":
				messages = append(messages, fmt.Sprintf("%s must be a valid IP address", field))
			case "uuid":
				messages = append(messages, fmt.Sprintf("%s must be a valid id", field))
			case "pageaction":
				messages = append(messages, fmt.Sprintf("%s must be view or edit", field))
			case "permtoken":
				messages = append(messages, fmt.Sprintf("%s must be a lowercase identifier", field))
			default:
				if failure.Param != "" {
					messages = append(messages, fmt.Sprintf("%s failed validation: %s=%s", field, failure.Tag, failure.Param))
				} else {
					messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, failure.Tag))
				}
			}
		}
		return strings.Join(messages, "; ")
	}

	return "invalid request payload"
}

func prettifyFieldName(name string) string {
	if name == "" {
		return "field"
	}
	name = strings.ReplaceAll(name, "_", " ")
	return strings.ToLower(name)
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// parseLimitQuery reads ?limit=, falling back to the default when absent or invalid and
// clamping to the service maximum so the reported limit matches what is returned.
func parseLimitQuery(c *gin.Context) int {
	limit := parseIntQuery(c, "limit", services.DefaultListLimit)
	switch {
	case limit <= 0:
		return services.DefaultListLimit
	case limit > services.MaxListLimit:
		return services.MaxListLimit
	}
	return limit
}

func parseIDParam(c *gin.Context, key string) (uint, bool) {
	value, err := strconv.ParseUint(strings.TrimSpace(c.Param(key)), 10, 64)
	if err != nil || value == 0 {
		response.Error(c, appErrors.NewBadRequest(fmt.Sprintf("%s must be a positive integer", key)))
		return 0, false
	}
	return uint(value), true
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, bool) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		response.Error(c, appErrors.NewValidation(fmt.Sprintf("%s must be an RFC3339 timestamp", key)))
		return nil, false
	}
	return &parsed, true
}
