package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type grantPagePayload struct {
	Page   string `json:"page" validate:"required,permtoken"`
	Action string `json:"action" validate:"required,pageaction"`
}

type blockPayload struct {
	IPAddress string `json:"ipAddress" validate:"required,ipaddr"`
	Reason    string `json:"reason" validate:"omitempty,max=255"`
}

func TestValidateStructSuccess(t *testing.T) {
	require.NoError(t, ValidateStruct(grantPagePayload{Page: "students", Action: "edit"}))
	require.NoError(t, ValidateStruct(blockPayload{IPAddress: "10.0.0.5", Reason: "brute force"}))
	require.NoError(t, ValidateStruct(blockPayload{IPAddress: "2001:db8::1"}))
}

func TestValidateStructFailuresUseJSONNames(t *testing.T) {
	err := ValidateStruct(grantPagePayload{Page: "Students!", Action: "delete"})
	require.Error(t, err)

	vErrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	require.Len(t, vErrs, 2)

	fields := map[string]string{}
	for _, v := range vErrs {
		fields[v.Field] = v.Tag
	}
	require.Equal(t, "permtoken", fields["page"])
	require.Equal(t, "pageaction", fields["action"])
	require.Contains(t, vErrs.Error(), "action failed on pageaction")
}

func TestInvalidIPAddress(t *testing.T) {
	for _, value := range []string{"10.0.0.500", "not-an-ip", "10.0.0.0/8", "010.0.0.1"} {
		err := ValidateStruct(blockPayload{IPAddress: value})
		require.Error(t, err, value)
		require.Equal(t, "ipAddress", err.(ValidationErrors)[0].Field)
		require.Equal(t, "ipaddr", err.(ValidationErrors)[0].Tag)
	}
	require.NoError(t, ValidateStruct(blockPayload{IPAddress: " ::ffff:192.0.2.7 "}))
}

func TestPageActionRule(t *testing.T) {
	for _, action := range []string{"view", "edit"} {
		require.NoError(t, ValidateStruct(grantPagePayload{Page: "rooms", Action: action}))
	}
	for _, action := range []string{"VIEW", "delete", " edit"} {
		require.Error(t, ValidateStruct(grantPagePayload{Page: "rooms", Action: action}), action)
	}
}

func TestRegisterValidation(t *testing.T) {
	require.NoError(t, RegisterValidation("campus", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "campus"
	}))

	type custom struct {
		Value string `validate:"campus"`
	}

	require.NoError(t, ValidateStruct(custom{Value: "campus"}))
	require.Error(t, ValidateStruct(custom{Value: "other"}))
}
