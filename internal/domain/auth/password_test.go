package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPassword(t *testing.T) {
	tests := []struct {
		name string
		pw   string
		want []PasswordRule
	}{
		{name: "strong", pw: "Str0ng!pass", want: nil},
		{name: "short lowercase digits", pw: "abc123", want: []PasswordRule{RuleMinLength, RuleUppercase, RuleSpecial}},
		{name: "missing special", pw: "Password1", want: []PasswordRule{RuleSpecial}},
		{name: "missing digit", pw: "Password!", want: []PasswordRule{RuleDigit}},
		{name: "missing lowercase", pw: "PASSWORD1!", want: []PasswordRule{RuleLowercase}},
		{name: "empty", pw: "", want: []PasswordRule{RuleMinLength, RuleUppercase, RuleLowercase, RuleDigit, RuleSpecial}},
		{name: "space is not special", pw: "Pass word1", want: []PasswordRule{RuleSpecial}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckPassword(tt.pw))
		})
	}
}

func TestValidatePassword_ReportsFirstUnmetRule(t *testing.T) {
	err := ValidatePassword("abc123")
	require.Error(t, err)

	var policyErr *PasswordPolicyError
	require.True(t, errors.As(err, &policyErr))
	assert.Equal(t, RuleMinLength, policyErr.Unmet[0])
	assert.Equal(t, RuleMinLength.Message(), err.Error())

	assert.NoError(t, ValidatePassword("Sup3r$ecret"))
}
