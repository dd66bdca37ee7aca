package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinPasswordLength is the shortest password accepted at sign-up or change.
const MinPasswordLength = 8

// PasswordRule is one requirement of the password policy.
type PasswordRule string

const (
	RuleMinLength PasswordRule = "min_length"
	RuleUppercase PasswordRule = "uppercase"
	RuleLowercase PasswordRule = "lowercase"
	RuleDigit     PasswordRule = "digit"
	RuleSpecial   PasswordRule = "special"
)

var ruleMessages = map[PasswordRule]string{
	RuleMinLength: "Password must be at least 8 characters long",
	RuleUppercase: "Password must contain at least one uppercase letter",
	RuleLowercase: "Password must contain at least one lowercase letter",
	RuleDigit:     "Password must contain at least one number",
	RuleSpecial:   "Password must contain at least one special character",
}

// Message returns the user-facing sentence for the rule.
func (r PasswordRule) Message() string { return ruleMessages[r] }

// PasswordPolicyError lists every unmet rule in policy order.
type PasswordPolicyError struct {
	Unmet []PasswordRule
}

// Error reports the first unmet rule.
func (e *PasswordPolicyError) Error() string {
	if len(e.Unmet) == 0 {
		return "password does not meet policy"
	}
	return e.Unmet[0].Message()
}

// CheckPassword returns the rules pw fails, in policy order.
func CheckPassword(pw string) []PasswordRule {
	var unmet []PasswordRule
	if utf8.RuneCountInString(pw) < MinPasswordLength {
		unmet = append(unmet, RuleMinLength)
	}
	if !strings.ContainsFunc(pw, unicode.IsUpper) {
		unmet = append(unmet, RuleUppercase)
	}
	if !strings.ContainsFunc(pw, unicode.IsLower) {
		unmet = append(unmet, RuleLowercase)
	}
	if !strings.ContainsFunc(pw, unicode.IsDigit) {
		unmet = append(unmet, RuleDigit)
	}
	if !strings.ContainsFunc(pw, isSpecial) {
		unmet = append(unmet, RuleSpecial)
	}
	return unmet
}

// ValidatePassword returns a *PasswordPolicyError when pw fails any rule.
func ValidatePassword(pw string) error {
	if unmet := CheckPassword(pw); len(unmet) > 0 {
		return &PasswordPolicyError{Unmet: unmet}
	}
	return nil
}

func isSpecial(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) && unicode.IsPrint(r)
}
