package identity

import "unicode/utf8"

// MinUsernameLength is mirrored by the ck_users_username_len storage constraint.
const MinUsernameLength = 3

// RegistrationInput is the raw registration request.
type RegistrationInput struct {
	Username string
	Password string
	Email    string
}

// LoginInput is the raw login request.
type LoginInput struct {
	Username string
	Password string
}

type rule[T any] func(T) *ValidationError

// runRules returns the first failing rule, in order.
func runRules[T any](in T, rules ...rule[T]) error {
	for _, r := range rules {
		if verr := r(in); verr != nil {
			return *verr
		}
	}
	return nil
}

var registrationRules = []rule[RegistrationInput]{
	func(in RegistrationInput) *ValidationError {
		if NormalizeUsername(in.Username) == "" || in.Password == "" || NormalizeEmail(in.Email) == "" {
			return &ValidationError{Field: "body", Kind: ErrMissingField, Message: "Username, Password and Email are required"}
		}
		return nil
	},
	func(in RegistrationInput) *ValidationError {
		if utf8.RuneCountInString(NormalizeUsername(in.Username)) < MinUsernameLength {
			return &ValidationError{Field: "username", Kind: ErrMalformedField, Message: "Username must be at least 3 characters long"}
		}
		return nil
	},
}

var loginRules = []rule[LoginInput]{
	func(in LoginInput) *ValidationError {
		if NormalizeUsername(in.Username) == "" || in.Password == "" {
			return &ValidationError{Field: "body", Kind: ErrMissingField, Message: "Username and Password are required"}
		}
		return nil
	},
}

// ValidateRegistration runs the ordered registration rules and returns the first failure.
func ValidateRegistration(in RegistrationInput) error {
	return runRules(in, registrationRules...)
}

// ValidateLogin runs the ordered login rules and returns the first failure.
func ValidateLogin(in LoginInput) error {
	return runRules(in, loginRules...)
}
