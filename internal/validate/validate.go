// Package validate checks request payloads before they reach the credential
// store. Rule messages are catalog keys localized by apierr.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
)

var (
	hasLower  = regexp.MustCompile(`[a-z]`)
	hasUpper  = regexp.MustCompile(`[A-Z]`)
	hasDigit  = regexp.MustCompile(`\d`)
	hasSymbol = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>/?]`)
)

// Credentials is the register/login payload.
type Credentials struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Normalize trims name and phone. Passwords are compared byte for byte and left alone.
func (c *Credentials) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", apierr.ErrValidation, err)
}

// runeLength counts characters, not bytes, so Hebrew names measure correctly.
func runeLength(min, max int, key string) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		n := utf8.RuneCountInString(s)
		if n < min || (max > 0 && n > max) {
			return errors.New(key)
		}
		return nil
	})
}

func passwordComplexity(value interface{}) error {
	s, _ := value.(string)
	if !hasLower.MatchString(s) || !hasUpper.MatchString(s) || !hasDigit.MatchString(s) || !hasSymbol.MatchString(s) {
		return errors.New("password_complexity")
	}
	return nil
}

// Registration enforces the account policy: name of at least 2 characters,
// phone of 9 to 15, password of 8 to 16 with lower, upper, digit and symbol.
func Registration(c *Credentials) error {
	c.Normalize()
	return wrap(validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required.Error("name_too_short"), runeLength(2, 0, "name_too_short")),
		validation.Field(&c.Phone, validation.Required.Error("phone_length"), runeLength(9, 15, "phone_length")),
		validation.Field(&c.Password,
			validation.Required.Error("password_length"),
			runeLength(8, 16, "password_length"),
			validation.By(passwordComplexity),
		),
	))
}

// Login only requires the three fields to be present.
func Login(c *Credentials) error {
	c.Normalize()
	return wrap(validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required.Error("name_required")),
		validation.Field(&c.Phone, validation.Required.Error("phone_required")),
		validation.Field(&c.Password, validation.Required.Error("password_required")),
	))
}

// Lookup is the existence-check payload.
type Lookup struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func Check(l *Lookup) error {
	l.Name = strings.TrimSpace(l.Name)
	l.Phone = strings.TrimSpace(l.Phone)
	return wrap(validation.ValidateStruct(l,
		validation.Field(&l.Name, validation.Required.Error("name_required")),
		validation.Field(&l.Phone, validation.Required.Error("phone_required")),
	))
}

// PromptText is the prompt submission payload checked in front of the
// prompt service.
type PromptText struct {
	Prompt      string `json:"prompt"`
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
}

func Prompt(p *PromptText) error {
	p.Prompt = strings.TrimSpace(p.Prompt)
	return wrap(validation.ValidateStruct(p,
		validation.Field(&p.Prompt, validation.Required.Error("prompt_length"), runeLength(1, 1000, "prompt_length")),
	))
}
