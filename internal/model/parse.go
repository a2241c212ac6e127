package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownRole indicates that a role string is not one of Roles().
	ErrUnknownRole = errors.New("model: unknown role")
	// ErrUnknownHectareStatus indicates that a status string is not one of HectareStatuses().
	ErrUnknownHectareStatus = errors.New("model: unknown hectare status")
	// ErrUnknownEmissionType indicates that a type string is not one of EmissionTypes().
	ErrUnknownEmissionType = errors.New("model: unknown emission type")
	// ErrUnknownTokenType indicates that a type string is not one of TokenTypes().
	ErrUnknownTokenType = errors.New("model: unknown token type")
)

// ParseRole normalizes raw input into a Role.
func ParseRole(raw string) (Role, error) {
	return parseEnum(raw, Roles(), ErrUnknownRole)
}

// ParseHectareStatus normalizes raw input into a HectareStatus.
func ParseHectareStatus(raw string) (HectareStatus, error) {
	return parseEnum(raw, HectareStatuses(), ErrUnknownHectareStatus)
}

// ParseEmissionType normalizes raw input into an EmissionType.
func ParseEmissionType(raw string) (EmissionType, error) {
	return parseEnum(raw, EmissionTypes(), ErrUnknownEmissionType)
}

// ParseTokenType normalizes raw input into a TokenType.
func ParseTokenType(raw string) (TokenType, error) {
	return parseEnum(raw, TokenTypes(), ErrUnknownTokenType)
}

func parseEnum[T ~string](raw string, allowed []T, sentinel error) (T, error) {
	candidate := strings.ToLower(strings.TrimSpace(raw))
	for _, value := range allowed {
		if string(value) == candidate {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: %q", sentinel, raw)
}

// OptionalText trims raw input and returns nil when nothing remains.
func OptionalText(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
