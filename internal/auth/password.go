// Package auth provides password hashing, JWT issuance, and the HTTP auth middleware.
// The pipelines never see credentials; they only receive the validated identity.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/hyperjump/shashin/internal/models"
)

// HashPassword returns the bcrypt hash of a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidateUsername checks registration rules: at least 3 characters, alphanumeric only.
func ValidateUsername(username string) error {
	if len(username) < 3 {
		return fmt.Errorf("%w: username must be at least 3 characters long", models.ErrValidation)
	}
	for _, r := range username {
		if !isAlnum(r) {
			return fmt.Errorf("%w: username must contain only alphanumeric characters", models.ErrValidation)
		}
	}
	return nil
}

// ValidatePassword checks registration rules: at least 6 characters.
func ValidatePassword(password string) error {
	if len(password) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters long", models.ErrValidation)
	}
	return nil
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
