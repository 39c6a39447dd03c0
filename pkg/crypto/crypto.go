package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// VerificationCodeLength is the number of digits in a generated OTP code.
const VerificationCodeLength = 8

const digits = "0123456789"

// HashPassword returns a bcrypt hash of the supplied password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares the hashed password with the plaintext candidate.
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// NewInviteToken returns an opaque, globally unique invitation credential.
func NewInviteToken() string {
	return uuid.NewString()
}

// NewVerificationCode returns an 8-digit numeric one-time code suitable for
// human entry. Digits are drawn via rejection sampling so no code is more
// likely than another.
func NewVerificationCode() (string, error) {
	return newCode(VerificationCodeLength)
}

func newCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("crypto: code length must be positive")
	}

	code := make([]byte, length)
	buffer := make([]byte, 1)

	// 250 is the largest multiple of 10 below 256; values at or above it
	// would skew the distribution and are redrawn.
	const limit = 250

	for i := 0; i < length; {
		if _, err := rand.Read(buffer); err != nil {
			return "", err
		}
		if buffer[0] >= limit {
			continue
		}
		code[i] = digits[int(buffer[0])%len(digits)]
		i++
	}

	return string(code), nil
}
