package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Ambiguous characters (I, O, 0, 1) are excluded so codes survive being
// read aloud or retyped from a printed card.
const guestCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateGuestCode returns a short human-enterable event code.
func GenerateGuestCode(length int) (string, error) {
	if length <= 0 {
		length = 8
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate guest code: %w", err)
	}
	for i, b := range buf {
		buf[i] = guestCodeAlphabet[int(b)%len(guestCodeAlphabet)]
	}
	return string(buf), nil
}

// GenerateToken returns a URL-safe token from byteLen random bytes.
func GenerateToken(byteLen int) (string, error) {
	if byteLen <= 0 {
		byteLen = 24
	}
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret hashes a guest code or event admin token. Plaintext is
// returned to the caller exactly once at creation time.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

func VerifySecret(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
