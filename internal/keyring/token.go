package keyring

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateToken creates a random bearer token for the control hub's
// per-user authorization.
func GenerateToken() (string, error) {
	bytes := make([]byte, 32) // 256 bits
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
