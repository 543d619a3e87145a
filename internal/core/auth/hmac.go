package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

const (
	keyPrefix  = "rk"
	keyVersion = "v1"

	// randomBytes is the entropy of a generated key (256 bits).
	randomBytes = 32
)

// ParseAPIKey extracts secret_id and random_data from API key format.
// Format: rk-v1-<secret_id>-<random_data> (102 chars total).
// Returns ErrInvalidKeyFormat if format doesn't match.
func ParseAPIKey(key string) (secretID, randomData string, err error) {
	parts := strings.Split(key, "-")
	if len(parts) != 4 || parts[0] != keyPrefix || parts[1] != keyVersion {
		return "", "", ErrInvalidKeyFormat
	}

	secretID = parts[2]
	randomData = parts[3]

	if len(secretID) != 32 || len(randomData) != 2*randomBytes {
		return "", "", ErrInvalidKeyFormat
	}
	for _, c := range secretID + randomData {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", "", ErrInvalidKeyFormat
		}
	}

	return secretID, randomData, nil
}

// ComputeHMAC computes HMAC-SHA256 signature of API key using secret.
func ComputeHMAC(secret []byte, apiKey string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(apiKey))
	return h.Sum(nil)
}

// VerifyHMAC compares hashes in constant time.
func VerifyHMAC(expectedHash, computedHash []byte) bool {
	return hmac.Equal(expectedHash, computedHash)
}

// FormatAPIKey constructs API key from components.
func FormatAPIKey(secretID, randomData string) string {
	return fmt.Sprintf("%s-%s-%s-%s", keyPrefix, keyVersion, secretID, randomData)
}

// GenerateAPIKey creates a fresh key under the newest configured secret and
// returns it with the hash to store. The key itself is shown once and never
// persisted.
func GenerateAPIKey(secrets map[string][]byte) (key string, keyHash []byte, err error) {
	secretID, err := CurrentSecretID(secrets)
	if err != nil {
		return "", nil, err
	}

	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("failed to read random bytes: %w", err)
	}

	key = FormatAPIKey(secretID, hex.EncodeToString(buf))
	return key, ComputeHMAC(secrets[secretID], key), nil
}

// CurrentSecretID picks the secret new keys are issued under: the greatest
// ID, which for time-ordered IDs is the most recently created.
func CurrentSecretID(secrets map[string][]byte) (string, error) {
	if len(secrets) == 0 {
		return "", ErrNoSecrets
	}
	ids := make([]string, 0, len(secrets))
	for id := range secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[len(ids)-1], nil
}
