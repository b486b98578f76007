package models

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"time"
)

// activationKeyRe matches the SHA-1 shaped activation key. Keys that do not
// match are rejected before any database lookup.
var activationKeyRe = regexp.MustCompile(`^[a-f0-9]{40}$`)

// Registration gates email confirmation for a new account. The activated
// flag is independent of the account state: a registration becomes
// activated when the key is used, while the account still needs staff
// approval before it is usable.
type Registration struct {
	AccountID     string    `json:"account_id"`
	ActivationKey string    `json:"-"`
	Activated     bool      `json:"activated"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewRegistration creates a Registration with a fresh activation key for
// the given account, expiring after the given window.
func NewRegistration(accountID string, window time.Duration) (*Registration, error) {
	key, err := generateActivationKey()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Registration{
		AccountID:     accountID,
		ActivationKey: key,
		ExpiresAt:     now.Add(window),
		CreatedAt:     now,
	}, nil
}

// IsExpired returns true if the activation key can no longer be used.
func (r *Registration) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// ValidActivationKey reports whether key has the expected shape.
func ValidActivationKey(key string) bool {
	return activationKeyRe.MatchString(key)
}

// generateActivationKey returns a 40-char hex key derived from random
// bytes.
func generateActivationKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}
