package security

import (
	"bytes"
	"time"
)

// Test key material for unit tests only. Do not use in production.
var (
	testKeyPrimary   = bytes.Repeat([]byte("k"), MinKeyBytes)
	testKeySecondary = bytes.Repeat([]byte("s"), MinKeyBytes)
)

// NewTestKeyRing returns a two-key ring signing with "primary".
func NewTestKeyRing() *KeyRing {
	ring, err := NewKeyRing("primary", []SigningKey{
		{KID: "primary", Secret: testKeyPrimary, Active: true},
		{KID: "secondary", Secret: testKeySecondary},
	})
	if err != nil {
		panic(err)
	}
	return ring
}

// NewTestTokenIssuer returns a TokenIssuer over NewTestKeyRing with a 15 minute access TTL.
// For unit tests only.
func NewTestTokenIssuer() *TokenIssuer {
	return NewTokenIssuer(NewTestKeyRing(), "test-issuer", "test-audience", 15*time.Minute)
}
