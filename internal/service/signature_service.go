package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HMACSigner implements ports.SignatureService with HMAC-SHA256. Outgoing
// provider requests are signed with it.
type HMACSigner struct{}

// NewHMACSigner creates a new HMAC-SHA256 signer.
func NewHMACSigner() *HMACSigner {
	return &HMACSigner{}
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func (HMACSigner) Sign(secretKey string, payload string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
