package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// scopeSignature is the normalized shape hashed into a scope fingerprint.
// Every field that affects the upstream call's output must appear here;
// volatile fields (timestamps, request ids) must not.
type scopeSignature struct {
	Endpoint        string        `json:"endpoint"`
	Model           string        `json:"model"`
	Prompt          string        `json:"prompt"`
	History         []HistoryItem `json:"history"`
	MaxOutputTokens int           `json:"maxOutputTokens"`
	TenantID        string        `json:"tenantId"`
}

// priceSignature is the normalized shape hashed into a price-lookup
// fingerprint.
type priceSignature struct {
	Endpoint        string `json:"endpoint"`
	Model           string `json:"model"`
	ItemName        string `json:"itemName"`
	SKU             string `json:"sku"`
	Unit            string `json:"unit"`
	Location        string `json:"location"`
	MaxOutputTokens int    `json:"maxOutputTokens"`
	TenantID        string `json:"tenantId"`
}

// fingerprint returns the hex digest of sig's canonical JSON encoding.
// Struct field order is fixed, so equal signatures hash identically.
func fingerprint(sig any) string {
	b, err := json.Marshal(sig)
	if err != nil {
		// Signatures are plain structs of strings and ints; Marshal cannot
		// fail for them.
		panic("gateway: unmarshalable fingerprint signature: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
