package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/formweave/webhook-engine/internal/adapter"
	"github.com/formweave/webhook-engine/internal/domain"
)

// SignaturePrefix is prepended to the hex HMAC in the signature header
const SignaturePrefix = "sha256="

// Signer produces canonical delivery bodies and their HMAC signatures.
// Receivers recompute the HMAC over the exact bytes they received, so the
// body on the wire must be the same canonical form the signature covers.
type Signer struct {
	json adapter.JSON
	jcs  adapter.JCS
}

// NewSigner creates a new signer
func NewSigner(json adapter.JSON, jcs adapter.JCS) *Signer {
	return &Signer{json: json, jcs: jcs}
}

// CanonicalBody encodes the delivery payload and applies the RFC 8785 JCS
// transform so key ordering is stable across processes and library versions
func (s *Signer) CanonicalBody(payload domain.DeliveryPayload) ([]byte, error) {
	raw, err := s.json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery payload: %w", err)
	}

	canonical, err := s.jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize delivery payload: %w", err)
	}

	return canonical, nil
}

// Sign computes the HMAC-SHA256 signature of the canonical body.
// The secret is the hex-encoded value generated at registration time.
// Format: "sha256=<hex_signature>"
func (s *Signer) Sign(secret string, canonicalBody []byte) (string, error) {
	key, err := hex.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to decode signing secret: %w", err)
	}

	h := hmac.New(sha256.New, key)
	h.Write(canonicalBody)

	return SignaturePrefix + hex.EncodeToString(h.Sum(nil)), nil
}
