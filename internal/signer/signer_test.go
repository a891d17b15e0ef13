package signer_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formweave/webhook-engine/internal/adapter"
	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/signer"
)

func buildTestPayload() domain.DeliveryPayload {
	return domain.DeliveryPayload{
		Event: domain.EventTypeSubmissionCreated,
		Form: domain.PayloadForm{
			ID:    "form-1234",
			Title: "Customer Feedback",
		},
		Submission: &domain.PayloadSubmission{
			ID:        "sub-5678",
			CreatedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC).Format(time.RFC3339),
			Data: map[string]any{
				"email":  "jordan@example.com",
				"rating": 5,
			},
		},
		Timestamp: time.Date(2026, 8, 30, 10, 0, 1, 0, time.UTC).Format(time.RFC3339),
	}
}

func TestCanonicalBody(t *testing.T) {
	s := signer.NewSigner(adapter.NewJSON(), adapter.NewJCS())

	t.Run("is deterministic", func(t *testing.T) {
		a, err := s.CanonicalBody(buildTestPayload())
		require.NoError(t, err)
		b, err := s.CanonicalBody(buildTestPayload())
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("sorts object keys", func(t *testing.T) {
		payload := buildTestPayload()
		payload.Submission.Data = map[string]any{
			"zeta":  "last",
			"alpha": "first",
		}

		body, err := s.CanonicalBody(payload)
		require.NoError(t, err)
		assert.Less(t,
			bytes.Index(body, []byte(`"alpha"`)),
			bytes.Index(body, []byte(`"zeta"`)),
		)
	})
}

func TestSign(t *testing.T) {
	s := signer.NewSigner(adapter.NewJSON(), adapter.NewJCS())
	secret := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

	t.Run("matches an independent HMAC computation", func(t *testing.T) {
		body, err := s.CanonicalBody(buildTestPayload())
		require.NoError(t, err)

		sig, err := s.Sign(secret, body)
		require.NoError(t, err)

		key, err := hex.DecodeString(secret)
		require.NoError(t, err)
		h := hmac.New(sha256.New, key)
		h.Write(body)
		expected := "sha256=" + hex.EncodeToString(h.Sum(nil))

		assert.Equal(t, expected, sig)
	})

	t.Run("one changed byte changes the signature", func(t *testing.T) {
		body, err := s.CanonicalBody(buildTestPayload())
		require.NoError(t, err)

		sig, err := s.Sign(secret, body)
		require.NoError(t, err)

		mutated := make([]byte, len(body))
		copy(mutated, body)
		mutated[len(mutated)/2] ^= 0x01

		mutatedSig, err := s.Sign(secret, mutated)
		require.NoError(t, err)
		assert.NotEqual(t, sig, mutatedSig)
	})

	t.Run("different secrets produce different signatures", func(t *testing.T) {
		body, err := s.CanonicalBody(buildTestPayload())
		require.NoError(t, err)

		sig1, err := s.Sign(secret, body)
		require.NoError(t, err)
		sig2, err := s.Sign("fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210", body)
		require.NoError(t, err)
		assert.NotEqual(t, sig1, sig2)
	})

	t.Run("rejects non-hex secrets", func(t *testing.T) {
		_, err := s.Sign("not-a-hex-secret", []byte(`{}`))
		assert.Error(t, err)
	})
}
