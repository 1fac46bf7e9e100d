package idempotency

import (
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		expectErr error
	}{
		{
			name:      "empty key",
			key:       "",
			expectErr: ErrInvalidKey,
		},
		{
			name:      "client-chosen key",
			key:       "publish-cand-8842-attempt-1",
			expectErr: nil,
		},
		{
			name:      "key at max length",
			key:       strings.Repeat("a", MaxKeyLength),
			expectErr: nil,
		},
		{
			name:      "key exceeds max length",
			key:       strings.Repeat("a", MaxKeyLength+1),
			expectErr: ErrKeyTooLong,
		},
		{
			name:      "uuid format key",
			key:       "550e8400-e29b-41d4-a716-446655440000",
			expectErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if err != tt.expectErr {
				t.Errorf("ValidateKey() error = %v, expectErr %v", err, tt.expectErr)
			}
		})
	}
}

func TestComputeResponseHash(t *testing.T) {
	bodies := []string{
		"",
		`{"id":"cand-1","readiness_state":"ready_verified"}`,
	}

	for _, body := range bodies {
		hash := ComputeResponseHash(body)

		// SHA256 is 64 hex chars
		if len(hash) != 64 {
			t.Errorf("ComputeResponseHash(%q) hash length = %d, want 64", body, len(hash))
		}

		if hash != ComputeResponseHash(body) {
			t.Errorf("ComputeResponseHash(%q) not deterministic", body)
		}
	}
}

func TestComputeResponseHashDistinguishesBodies(t *testing.T) {
	hash1 := ComputeResponseHash(`{"id":"cand-1","revision":1}`)
	hash2 := ComputeResponseHash(`{"id":"cand-1","revision":2}`)

	if hash1 == hash2 {
		t.Error("different response bodies should produce different hashes")
	}
}
