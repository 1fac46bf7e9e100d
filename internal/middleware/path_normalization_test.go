package middleware

import (
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		// Static routes - no normalization
		{
			name:     "root path",
			path:     "/",
			expected: "/",
		},
		{
			name:     "candidates collection",
			path:     "/candidates",
			expected: "/candidates",
		},
		{
			name:     "approvals collection",
			path:     "/approvals",
			expected: "/approvals",
		},
		{
			name:     "audit query",
			path:     "/audit",
			expected: "/audit",
		},
		{
			name:     "audit export",
			path:     "/audit/export",
			expected: "/audit/export",
		},
		{
			name:     "audit verify",
			path:     "/audit/verify",
			expected: "/audit/verify",
		},
		{
			name:     "health endpoint",
			path:     "/health",
			expected: "/health",
		},
		{
			name:     "ready endpoint",
			path:     "/ready",
			expected: "/ready",
		},
		{
			name:     "metrics endpoint",
			path:     "/metrics",
			expected: "/metrics",
		},

		// Candidate patterns
		{
			name:     "candidate by id",
			path:     "/candidates/123",
			expected: "/candidates/{id}",
		},
		{
			name:     "candidate by uuid",
			path:     "/candidates/550e8400-e29b-41d4-a716-446655440000",
			expected: "/candidates/{id}",
		},
		{
			name:     "candidate verify",
			path:     "/candidates/123/verify",
			expected: "/candidates/{id}/verify",
		},
		{
			name:     "candidate evidence",
			path:     "/candidates/123/evidence",
			expected: "/candidates/{id}/evidence",
		},
		{
			name:     "candidate publish",
			path:     "/candidates/456/publish",
			expected: "/candidates/{id}/publish",
		},
		{
			name:     "candidate gate check",
			path:     "/candidates/789/gate",
			expected: "/candidates/{id}/gate",
		},
		{
			name:     "candidate tier override",
			path:     "/candidates/789/tier",
			expected: "/candidates/{id}/tier",
		},
		{
			name:     "candidate reevaluate",
			path:     "/candidates/789/reevaluate",
			expected: "/candidates/{id}/reevaluate",
		},
		{
			name:     "candidate conflicts",
			path:     "/candidates/789/conflicts",
			expected: "/candidates/{id}/conflicts",
		},
		{
			name:     "candidate conflict resolve",
			path:     "/candidates/789/conflicts/42/resolve",
			expected: "/candidates/{id}/conflicts/{conflict_id}/resolve",
		},

		// Approval patterns
		{
			name:     "approval by id",
			path:     "/approvals/abc123",
			expected: "/approvals/{id}",
		},
		{
			name:     "approval decide",
			path:     "/approvals/abc123/decide",
			expected: "/approvals/{id}/decide",
		},
		{
			name:     "approval cancel",
			path:     "/approvals/abc123/cancel",
			expected: "/approvals/{id}/cancel",
		},

		// User patterns
		{
			name:     "user by id",
			path:     "/users/user-1",
			expected: "/users/{id}",
		},
		{
			name:     "user roles",
			path:     "/users/user-1/roles",
			expected: "/users/{id}/roles",
		},
		{
			name:     "user suspend",
			path:     "/users/user-1/suspend",
			expected: "/users/{id}/suspend",
		},
		{
			name:     "user reinstate",
			path:     "/users/user-1/reinstate",
			expected: "/users/{id}/reinstate",
		},

		// Edge cases
		{
			name:     "trailing slash on collection",
			path:     "/candidates/",
			expected: "/candidates/",
		},
		{
			name:     "unknown route",
			path:     "/unknown/path",
			expected: "/unknown/path",
		},
		{
			name:     "deeply nested unknown",
			path:     "/a/b/c/d/e",
			expected: "/a/b/c/d/e",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizePath(tt.path)
			if result != tt.expected {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, result, tt.expected)
			}
		})
	}
}

func TestNormalizePath_CardinalityControl(t *testing.T) {
	// Test that different IDs normalize to the same pattern
	paths := []string{
		"/candidates/1",
		"/candidates/2",
		"/candidates/999",
		"/candidates/550e8400-e29b-41d4-a716-446655440000",
		"/candidates/abc-def-ghi",
	}

	expected := "/candidates/{id}"
	seen := make(map[string]bool)

	for _, path := range paths {
		result := normalizePath(path)
		if result != expected {
			t.Errorf("normalizePath(%q) = %q, want %q", path, result, expected)
		}
		seen[result] = true
	}

	// Should all normalize to the same pattern (low cardinality)
	if len(seen) != 1 {
		t.Errorf("Expected all paths to normalize to single pattern, got %d patterns: %v", len(seen), seen)
	}
}
