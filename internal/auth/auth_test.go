package auth

import (
	"context"
	"testing"
)

func TestAPIKeyAuthenticator(t *testing.T) {
	testCases := []struct {
		name       string
		configured string
		presented  string
		want       bool
	}{
		{"open mode accepts empty", "", "", true},
		{"open mode accepts anything", "", "whatever", true},
		{"matching key", "secret", "secret", true},
		{"wrong key", "secret", "Secret", false},
		{"missing key", "secret", "", false},
		{"prefix of key", "secret", "sec", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := NewAPIKeyAuthenticator(tc.configured).Authenticate(context.Background(), tc.presented)
			if got != tc.want {
				t.Fatalf("Authenticate(%q) with key %q = %v", tc.presented, tc.configured, got)
			}
		})
	}
}
