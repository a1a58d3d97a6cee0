package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeOrigins(t *testing.T) {
	normalized, allowAll := normalizeOrigins([]string{
		"HTTP://Example.COM",
		" https://app.example:8443 ",
		"not a url",
		"",
	})

	assert.False(t, allowAll)
	assert.Equal(t, []string{"http://example.com", "https://app.example:8443"}, normalized)

	_, allowAll = normalizeOrigins([]string{"*"})
	assert.True(t, allowAll)
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name     string
		origins  []string
		header   string
		expected bool
	}{
		{name: "wildcard allows any", origins: []string{"*"}, header: "http://anything.example", expected: true},
		{name: "wildcard allows missing origin", origins: []string{"*"}, header: "", expected: true},
		{name: "listed origin", origins: []string{"http://localhost:7070"}, header: "http://LOCALHOST:7070", expected: true},
		{name: "unlisted origin", origins: []string{"http://localhost:7070"}, header: "http://evil.example", expected: false},
		{name: "missing origin with list", origins: []string{"http://localhost:7070"}, header: "", expected: false},
		{name: "malformed origin", origins: []string{"http://localhost:7070"}, header: "::::", expected: false},
		{name: "empty configuration", origins: nil, header: "http://localhost:7070", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newOriginPolicy(tt.origins)

			req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Origin", tt.header)
			}

			assert.Equal(t, tt.expected, policy.checkOrigin(req))
		})
	}
}

func TestOriginPolicyCORSOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, newOriginPolicy([]string{"*", "http://a.example"}).corsOrigins())
	assert.Equal(t, []string{"http://a.example"}, newOriginPolicy([]string{"http://A.example"}).corsOrigins())
}
