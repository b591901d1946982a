package http_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkghttp "github.com/BradenHooton/authguard/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustIPConfig(t *testing.T, cidrs ...string) *pkghttp.IPConfig {
	t.Helper()
	cfg, err := pkghttp.NewIPConfig(cidrs)
	require.NoError(t, err)
	return cfg
}

func TestNewIPConfig_InvalidRange(t *testing.T) {
	_, err := pkghttp.NewIPConfig([]string{"10.0.0.0/8", "not-a-cidr"})
	assert.Error(t, err)
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		cfg        []string
		want       string
	}{
		{
			name:       "direct connection ignores headers",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4, 5.6.7.8",
			xRealIP:    "192.168.1.1",
			cfg:        []string{"10.0.0.0/8", "127.0.0.1"},
			want:       "203.0.113.10",
		},
		{
			name:       "trusted proxy forwards client",
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42",
			cfg:        []string{"10.0.0.0/8"},
			want:       "203.0.113.42",
		},
		{
			name:       "spoofed leading entries are skipped",
			remoteAddr: "10.0.0.5:54321",
			xff:        "1.1.1.1, 203.0.113.42, 10.0.0.7",
			cfg:        []string{"10.0.0.0/8"},
			want:       "203.0.113.42",
		},
		{
			name:       "ipv6 proxy",
			remoteAddr: "[2001:db8::1]:443",
			xff:        "2001:db8:ffff::9",
			cfg:        []string{"2001:db8::/48"},
			want:       "2001:db8:ffff::9",
		},
		{
			name:       "falls back to x-real-ip",
			remoteAddr: "10.0.0.5:54321",
			xRealIP:    "198.51.100.3",
			cfg:        []string{"10.0.0.0/8"},
			want:       "198.51.100.3",
		},
		{
			name:       "garbage header keeps proxy address",
			remoteAddr: "10.0.0.5:54321",
			xff:        "not-an-ip",
			cfg:        []string{"10.0.0.0/8"},
			want:       "10.0.0.5",
		},
		{
			name:       "no trusted proxies",
			remoteAddr: "127.0.0.1:8080",
			xff:        "203.0.113.42",
			want:       "127.0.0.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "198.51.100.20",
			want:       "198.51.100.20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, mustIPConfig(t, tt.cfg...)))
		})
	}
}

func TestExtractClientIP_NilConfig(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.42")

	assert.Equal(t, "10.0.0.5", pkghttp.ExtractClientIP(req, nil))
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"brute_force_detection"}`))
	require.NoError(t, pkghttp.DecodeJSON(req, &dst))
	assert.Equal(t, "brute_force_detection", dst.Name)

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"x","extra":1}`))
	assert.Error(t, pkghttp.DecodeJSON(req, &dst))

	req = httptest.NewRequest("POST", "/", strings.NewReader(``))
	assert.EqualError(t, pkghttp.DecodeJSON(req, &dst), "request body is empty")
}
