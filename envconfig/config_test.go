package envconfig

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHost(t *testing.T) {
	cases := map[string]struct {
		value  string
		expect string
	}{
		"empty":        {"", "127.0.0.1:11500"},
		"only address": {"1.2.3.4", "1.2.3.4:11500"},
		"only port":    {":1234", ":1234"},
		"address port": {"1.2.3.4:1234", "1.2.3.4:1234"},
		"hostname":     {"example.com", "example.com:11500"},
		"http scheme":  {"http://example.com", "example.com:80"},
		"https scheme": {"https://example.com", "example.com:443"},
		"ipv6":         {"[::1]:8080", "[::1]:8080"},
		"bad port":     {"1.2.3.4:99999", "1.2.3.4:11500"},
		"quoted":       {"\"1.2.3.4\"", "1.2.3.4:11500"},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("LLAMAPANAMA_HOST", tt.value)
			if host := Host(); host.Host != tt.expect {
				t.Errorf("Host = %s, erwartet %s", host.Host, tt.expect)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
	}
	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("LLAMAPANAMA_DEBUG", value)
			assert.Equal(t, want, LogLevel())
		})
	}
}

func TestUintDefaults(t *testing.T) {
	t.Setenv("LLAMAPANAMA_NUM_PARALLEL", "")
	assert.EqualValues(t, 1, NumParallel())

	t.Setenv("LLAMAPANAMA_NUM_PARALLEL", "4")
	assert.EqualValues(t, 4, NumParallel())

	t.Setenv("LLAMAPANAMA_NUM_PARALLEL", "viele")
	assert.EqualValues(t, 1, NumParallel())
}

func TestEmbedCacheTTL(t *testing.T) {
	cases := map[string]time.Duration{
		"":    10 * time.Minute,
		"5m":  5 * time.Minute,
		"30":  30 * time.Second,
		"0":   0,
		"-1s": 0,
		"bad": 10 * time.Minute,
	}
	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("LLAMAPANAMA_EMBED_CACHE_TTL", value)
			assert.Equal(t, want, EmbedCacheTTL())
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("LLAMAPANAMA_ORIGINS", "http://10.0.0.1,https://example.com")
	origins := AllowedOrigins()
	assert.Equal(t, "http://10.0.0.1", origins[0])
	assert.Equal(t, "https://example.com", origins[1])
	assert.Contains(t, origins, "http://localhost:*")
}

func TestValues(t *testing.T) {
	t.Setenv("LLAMAPANAMA_CONTEXT_LENGTH", "2048")
	vals := Values()
	assert.Equal(t, "2048", vals["LLAMAPANAMA_CONTEXT_LENGTH"])
	assert.Contains(t, vals, "LLAMAPANAMA_HOST")
}

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"0":     false,
		"false": false,
		"1":     true,
		"true":  true,
		"ja":    true,
	}

	for value, expect := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("LLAMAPANAMA_NOWORDWRAP", value)
			if got := NoWordWrap(); got != expect {
				t.Errorf("NoWordWrap(%q) = %v, erwartet %v", value, got, expect)
			}
		})
	}
}
