// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - Bool: Boolean-Getter
// - String: String-Getter
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// Bool liest einen Bool; nicht parsebare Werte gelten als gesetzt, leer als false
func Bool(k string) func() bool {
	return func() bool {
		s := Var(k)
		if s == "" {
			return false
		}
		b, err := strconv.ParseBool(s)
		return err != nil || b
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"LLAMAPANAMA_DEBUG":           {"LLAMAPANAMA_DEBUG", LogLevel(), "Show additional debug information (e.g. LLAMAPANAMA_DEBUG=1, 2 for trace)"},
		"LLAMAPANAMA_HOST":            {"LLAMAPANAMA_HOST", Host(), "IP Address for the runner (default 127.0.0.1:11500)"},
		"LLAMAPANAMA_ORIGINS":         {"LLAMAPANAMA_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"LLAMAPANAMA_NUM_PARALLEL":    {"LLAMAPANAMA_NUM_PARALLEL", NumParallel(), "Maximum number of parallel requests (one context each)"},
		"LLAMAPANAMA_CONTEXT_LENGTH":  {"LLAMAPANAMA_CONTEXT_LENGTH", ContextLength(), "Context length to use unless otherwise specified (default: 512)"},
		"LLAMAPANAMA_NUM_THREAD":      {"LLAMAPANAMA_NUM_THREAD", NumThread(), "Threads per context (default: number of CPUs)"},
		"LLAMAPANAMA_GPU_LAYERS":      {"LLAMAPANAMA_GPU_LAYERS", GpuLayers(), "Number of layers to offload to the GPU"},
		"LLAMAPANAMA_MAX_TOKENS":      {"LLAMAPANAMA_MAX_TOKENS", MaxTokens(), "Default maximum number of tokens to generate (default: 32)"},
		"LLAMAPANAMA_MODEL":           {"LLAMAPANAMA_MODEL", Model(), "Model path used by serve when --model is not given"},
		"LLAMAPANAMA_NOWORDWRAP":      {"LLAMAPANAMA_NOWORDWRAP", NoWordWrap(), "Do not wrap generated text to the terminal width"},
		"LLAMAPANAMA_EMBED_CACHE_TTL": {"LLAMAPANAMA_EMBED_CACHE_TTL", EmbedCacheTTL(), "How long computed embeddings are cached (default \"10m\", 0 disables)"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
