// config.go - Haupt-Konfigurationsfunktionen fuer llamapanama
//
// Dieses Modul enthaelt:
// - Host: Gibt Scheme und Host zurueck (LLAMAPANAMA_HOST)
// - AllowedOrigins: Gibt erlaubte Origins zurueck (LLAMAPANAMA_ORIGINS)
// - EmbedCacheTTL: Lebensdauer des Embedding-Caches (LLAMAPANAMA_EMBED_CACHE_TTL)
// - LogLevel: Gibt Log-Level zurueck (LLAMAPANAMA_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_runner.go: Runner- und Sampling-Defaults
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Host gibt Scheme und Host zurueck
// Konfigurierbar via LLAMAPANAMA_HOST
// Default: http://127.0.0.1:11500
func Host() *url.URL {
	defaultPort := "11500"

	s := strings.TrimSpace(Var("LLAMAPANAMA_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins gibt erlaubte Origins zurueck
// Konfigurierbar via LLAMAPANAMA_ORIGINS (komma-separiert)
// Enthaelt Standard-Origins fuer localhost
func AllowedOrigins() (origins []string) {
	if s := Var("LLAMAPANAMA_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// EmbedCacheTTL gibt die Lebensdauer gecachter Embeddings zurueck
// Konfigurierbar via LLAMAPANAMA_EMBED_CACHE_TTL (Dauer oder Sekunden)
// 0 deaktiviert den Cache. Default: 10 Minuten
func EmbedCacheTTL() (ttl time.Duration) {
	ttl = 10 * time.Minute
	if s := Var("LLAMAPANAMA_EMBED_CACHE_TTL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			ttl = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			ttl = time.Duration(n) * time.Second
		} else {
			slog.Warn("invalid environment variable, using default", "key", "LLAMAPANAMA_EMBED_CACHE_TTL", "value", s, "default", ttl)
		}
	}

	if ttl < 0 {
		return 0
	}
	return ttl
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via LLAMAPANAMA_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("LLAMAPANAMA_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
