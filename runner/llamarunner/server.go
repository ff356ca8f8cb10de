// Package llamarunner - Server-Lebenszyklus und Routing
//
// Dieses Modul enthält:
// - NewServer: Slots anlegen (ein Context pro Slot, ein geteiltes Model)
// - Handler: gin-Router mit CORS und Host-Pruefung
// - Serve: HTTP-Server bis Signal oder Context-Ende
// - Close: Slots und Cache freigeben
package llamarunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/TowsifAhamed/LlamaPanama/envconfig"
	"github.com/TowsifAhamed/LlamaPanama/llama"
	"github.com/TowsifAhamed/LlamaPanama/version"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// NewServer legt params.Parallel Slots auf model an
func NewServer(model *llama.Model, params ServerParams) (*Server, error) {
	if params.Parallel <= 0 {
		params.Parallel = 1
	}

	s := &Server{
		model:   model,
		params:  params,
		seqsSem: semaphore.NewWeighted(int64(params.Parallel)),
		metrics: newMetrics(prometheus.NewRegistry()),
	}

	for i := range params.Parallel {
		session, err := NewSession(model, params.Defaults, params.NumCtx, params.Threads)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		s.slots = append(s.slots, &slot{id: i, session: session})
	}

	if params.EmbedCacheTTL > 0 {
		s.cache = ttlcache.New[string, []float32](
			ttlcache.WithTTL[string, []float32](params.EmbedCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, []float32](),
		)
		go s.cache.Start()
	}

	slog.Info("runner ready", "model", model.Path(), "slots", params.Parallel, "ctx", params.NumCtx)
	return s, nil
}

// acquire wartet auf einen freien Slot oder bis ctx endet
func (s *Server) acquire(ctx context.Context) (*slot, error) {
	if err := s.seqsSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		if !sl.busy {
			sl.busy = true
			s.metrics.slotsBusy.Inc()
			return sl, nil
		}
	}

	s.seqsSem.Release(1)
	return nil, errors.New("could not find an available slot")
}

func (s *Server) release(sl *slot) {
	s.mu.Lock()
	sl.busy = false
	s.mu.Unlock()

	s.metrics.slotsBusy.Dec()
	s.seqsSem.Release(1)
}

func (s *Server) busy() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		if sl.busy {
			n++
		}
	}
	return n
}

// Close gibt alle Slot-Contexts frei. Das Model gehoert dem Aufrufer.
func (s *Server) Close() {
	if s.cache != nil {
		s.cache.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		sl.session.Close()
	}
}

// allowedHost prueft ob der Host erlaubt ist
func allowedHost(host string) bool {
	host = strings.ToLower(host)

	if host == "" || host == "localhost" {
		return true
	}

	if hostname, err := os.Hostname(); err == nil && host == strings.ToLower(hostname) {
		return true
	}

	for _, tld := range []string{"localhost", "local", "internal"} {
		if strings.HasSuffix(host, "."+tld) {
			return true
		}
	}

	return false
}

// allowedHostsMiddleware blockiert Anfragen von nicht erlaubten Hosts,
// solange der Runner nur auf Loopback lauscht
func allowedHostsMiddleware(addr net.Addr) gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr == nil {
			c.Next()
			return
		}

		if addr, err := netip.ParseAddrPort(addr.String()); err == nil && !addr.Addr().IsLoopback() {
			c.Next()
			return
		}

		host, _, err := net.SplitHostPort(c.Request.Host)
		if err != nil {
			host = c.Request.Host
		}

		if addr, err := netip.ParseAddr(host); err == nil {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() {
				c.Next()
				return
			}
		}

		if allowedHost(host) {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}

			c.Next()
			return
		}

		c.AbortWithStatus(http.StatusForbidden)
	}
}

// Handler erstellt den HTTP-Router
func (s *Server) Handler() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Recovery(),
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	r.POST("/completion", s.completion)
	r.POST("/embedding", s.embedding)
	r.GET("/health", s.health)
	r.HEAD("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	return r
}

// Serve bedient ln bis ctx endet oder SIGINT/SIGTERM eintrifft
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.addr = ln.Addr()
	slog.Info("server config", "env", envconfig.Values())
	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))

	srvr := &http.Server{Handler: s.Handler()}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srvr.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
			srvr.Close()
		}
	}()

	err := srvr.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
