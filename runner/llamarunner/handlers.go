// Package llamarunner - HTTP Handler für Inferenz
//
// Dieses Modul enthält die Request-Handler:
// - completion: Text-Generierung mit NDJSON-Streaming
// - embedding: Embeddings fuer eine oder mehrere Eingaben
// - health: Gesundheits-Check mit Slot-Belegung
package llamarunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/TowsifAhamed/LlamaPanama/api"
	"github.com/TowsifAhamed/LlamaPanama/llama"
)

// applyOptions ueberlagert die Defaults mit gesetzten Request-Optionen
func applyOptions(p llama.SamplerParams, opts *api.Options) llama.SamplerParams {
	if opts == nil {
		return p
	}
	if opts.Temperature != nil {
		p.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		p.TopP = *opts.TopP
	}
	if opts.TopK != nil {
		p.TopK = *opts.TopK
	}
	if opts.RepeatPenalty != nil {
		p.RepeatPenalty = *opts.RepeatPenalty
	}
	if opts.Seed != nil {
		p = p.WithSeed(*opts.Seed)
	}
	if opts.NumPredict != nil {
		p = p.WithMaxTokens(*opts.NumPredict)
	}
	return p
}

func statusFor(err error) int {
	var invalid *llama.InvalidStateError
	if errors.As(err, &invalid) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func bindJSON(c *gin.Context, v any) bool {
	err := c.ShouldBindJSON(v)
	switch {
	case errors.Is(err, io.EOF):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return false
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// completion verarbeitet Completion-Anfragen und streamt Antworten
func (s *Server) completion(c *gin.Context) {
	var req api.CompletionRequest
	if !bindJSON(c, &req) {
		s.metrics.requests.WithLabelValues("completion", "400").Inc()
		return
	}

	if o := req.Options; o != nil && o.NumPredict != nil && *o.NumPredict < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "num_predict must not be negative"})
		return
	}

	ctx := c.Request.Context()
	sl, err := s.acquire(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("aborting completion request due to client closing the connection")
		} else {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to acquire slot: %v", err)})
		}
		return
	}

	params := applyOptions(sl.session.Params(), req.Options)
	if req.Grammar != "" {
		params = params.WithGrammar(req.Grammar)
	}

	id := uuid.NewString()
	slog.Debug("completion request", "id", id, "slot", sl.id, "max_tokens", params.MaxTokens)

	ch := make(chan any)
	go func() {
		defer close(ch)
		defer s.release(sl)

		send := func(v any) bool {
			select {
			case ch <- v:
				return true
			case <-ctx.Done():
				return false
			}
		}

		cancel, stop := CancelOnDone(ctx)
		defer stop()

		start := time.Now()
		state, err := sl.session.StreamWith(params, req.Prompt, ListenerFunc(func(text string) {
			send(api.CompletionResponse{RequestID: id, Content: text})
		}), cancel)
		if err != nil {
			slog.Error("completion failed", "id", id, "error", err)
			s.metrics.requests.WithLabelValues("completion", strconv.Itoa(statusFor(err))).Inc()
			send(gin.H{"error": err.Error(), "status": statusFor(err)})
			return
		}

		stats := sl.session.LastStats()
		s.metrics.observeStream(state, stats)
		s.metrics.requests.WithLabelValues("completion", "200").Inc()
		if state == StateCancelled {
			slog.Info("completion cancelled", "id", id, "emitted", stats.TokensEmitted)
		}

		send(api.CompletionResponse{
			RequestID:  id,
			Done:       true,
			DoneReason: state.String(),
			Metrics: &api.Metrics{
				FirstTokenMs:    stats.FirstTokenMs,
				TokensPerSecond: stats.TokensPerSecond,
				TotalMs:         stats.TotalMs,
				TokensEmitted:   stats.TokensEmitted,
				WallMs:          float64(time.Since(start)) / float64(time.Millisecond),
			},
		})
	}()

	streamResponse(c, ch)
}

// streamResponse schreibt jeden Wert aus ch als NDJSON-Zeile.
// Ein gin.H mit "error" beendet den Stream.
func streamResponse(c *gin.Context, ch chan any) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Stream(func(w io.Writer) bool {
		val, ok := <-ch
		if !ok {
			return false
		}

		if h, ok := val.(gin.H); ok {
			if e, ok := h["error"].(string); ok {
				status, ok := h["status"].(int)
				if !ok {
					status = http.StatusInternalServerError
				}

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.JSON(status, gin.H{"error": e})
				} else {
					if err := json.NewEncoder(c.Writer).Encode(gin.H{"error": e}); err != nil {
						slog.Error("streamResponse failed to encode json error", "error", err)
					}
				}

				return false
			}
		}

		bts, err := json.Marshal(val)
		if err != nil {
			slog.Info(fmt.Sprintf("streamResponse: json.Marshal failed with %s", err))
			return false
		}

		bts = append(bts, '\n')
		if _, err := w.Write(bts); err != nil {
			slog.Info(fmt.Sprintf("streamResponse: w.Write failed with %s", err))
			return false
		}

		return true
	})
}

// embedding verarbeitet Embedding-Anfragen; mehrere Eingaben laufen parallel
func (s *Server) embedding(c *gin.Context) {
	var req api.EmbeddingRequest
	if !bindJSON(c, &req) {
		s.metrics.requests.WithLabelValues("embedding", "400").Inc()
		return
	}

	inputs := req.Input
	if len(inputs) == 0 {
		inputs = []string{req.Content}
	}

	embeddings := make([][]float32, len(inputs))
	g, ctx := errgroup.WithContext(c.Request.Context())
	for i, text := range inputs {
		g.Go(func() error {
			v, err := s.embed(ctx, text)
			if err != nil {
				return err
			}
			if req.Normalize {
				v = normalize(v)
			}
			embeddings[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("aborting embedding request due to client closing the connection")
			return
		}
		status := statusFor(err)
		s.metrics.requests.WithLabelValues("embedding", strconv.Itoa(status)).Inc()
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	s.metrics.requests.WithLabelValues("embedding", "200").Inc()
	c.JSON(http.StatusOK, api.EmbeddingResponse{Embeddings: embeddings, Dim: len(embeddings[0])})
}

// health gibt den aktuellen Server-Status zurück
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Status: "ok",
		Model:  s.model.Path(),
		Slots:  len(s.slots),
		Busy:   s.busy(),
	})
}
