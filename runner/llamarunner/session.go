// Package llamarunner - Streaming-Session
//
// Dieses Modul enthält die Generierungsschleife:
// - Session: besitzt einen Context, steuert tokenize -> eval -> sample -> decode
// - StreamState: Zustandsautomat eines Streams
// - Listener: Empfaenger der gebatchten Text-Chunks
package llamarunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/TowsifAhamed/LlamaPanama/llama"
	"github.com/TowsifAhamed/LlamaPanama/runner/common"
)

// batchFlushChars ist die Batch-Groesse in Zeichen, ab der sofort gesendet wird
const batchFlushChars = 32

type StreamState int

const (
	StateIdle StreamState = iota
	StateTokenized
	StateGenerating
	StateCancelled
	StateExhausted
	StateStopped
	StateFinalized
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTokenized:
		return "tokenized"
	case StateGenerating:
		return "generating"
	case StateCancelled:
		return "cancelled"
	case StateExhausted:
		return "exhausted"
	case StateStopped:
		return "stopped"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

type Listener interface {
	OnChunk(text string)
}

type ListenerFunc func(text string)

func (f ListenerFunc) OnChunk(text string) {
	f(text)
}

// Session besitzt einen eigenen Context auf einem geteilten Model.
// Streams derselben Session laufen nacheinander.
type Session struct {
	mu      sync.Mutex
	ctx     *llama.Context
	params  llama.SamplerParams
	sampler *llama.SamplerState
	embed   *llama.Embeddings

	// statusMu schuetzt state und lastStats; mu wird waehrend eines Streams gehalten
	statusMu sync.Mutex

	state     StreamState
	lastStats llama.InferenceStats
}

func NewSession(model *llama.Model, params llama.SamplerParams, numCtx, threads int) (*Session, error) {
	ctx, err := llama.NewContextWithModel(model, llama.NewContextParams(numCtx, threads))
	if err != nil {
		return nil, err
	}

	slog.Debug("session ready", "ctx", ctx.NumCtx(), "threads", ctx.NumThreads())

	params = params.Normalize()
	return &Session{
		ctx:     ctx,
		params:  params,
		sampler: ctx.NewSamplerState(params),
	}, nil
}

func (s *Session) Params() llama.SamplerParams {
	return s.params
}

// State gibt den zuletzt erreichten Zustand zurueck
func (s *Session) State() StreamState {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.state
}

func (s *Session) setState(state StreamState) {
	s.statusMu.Lock()
	s.state = state
	s.statusMu.Unlock()
}

// LastStats gibt die Statistiken des letzten abgeschlossenen Streams zurueck
func (s *Session) LastStats() llama.InferenceStats {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.lastStats
}

// Stream generiert mit den Sampler-Parametern der Session
func (s *Session) Stream(prompt string, l Listener, cancel *CancellationToken) (StreamState, error) {
	return s.StreamWith(s.params, prompt, l, cancel)
}

// StreamWith fuehrt einen Stream aus und gibt den Endzustand zurueck
// (StateCancelled, StateExhausted oder StateStopped).
func (s *Session) StreamWith(params llama.SamplerParams, prompt string, l Listener, cancel *CancellationToken) (StreamState, error) {
	if l == nil {
		return StateIdle, errors.New("stream: nil listener")
	}
	if cancel == nil {
		cancel = NoCancel()
	}
	params = params.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.setState(StateIdle)
	s.sampler.Reset()

	tokens, err := s.ctx.Tokenize(prompt, true)
	if err != nil {
		return StateIdle, fmt.Errorf("stream tokenize: %w", err)
	}
	if err := s.ctx.Eval(tokens); err != nil {
		return StateIdle, fmt.Errorf("stream eval: %w", err)
	}
	s.setState(StateTokenized)

	var (
		asm        = common.NewAssembler()
		batch      strings.Builder
		batchChars int
		produced   int
		reason     = StateExhausted
	)

	deliver := func() {
		l.OnChunk(batch.String())
		batch.Reset()
		batchChars = 0
	}

	s.setState(StateGenerating)
	for produced < params.MaxTokens {
		if cancel.Cancelled() {
			reason = StateCancelled
			break
		}

		token, err := s.ctx.Sample(params, s.sampler)
		if err != nil {
			return StateGenerating, fmt.Errorf("stream sample: %w", err)
		}
		if token == llama.TokenEOS {
			reason = StateStopped
			break
		}

		piece, err := s.ctx.TokenToPiece(token)
		if err != nil {
			return StateGenerating, fmt.Errorf("stream token_to_piece: %w", err)
		}

		if text := asm.Feed(piece); text != "" {
			batch.WriteString(text)
			batchChars += utf8.RuneCountInString(text)
			if shouldFlush(batchChars, text, produced) {
				deliver()
			}
		}
		produced++
	}
	s.setState(reason)

	if tail := asm.Flush(); tail != "" {
		batch.WriteString(tail)
	}
	if batch.Len() > 0 {
		deliver()
	}

	stats, err := s.ctx.LastStats()
	if err != nil {
		return reason, fmt.Errorf("stream stats: %w", err)
	}
	s.statusMu.Lock()
	s.lastStats = stats
	s.state = StateFinalized
	s.statusMu.Unlock()

	slog.Debug("stream finished",
		"state", reason,
		"first_token_ms", stats.FirstTokenMs,
		"tokens_per_sec", stats.TokensPerSecond,
		"total_ms", stats.TotalMs,
		"emitted", stats.TokensEmitted,
		"wall_ms", float64(time.Since(start))/float64(time.Millisecond))

	return reason, nil
}

// shouldFlush: Groessenschwelle erreicht, oder Satzende nach mindestens
// einem bereits erzeugten Token. Das erste Token flusht nie wegen Satzzeichen.
func shouldFlush(batchChars int, last string, produced int) bool {
	if batchChars >= batchFlushChars {
		return true
	}
	if produced == 0 || last == "" {
		return false
	}
	switch last[len(last)-1] {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}

// Generate sammelt einen kompletten Stream; endet ctx, wird abgebrochen
func (s *Session) Generate(ctx context.Context, prompt string) (string, error) {
	cancel, stop := CancelOnDone(ctx)
	defer stop()

	var sb strings.Builder
	_, err := s.Stream(prompt, ListenerFunc(func(text string) { sb.WriteString(text) }), cancel)
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Embed berechnet ein Embedding ueber den Context der Session
func (s *Session) Embed(text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embed == nil {
		e, err := s.ctx.Embeddings()
		if err != nil {
			return nil, err
		}
		s.embed = e
	}
	return s.embed.Compute(text)
}

// Close gibt den eigenen Context frei; das Model bleibt beim Aufrufer
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx.Release()
}
