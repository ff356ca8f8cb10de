// llama_reference.go
// Referenz-Engine: deterministische Go-Implementierung der Engine-Schnittstelle
// Verhaelt sich wie der Fallback-Shim der nativen Bibliothek (feste Mini-Vokabel)

package llama

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	referenceTokenBOS   int32 = 3
	referenceEmbedDim         = 8
	referenceErrGeneric       = 1
)

var referenceVocab = map[int32]string{
	0: "",
	1: "Hello",
	2: " world",
	3: "<BOS>",
	4: " token",
	5: "!",
}

// referenceSequence ist die zyklische Sample-Folge; Index = (seed + cursor) % 3
var referenceSequence = []int32{2, 5, 0}

type referenceModel struct {
	path string
}

type referenceContext struct {
	model         Handle
	numCtx        int
	threads       int
	evalStart     time.Time
	firstTokenMs  float64
	tokensEmitted int
	samplerState  int
}

// ReferenceEngine ist eine reine Go-Engine ohne native Abhaengigkeiten
type ReferenceEngine struct {
	mu       sync.Mutex
	next     Handle
	models   map[Handle]*referenceModel
	contexts map[Handle]*referenceContext

	// now ist in Tests austauschbar
	now func() time.Time
}

func NewReferenceEngine() *ReferenceEngine {
	return &ReferenceEngine{
		models:   make(map[Handle]*referenceModel),
		contexts: make(map[Handle]*referenceContext),
		now:      time.Now,
	}
}

func referenceError(op, msg string) error {
	return &NativeCallError{Op: op, Code: referenceErrGeneric, Message: msg}
}

func (e *ReferenceEngine) BackendInit() error {
	return nil
}

func (e *ReferenceEngine) LoadModel(path string, gpuLayers int) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	e.models[e.next] = &referenceModel{path: path}
	return e.next, nil
}

func (e *ReferenceEngine) NewContext(model Handle, numCtx, threads int) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.models[model]; !ok {
		return 0, referenceError("context_create", "Model is null")
	}

	e.next++
	e.contexts[e.next] = &referenceContext{model: model, numCtx: numCtx, threads: threads}
	return e.next, nil
}

func referenceTokenFor(word string) int32 {
	switch {
	case strings.HasPrefix(word, "Hello"):
		return 1
	case strings.HasPrefix(word, "world"):
		return 2
	default:
		return 4
	}
}

func (e *ReferenceEngine) Tokenize(model Handle, text string, addBOS bool, capacity int) ([]int32, error) {
	if capacity <= 0 {
		return nil, referenceError("tokenize", "Invalid arguments")
	}

	tokens := make([]int32, 0, min(capacity, len(text)+1))
	if addBOS {
		tokens = append(tokens, referenceTokenBOS)
	}
	for _, word := range strings.Split(text, " ") {
		if len(tokens) >= capacity {
			break
		}
		if word == "" {
			continue
		}
		tokens = append(tokens, referenceTokenFor(word))
	}
	return tokens, nil
}

func (e *ReferenceEngine) context(op string, h Handle) (*referenceContext, error) {
	c, ok := e.contexts[h]
	if !ok {
		return nil, referenceError(op, "Context is null")
	}
	return c, nil
}

func (e *ReferenceEngine) Eval(ctx Handle, tokens []int32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.context("eval", ctx)
	if err != nil {
		return err
	}

	c.samplerState = 0
	c.firstTokenMs = 0
	c.tokensEmitted = 0
	c.evalStart = e.now()
	return nil
}

func (e *ReferenceEngine) Sample(ctx Handle, req SampleRequest) (SampleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.context("sample", ctx)
	if err != nil {
		return SampleResult{}, err
	}

	c.samplerState = req.Position
	n := len(referenceSequence)
	idx := ((req.Seed+c.samplerState)%n + n) % n
	c.samplerState++

	if c.tokensEmitted == 0 {
		c.firstTokenMs = millis(e.now().Sub(c.evalStart))
	}

	token := referenceSequence[idx]
	if token != TokenEOS {
		c.tokensEmitted++
	}
	return SampleResult{Token: token, Position: c.samplerState}, nil
}

func (e *ReferenceEngine) TokenToPiece(model Handle, token int32, capacity int) ([]byte, error) {
	if capacity <= 0 {
		return nil, referenceError("token_to_piece", "Invalid buffer")
	}

	piece, ok := referenceVocab[token]
	if !ok {
		piece = "?"
	}
	if len(piece) >= capacity {
		return nil, referenceError("token_to_piece", "Buffer too small")
	}
	return []byte(piece), nil
}

func (e *ReferenceEngine) EmbeddingDim(model Handle) (int, error) {
	return referenceEmbedDim, nil
}

func (e *ReferenceEngine) Embeddings(ctx Handle, text string, out []float32) (int, error) {
	e.mu.Lock()
	_, err := e.context("embeddings", ctx)
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if len(out) < referenceEmbedDim {
		return 0, referenceError("embeddings", "Buffer too small for embeddings")
	}
	for i := range referenceEmbedDim {
		out[i] = float32((len(text)+i)%7) / 7
	}
	return referenceEmbedDim, nil
}

func (e *ReferenceEngine) Stats(ctx Handle) (InferenceStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.context("stats", ctx)
	if err != nil {
		return InferenceStats{}, err
	}

	var stats InferenceStats
	if !c.evalStart.IsZero() {
		stats.TotalMs = millis(e.now().Sub(c.evalStart))
	}
	stats.FirstTokenMs = c.firstTokenMs
	stats.TokensEmitted = c.tokensEmitted
	if stats.TotalMs > 0 && c.tokensEmitted > 0 {
		stats.TokensPerSecond = float64(c.tokensEmitted) / (stats.TotalMs / 1000)
	}
	return stats, nil
}

func (e *ReferenceEngine) FreeModel(model Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.models[model]; !ok {
		return fmt.Errorf("unknown model handle %d", model)
	}
	delete(e.models, model)
	return nil
}

func (e *ReferenceEngine) FreeContext(ctx Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.contexts[ctx]; !ok {
		return fmt.Errorf("unknown context handle %d", ctx)
	}
	delete(e.contexts, ctx)
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
