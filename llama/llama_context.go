// llama_context.go
// Kontext-Modul: Context-Parameter, Evaluierung, Sampling, Statistiken und Embeddings

package llama

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

type ContextParams struct {
	NumCtx  int
	Threads int
}

func NewContextParams(numCtx int, threads int) ContextParams {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return ContextParams{NumCtx: numCtx, Threads: threads}
}

// Context besitzt genau ein natives Context-Handle. Das Model wird nur
// referenziert und muss laenger leben als der Context.
type Context struct {
	engine   Engine
	model    *Model
	handle   Handle
	params   ContextParams
	released atomic.Bool

	statsMu   sync.Mutex
	lastStats *InferenceStats
}

func NewContextWithModel(model *Model, params ContextParams) (*Context, error) {
	if model == nil {
		return nil, errors.New("unable to create llama context: nil model")
	}
	if model.released.Load() {
		return nil, closedError("context_create", "model")
	}
	if params.NumCtx <= 0 {
		return nil, errors.New("unable to create llama context: context size must be positive")
	}

	h, err := model.engine.NewContext(model.handle, params.NumCtx, params.Threads)
	if err != nil {
		return nil, err
	}

	c := &Context{engine: model.engine, model: model, handle: h, params: params}
	runtime.SetFinalizer(c, func(c *Context) {
		slog.Debug("releasing leaked context", "path", c.model.path)
		c.Release()
	})
	return c, nil
}

func (c *Context) Model() *Model {
	return c.model
}

func (c *Context) NumCtx() int {
	return c.params.NumCtx
}

func (c *Context) NumThreads() int {
	return c.params.Threads
}

func (c *Context) Released() bool {
	return c.released.Load()
}

// Release gibt das Context-Handle genau einmal frei; sicher gegen
// gleichzeitigen Aufruf durch den Finalizer.
func (c *Context) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(c, nil)

	if err := c.engine.FreeContext(c.handle); err != nil {
		slog.Warn("failed to free context", "error", err)
	}
}

func (c *Context) check(op string) error {
	if c.released.Load() {
		return closedError(op, "context")
	}
	return nil
}

// Tokenize nutzt das Kontextfenster als Kapazitaet
func (c *Context) Tokenize(text string, addBOS bool) ([]int32, error) {
	if err := c.check("tokenize"); err != nil {
		return nil, err
	}
	return c.model.Tokenize(text, addBOS, c.params.NumCtx)
}

// Eval wertet die Tokens aus und verwirft gecachte Statistiken
func (c *Context) Eval(tokens []int32) error {
	if err := c.check("eval"); err != nil {
		return err
	}

	c.statsMu.Lock()
	c.lastStats = nil
	c.statsMu.Unlock()

	return c.engine.Eval(c.handle, tokens)
}

// Sample zieht ein Token. Der Grammar-Cursor wird vor dem nativen Aufruf
// gelesen und danach fortgeschrieben.
func (c *Context) Sample(params SamplerParams, state *SamplerState) (int32, error) {
	if err := c.check("sample"); err != nil {
		return 0, err
	}

	req := SampleRequest{
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		TopK:          params.TopK,
		RepeatPenalty: params.RepeatPenalty,
		Seed:          params.Seed,
		Grammar:       params.Normalize().Grammar,
		Position:      state.NextPosition(),
	}

	res, err := c.engine.Sample(c.handle, req)
	if err != nil {
		return 0, err
	}

	state.Advance(res.Position)
	return res.Token, nil
}

func (c *Context) TokenToPiece(token int32) ([]byte, error) {
	if err := c.check("token_to_piece"); err != nil {
		return nil, err
	}
	return c.model.TokenToPiece(token)
}

// LastStats liefert die Statistiken des letzten Laufs. Nach einem Eval
// werden sie einmal neu von der Engine geholt und dann gecacht.
func (c *Context) LastStats() (InferenceStats, error) {
	if err := c.check("stats"); err != nil {
		return InferenceStats{}, err
	}

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if c.lastStats != nil {
		return *c.lastStats, nil
	}

	stats, err := c.engine.Stats(c.handle)
	if err != nil {
		return InferenceStats{}, err
	}
	c.lastStats = &stats
	return stats, nil
}

func (c *Context) NewSamplerState(params SamplerParams) *SamplerState {
	return NewSamplerState(params)
}

// Embeddings ist eine an einen Context gebundene Sicht mit wiederverwendetem Puffer.
// Compute ist von mehreren Aufrufern nutzbar, wird aber serialisiert.
type Embeddings struct {
	ctx *Context

	mu      sync.Mutex
	scratch []float32
}

func (c *Context) Embeddings() (*Embeddings, error) {
	if err := c.check("embeddings"); err != nil {
		return nil, err
	}

	dim, err := c.model.EmbeddingDim()
	if err != nil {
		return nil, err
	}

	return &Embeddings{ctx: c, scratch: make([]float32, dim)}, nil
}

func (e *Embeddings) Dim() int {
	return len(e.scratch)
}

// Compute berechnet das Embedding fuer text. Nicht geschriebene Stellen sind 0.
func (e *Embeddings) Compute(text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ctx.check("embeddings"); err != nil {
		return nil, err
	}

	n, err := e.ctx.engine.Embeddings(e.ctx.handle, text, e.scratch)
	if err != nil {
		return nil, err
	}
	n = min(n, len(e.scratch))

	out := make([]float32, len(e.scratch))
	copy(out, e.scratch[:n])
	return out, nil
}
