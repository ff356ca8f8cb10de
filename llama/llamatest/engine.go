// engine.go - Skriptbare Test-Engine fuer llama.Engine
// Zaehlt Aufrufe und Freigaben, liefert vorgegebene Token-Folgen
package llamatest

import (
	"fmt"
	"sync"
	"time"

	"github.com/TowsifAhamed/LlamaPanama/llama"
)

// Engine ist eine Fake-Engine. Samples liefert die Token-Folge; nach dem
// letzten Eintrag wird EOS gesampelt.
type Engine struct {
	mu sync.Mutex

	Samples []int32
	Pieces  map[int32][]byte
	Dim     int
	// Fail erzwingt einen *llama.NativeCallError fuer die genannte Operation
	Fail map[string]error
	// OnSample wird nach jedem Sample mit der laufenden Nummer (ab 1) aufgerufen
	OnSample func(n int)

	calls         map[string]int
	next          llama.Handle
	models        map[llama.Handle]bool
	contexts      map[llama.Handle]bool
	sampleIdx     int
	evalStart     time.Time
	firstTokenMs  float64
	tokensEmitted int
	lastRequest   llama.SampleRequest
}

func New(samples []int32, pieces map[int32]string) *Engine {
	p := make(map[int32][]byte, len(pieces))
	for k, v := range pieces {
		p[k] = []byte(v)
	}
	return &Engine{
		Samples:  samples,
		Pieces:   p,
		Dim:      4,
		calls:    make(map[string]int),
		models:   make(map[llama.Handle]bool),
		contexts: make(map[llama.Handle]bool),
	}
}

// Calls gibt zurueck, wie oft op aufgerufen wurde
func (e *Engine) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

// LastSampleRequest gibt den letzten Sample-Request zurueck
func (e *Engine) LastSampleRequest() llama.SampleRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRequest
}

func (e *Engine) record(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[op]++
	if err := e.Fail[op]; err != nil {
		return &llama.NativeCallError{Op: op, Code: 1, Message: err.Error()}
	}
	return nil
}

func (e *Engine) BackendInit() error {
	return e.record("backend_init")
}

func (e *Engine) LoadModel(path string, gpuLayers int) (llama.Handle, error) {
	if err := e.record("model_load"); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.models[e.next] = true
	return e.next, nil
}

func (e *Engine) NewContext(model llama.Handle, numCtx, threads int) (llama.Handle, error) {
	if err := e.record("context_create"); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.contexts[e.next] = true
	return e.next, nil
}

func (e *Engine) Tokenize(model llama.Handle, text string, addBOS bool, capacity int) ([]int32, error) {
	if err := e.record("tokenize"); err != nil {
		return nil, err
	}
	tokens := []int32{}
	if addBOS {
		tokens = append(tokens, 3)
	}
	for range len(text) {
		if len(tokens) >= capacity {
			break
		}
		tokens = append(tokens, 4)
	}
	return tokens, nil
}

func (e *Engine) Eval(ctx llama.Handle, tokens []int32) error {
	if err := e.record("eval"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sampleIdx = 0
	e.tokensEmitted = 0
	e.firstTokenMs = 0
	e.evalStart = time.Now()
	return nil
}

func (e *Engine) Sample(ctx llama.Handle, req llama.SampleRequest) (llama.SampleResult, error) {
	if err := e.record("sample"); err != nil {
		return llama.SampleResult{}, err
	}

	e.mu.Lock()
	e.lastRequest = req
	token := llama.TokenEOS
	if e.sampleIdx < len(e.Samples) {
		token = e.Samples[e.sampleIdx]
	}
	e.sampleIdx++
	n := e.sampleIdx
	if e.tokensEmitted == 0 {
		e.firstTokenMs = float64(time.Since(e.evalStart)) / float64(time.Millisecond)
	}
	if token != llama.TokenEOS {
		e.tokensEmitted++
	}
	hook := e.OnSample
	e.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return llama.SampleResult{Token: token, Position: req.Position + 1}, nil
}

func (e *Engine) TokenToPiece(model llama.Handle, token int32, capacity int) ([]byte, error) {
	if err := e.record("token_to_piece"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	piece, ok := e.Pieces[token]
	if !ok {
		return nil, fmt.Errorf("no piece for token %d", token)
	}
	return piece, nil
}

func (e *Engine) EmbeddingDim(model llama.Handle) (int, error) {
	if err := e.record("embeddings_dim"); err != nil {
		return 0, err
	}
	return e.Dim, nil
}

func (e *Engine) Embeddings(ctx llama.Handle, text string, out []float32) (int, error) {
	if err := e.record("embeddings"); err != nil {
		return 0, err
	}
	for i := range out {
		out[i] = float32(len(text) + i)
	}
	return len(out), nil
}

func (e *Engine) Stats(ctx llama.Handle) (llama.InferenceStats, error) {
	if err := e.record("stats"); err != nil {
		return llama.InferenceStats{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	total := float64(time.Since(e.evalStart)) / float64(time.Millisecond)
	stats := llama.InferenceStats{
		FirstTokenMs:  e.firstTokenMs,
		TotalMs:       total,
		TokensEmitted: e.tokensEmitted,
	}
	if total > 0 {
		stats.TokensPerSecond = float64(e.tokensEmitted) / (total / 1000)
	}
	return stats, nil
}

func (e *Engine) FreeModel(model llama.Handle) error {
	e.record("free_model")
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.models[model] {
		return fmt.Errorf("model %d freed twice", model)
	}
	delete(e.models, model)
	return nil
}

func (e *Engine) FreeContext(ctx llama.Handle) error {
	e.record("free_context")
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.contexts[ctx] {
		return fmt.Errorf("context %d freed twice", ctx)
	}
	delete(e.contexts, ctx)
	return nil
}
