//go:build native

// llama_native.go
// Native Engine: CGo-Bindings gegen die llamapanama Shim-Bibliothek
// Fehler werden ueber err-Out-Parameter und lp_last_error() gemeldet

package llama

/*
#cgo CFLAGS: -std=c11
#cgo LDFLAGS: -lllamapanama

#include <stdlib.h>
#include "llamapanama.h"
*/
import "C"

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/TowsifAhamed/LlamaPanama/logutil"
)

func newDefaultEngine() Engine {
	return newNativeEngine()
}

type nativeEngine struct {
	initOnce sync.Once
	initErr  error

	mu       sync.RWMutex
	next     Handle
	models   map[Handle]*C.lp_model
	contexts map[Handle]*C.lp_context
}

func newNativeEngine() *nativeEngine {
	return &nativeEngine{
		models:   make(map[Handle]*C.lp_model),
		contexts: make(map[Handle]*C.lp_context),
	}
}

// arena sammelt C-Allokationen eines einzelnen Aufrufs; free gibt alle frei
type arena struct {
	ptrs []unsafe.Pointer
}

func (a *arena) cstring(s string) *C.char {
	p := C.CString(s)
	a.ptrs = append(a.ptrs, unsafe.Pointer(p))
	return p
}

func (a *arena) alloc(n int, size uintptr) unsafe.Pointer {
	p := C.calloc(C.size_t(n), C.size_t(size))
	a.ptrs = append(a.ptrs, p)
	return p
}

func (a *arena) free() {
	for _, p := range a.ptrs {
		C.free(p)
	}
	a.ptrs = nil
}

// call fuehrt fn auf einem festen OS-Thread aus, da lp_last_error thread-lokal ist
func call(op string, fn func(errOut *C.int)) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var code C.int
	fn(&code)
	if code != 0 {
		return &NativeCallError{Op: op, Code: int(code), Message: C.GoString(C.lp_last_error())}
	}

	logutil.Trace("native call", "op", op)
	return nil
}

func (e *nativeEngine) model(op string, h Handle) (*C.lp_model, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.models[h]
	if !ok {
		return nil, &NativeCallError{Op: op, Code: -1, Message: "unknown model handle"}
	}
	return m, nil
}

func (e *nativeEngine) context(op string, h Handle) (*C.lp_context, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.contexts[h]
	if !ok {
		return nil, &NativeCallError{Op: op, Code: -1, Message: "unknown context handle"}
	}
	return c, nil
}

func (e *nativeEngine) BackendInit() error {
	e.initOnce.Do(func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if rc := C.lp_backend_init(); rc != 0 {
			e.initErr = &NativeCallError{Op: "backend_init", Code: int(rc), Message: C.GoString(C.lp_last_error())}
		}
	})
	return e.initErr
}

func (e *nativeEngine) LoadModel(path string, gpuLayers int) (Handle, error) {
	var a arena
	defer a.free()

	var m *C.lp_model
	cpath := a.cstring(path)
	err := call("model_load", func(errOut *C.int) {
		m = C.lp_model_load(cpath, C.int(gpuLayers), errOut)
	})
	if err != nil {
		return 0, err
	}
	if m == nil {
		return 0, &NativeCallError{Op: "model_load", Code: -1, Message: "null model handle"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.models[e.next] = m
	return e.next, nil
}

func (e *nativeEngine) NewContext(model Handle, numCtx, threads int) (Handle, error) {
	m, err := e.model("context_create", model)
	if err != nil {
		return 0, err
	}

	var c *C.lp_context
	err = call("context_create", func(errOut *C.int) {
		c = C.lp_context_create(m, C.int(numCtx), C.int(threads), errOut)
	})
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, &NativeCallError{Op: "context_create", Code: -1, Message: "null context handle"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.contexts[e.next] = c
	return e.next, nil
}

func (e *nativeEngine) Tokenize(model Handle, text string, addBOS bool, capacity int) ([]int32, error) {
	m, err := e.model("tokenize", model)
	if err != nil {
		return nil, err
	}

	var a arena
	defer a.free()

	ctext := a.cstring(text)
	out := (*C.int)(a.alloc(capacity, unsafe.Sizeof(C.int(0))))
	bos := C.int(0)
	if addBOS {
		bos = 1
	}

	var n C.int
	err = call("tokenize", func(errOut *C.int) {
		n = C.lp_tokenize(m, ctext, bos, out, C.int(capacity), errOut)
	})
	if err != nil {
		return nil, err
	}

	tokens := make([]int32, int(n))
	for i, t := range unsafe.Slice(out, int(n)) {
		tokens[i] = int32(t)
	}
	return tokens, nil
}

func (e *nativeEngine) Eval(ctx Handle, tokens []int32) error {
	c, err := e.context("eval", ctx)
	if err != nil {
		return err
	}

	var a arena
	defer a.free()

	n := len(tokens)
	in := (*C.int)(a.alloc(max(n, 1), unsafe.Sizeof(C.int(0))))
	for i, t := range tokens {
		unsafe.Slice(in, n)[i] = C.int(t)
	}

	return call("eval", func(errOut *C.int) {
		C.lp_eval(c, in, C.int(n), errOut)
	})
}

func (e *nativeEngine) Sample(ctx Handle, req SampleRequest) (SampleResult, error) {
	c, err := e.context("sample", ctx)
	if err != nil {
		return SampleResult{}, err
	}

	var a arena
	defer a.free()

	var grammar *C.char
	if req.Grammar != "" {
		grammar = a.cstring(req.Grammar)
	}
	pos := C.int(req.Position)

	var token C.int
	err = call("sample", func(errOut *C.int) {
		token = C.lp_sample_ex(c,
			C.float(req.Temperature), C.float(req.TopP), C.int(req.TopK),
			C.float(req.RepeatPenalty), C.int(req.Seed),
			grammar, &pos, errOut)
	})
	if err != nil {
		return SampleResult{}, err
	}
	return SampleResult{Token: int32(token), Position: int(pos)}, nil
}

func (e *nativeEngine) TokenToPiece(model Handle, token int32, capacity int) ([]byte, error) {
	m, err := e.model("token_to_piece", model)
	if err != nil {
		return nil, err
	}

	var a arena
	defer a.free()

	buf := (*C.char)(a.alloc(capacity, 1))
	err = call("token_to_piece", func(errOut *C.int) {
		C.lp_token_to_piece(m, C.int(token), buf, C.int(capacity), errOut)
	})
	if err != nil {
		return nil, err
	}

	// der Shim terminiert mit NUL
	return []byte(C.GoString(buf)), nil
}

func (e *nativeEngine) EmbeddingDim(model Handle) (int, error) {
	m, err := e.model("embeddings_dim", model)
	if err != nil {
		return 0, err
	}

	var dim C.int
	err = call("embeddings_dim", func(errOut *C.int) {
		dim = C.lp_embeddings_dim(m, errOut)
	})
	return int(dim), err
}

func (e *nativeEngine) Embeddings(ctx Handle, text string, out []float32) (int, error) {
	c, err := e.context("embeddings", ctx)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, &NativeCallError{Op: "embeddings", Code: -1, Message: "empty output buffer"}
	}

	var a arena
	defer a.free()

	ctext := a.cstring(text)
	var n C.int
	err = call("embeddings", func(errOut *C.int) {
		n = C.lp_get_embeddings(c, ctext, (*C.float)(unsafe.Pointer(&out[0])), C.int(len(out)), errOut)
	})
	return int(n), err
}

func (e *nativeEngine) Stats(ctx Handle) (InferenceStats, error) {
	c, err := e.context("stats", ctx)
	if err != nil {
		return InferenceStats{}, err
	}

	var out C.lp_inference_stats
	err = call("stats", func(errOut *C.int) {
		C.lp_get_last_stats(c, &out, errOut)
	})
	if err != nil {
		return InferenceStats{}, err
	}

	return InferenceStats{
		FirstTokenMs:    float64(out.first_token_ms),
		TokensPerSecond: float64(out.tokens_per_sec),
		TotalMs:         float64(out.total_ms),
		TokensEmitted:   int(out.tokens_emitted),
	}, nil
}

func (e *nativeEngine) FreeModel(model Handle) error {
	e.mu.Lock()
	m, ok := e.models[model]
	delete(e.models, model)
	e.mu.Unlock()

	if !ok {
		return &NativeCallError{Op: "free_model", Code: -1, Message: "unknown model handle"}
	}
	C.lp_free_model(m)
	return nil
}

func (e *nativeEngine) FreeContext(ctx Handle) error {
	e.mu.Lock()
	c, ok := e.contexts[ctx]
	delete(e.contexts, ctx)
	e.mu.Unlock()

	if !ok {
		return &NativeCallError{Op: "free_context", Code: -1, Message: "unknown context handle"}
	}
	C.lp_free_context(c)
	return nil
}
