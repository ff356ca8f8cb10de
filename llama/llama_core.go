// llama_core.go
// Kern-Modul: Engine-Schnittstelle, Backend-Initialisierung und Model-Laden
// Alle nativen Aufrufe laufen ueber Engine; Handles sind opake Werte

package llama

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
)

// Handle identifiziert eine Ressource auf der nativen Seite (Model oder Context)
type Handle uint64

// TokenEOS ist das End-of-Sequence Token der Engine
const TokenEOS int32 = 0

const (
	// pieceBufferBytes ist die Kapazitaet fuer ein einzelnes Token-Piece
	pieceBufferBytes = 512
)

// SampleRequest beschreibt einen einzelnen Sample-Aufruf
type SampleRequest struct {
	Temperature   float32
	TopP          float32
	TopK          int
	RepeatPenalty float32
	Seed          int
	// Grammar leer = ungebundenes Sampling ohne Cursor
	Grammar  string
	Position int
}

// SampleResult enthaelt das gesampelte Token und den neuen Grammar-Cursor
type SampleResult struct {
	Token    int32
	Position int
}

// InferenceStats ist ein unveraenderlicher Snapshot eines Generierungslaufs
type InferenceStats struct {
	FirstTokenMs    float64 `json:"first_token_ms"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	TotalMs         float64 `json:"total_ms"`
	TokensEmitted   int     `json:"tokens_emitted"`
}

// Engine ist die Grenze zur nativen Inferenz-Engine.
//
// Jeder fehlbare Aufruf meldet Fehler als *NativeCallError. Free-Aufrufe sind
// best effort; ein zurueckgegebener Fehler wird nur geloggt.
type Engine interface {
	BackendInit() error
	LoadModel(path string, gpuLayers int) (Handle, error)
	NewContext(model Handle, numCtx, threads int) (Handle, error)
	Tokenize(model Handle, text string, addBOS bool, capacity int) ([]int32, error)
	Eval(ctx Handle, tokens []int32) error
	Sample(ctx Handle, req SampleRequest) (SampleResult, error)
	TokenToPiece(model Handle, token int32, capacity int) ([]byte, error)
	EmbeddingDim(model Handle) (int, error)
	Embeddings(ctx Handle, text string, out []float32) (int, error)
	Stats(ctx Handle) (InferenceStats, error)
	FreeModel(model Handle) error
	FreeContext(ctx Handle) error
}

var (
	engineMu      sync.RWMutex
	defaultEngine Engine
)

// DefaultEngine gibt die prozessweite Engine zurueck.
// Ohne Build-Tag "native" ist das die deterministische Referenz-Engine.
func DefaultEngine() Engine {
	engineMu.RLock()
	e := defaultEngine
	engineMu.RUnlock()
	if e != nil {
		return e
	}

	engineMu.Lock()
	defer engineMu.Unlock()
	if defaultEngine == nil {
		defaultEngine = newDefaultEngine()
	}
	return defaultEngine
}

// SetDefaultEngine ersetzt die prozessweite Engine (z.B. in Tests)
func SetDefaultEngine(e Engine) {
	engineMu.Lock()
	defer engineMu.Unlock()
	defaultEngine = e
}

// BackendInit initialisiert das Backend der Standard-Engine
func BackendInit() error {
	if err := DefaultEngine().BackendInit(); err != nil {
		return &LoadError{Err: err}
	}
	return nil
}

type ModelParams struct {
	NumGpuLayers int
	// Engine nil = DefaultEngine()
	Engine Engine
}

// LoadModelFromFile laedt ein Model. Fehler bei Backend-Init oder Laden
// werden als *LoadError gemeldet.
func LoadModelFromFile(modelPath string, params ModelParams) (*Model, error) {
	if modelPath == "" {
		return nil, &LoadError{Path: modelPath, Err: errors.New("empty model path")}
	}

	e := params.Engine
	if e == nil {
		e = DefaultEngine()
	}

	if err := e.BackendInit(); err != nil {
		return nil, &LoadError{Path: modelPath, Err: err}
	}

	h, err := e.LoadModel(modelPath, params.NumGpuLayers)
	if err != nil {
		return nil, &LoadError{Path: modelPath, Err: err}
	}

	m := &Model{engine: e, handle: h, path: modelPath}
	runtime.SetFinalizer(m, func(m *Model) {
		slog.Debug("releasing leaked model", "path", m.path)
		m.Release()
	})

	slog.Debug("model loaded", "path", modelPath, "gpu_layers", params.NumGpuLayers)
	return m, nil
}
