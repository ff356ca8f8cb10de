// llama_model.go
// Model-Modul: Model-Handle, Tokenization und Token-Pieces

package llama

import (
	"log/slog"
	"runtime"
	"sync/atomic"
)

// Model besitzt genau ein natives Model-Handle
type Model struct {
	engine   Engine
	handle   Handle
	path     string
	released atomic.Bool
}

func (m *Model) Path() string {
	return m.path
}

// Released meldet, ob das Handle bereits freigegeben wurde
func (m *Model) Released() bool {
	return m.released.Load()
}

// Release gibt das native Handle genau einmal frei. Weitere Aufrufe sind No-Ops.
// Contexts dieses Models muessen vorher freigegeben werden.
func (m *Model) Release() {
	if !m.released.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(m, nil)

	if err := m.engine.FreeModel(m.handle); err != nil {
		slog.Warn("failed to free model", "path", m.path, "error", err)
	}
}

// Tokenize zerlegt text in Token-IDs; capacity begrenzt die Anzahl
func (m *Model) Tokenize(text string, addBOS bool, capacity int) ([]int32, error) {
	if m.released.Load() {
		return nil, closedError("tokenize", "model")
	}
	return m.engine.Tokenize(m.handle, text, addBOS, capacity)
}

// TokenToPiece gibt die rohen Bytes eines Tokens zurueck.
// Die Bytes muessen nicht auf Zeichengrenzen enden.
func (m *Model) TokenToPiece(token int32) ([]byte, error) {
	if m.released.Load() {
		return nil, closedError("token_to_piece", "model")
	}
	return m.engine.TokenToPiece(m.handle, token, pieceBufferBytes)
}

func (m *Model) EmbeddingDim() (int, error) {
	if m.released.Load() {
		return 0, closedError("embeddings_dim", "model")
	}
	return m.engine.EmbeddingDim(m.handle)
}
