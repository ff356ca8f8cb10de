// Package llamarunner - LLM Runner Server
//
// Dieses Modul definiert die Kerntypen für den HTTP-Runner:
// - ServerParams: Parallelitaet, Kontextgroesse, Sampling-Defaults
// - slot: Ein Context (als Session) pro parallelem Request
// - Server: HTTP-Server für Streaming-Inferenz und Embeddings
package llamarunner

import (
	"net"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/semaphore"

	"github.com/TowsifAhamed/LlamaPanama/llama"
)

type ServerParams struct {
	// Parallel ist die Anzahl Slots; jeder Slot besitzt einen eigenen Context
	Parallel int
	NumCtx   int
	Threads  int

	// Defaults gelten fuer alle Requests ohne eigene Optionen
	Defaults llama.SamplerParams

	// EmbedCacheTTL 0 = kein Embedding-Cache
	EmbedCacheTTL time.Duration
}

// slot ist ein paralleler Ausfuehrungsplatz mit eigener Session
type slot struct {
	id      int
	session *Session
	busy    bool
}

// Server teilt ein Model auf mehrere Slots auf
type Server struct {
	addr   net.Addr
	model  *llama.Model
	params ServerParams

	// mu schuetzt slots
	mu    sync.Mutex
	slots []*slot

	// seqsSem begrenzt die gleichzeitig laufenden Requests auf die Anzahl Slots
	seqsSem *semaphore.Weighted

	cache   *ttlcache.Cache[string, []float32]
	metrics *metrics
}
