// config_runner.go - Runner- und Sampling-Defaults
//
// Dieses Modul enthaelt:
// - Parallelitaet und Kontextgroesse des Runners
// - Thread- und GPU-Layer-Einstellungen
// - Default-Tokenlimit und Ausgabe der CLI
package envconfig

var (
	// NumParallel ist die Anzahl paralleler Slots (je ein Context)
	NumParallel = Uint("LLAMAPANAMA_NUM_PARALLEL", 1)

	// ContextLength ist die Standard-Kontextgroesse in Tokens
	ContextLength = Uint("LLAMAPANAMA_CONTEXT_LENGTH", 512)

	// NumThread setzt die Thread-Anzahl; 0 = Anzahl CPUs
	NumThread = Uint("LLAMAPANAMA_NUM_THREAD", 0)

	// GpuLayers ist die Anzahl auf die GPU ausgelagerter Layer
	GpuLayers = Uint("LLAMAPANAMA_GPU_LAYERS", 0)

	// MaxTokens ist das Default-Tokenlimit der CLI
	MaxTokens = Uint("LLAMAPANAMA_MAX_TOKENS", 32)

	// Model ist der Default-Modellpfad fuer serve
	Model = String("LLAMAPANAMA_MODEL")

	// NoWordWrap deaktiviert den Zeilenumbruch der CLI-Ausgabe
	NoWordWrap = Bool("LLAMAPANAMA_NOWORDWRAP")
)
