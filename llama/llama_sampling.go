// llama_sampling.go
// Sampling-Modul: Sampler-Parameter und Grammar-Cursor

package llama

import (
	"strings"
	"sync/atomic"
)

// SamplerParams ist unveraenderlich; Varianten entstehen ueber die With*-Methoden
type SamplerParams struct {
	Temperature   float32 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP          float32 `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK          int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	RepeatPenalty float32 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	Seed          int     `json:"seed" yaml:"seed" toml:"seed"`
	MaxTokens     int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Grammar       string  `json:"grammar,omitempty" yaml:"grammar,omitempty" toml:"grammar,omitempty"`
}

// DefaultSamplerParams: temp 0.8, top_p 0.95, top_k 40, repeat 1.1, seed 42, 128 Tokens
func DefaultSamplerParams() SamplerParams {
	return SamplerParams{
		Temperature:   0.8,
		TopP:          0.95,
		TopK:          40,
		RepeatPenalty: 1.1,
		Seed:          42,
		MaxTokens:     128,
	}
}

// Normalize ersetzt eine leere oder nur aus Leerzeichen bestehende Grammar durch keine
func (p SamplerParams) Normalize() SamplerParams {
	if strings.TrimSpace(p.Grammar) == "" {
		p.Grammar = ""
	}
	return p
}

func (p SamplerParams) WithSeed(seed int) SamplerParams {
	p.Seed = seed
	return p
}

func (p SamplerParams) WithGrammar(grammar string) SamplerParams {
	p.Grammar = grammar
	return p.Normalize()
}

func (p SamplerParams) WithMaxTokens(n int) SamplerParams {
	p.MaxTokens = n
	return p
}

// SamplerState haelt den Grammar-Cursor eines Streams
type SamplerState struct {
	seed     int
	position atomic.Int32
}

func NewSamplerState(params SamplerParams) *SamplerState {
	return &SamplerState{seed: params.Seed}
}

func (s *SamplerState) Seed() int {
	return s.seed
}

// Reset setzt den Cursor zurueck; einmal pro Stream
func (s *SamplerState) Reset() {
	s.position.Store(0)
}

func (s *SamplerState) NextPosition() int {
	return int(s.position.Load())
}

func (s *SamplerState) Advance(pos int) {
	s.position.Store(int32(pos))
}
