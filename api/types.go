// types.go - API-Typen fuer den llamapanama Runner
// Enthaelt: StatusError, Options, CompletionRequest/-Response, EmbeddingRequest/-Response, HealthResponse
package api

import (
	"fmt"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the llamapanama server logs for details"
	}
}

// Options ueberschreibt einzelne Sampler-Parameter. Nicht gesetzte Felder
// behalten die Defaults des Runners.
type Options struct {
	Temperature   *float32 `json:"temperature,omitempty"`
	TopP          *float32 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	RepeatPenalty *float32 `json:"repeat_penalty,omitempty"`
	Seed          *int     `json:"seed,omitempty"`
	NumPredict    *int     `json:"num_predict,omitempty"`
}

// CompletionRequest is the request passed to [Client.Completion].
type CompletionRequest struct {
	// Prompt is the textual prompt to send to the model.
	Prompt string `json:"prompt"`

	// Grammar constrains sampling; blank means unconstrained.
	Grammar string `json:"grammar,omitempty"`

	// Options lists sampler overrides for this request.
	Options *Options `json:"options,omitempty"`
}

// Metrics enthaelt die Statistiken eines abgeschlossenen Streams
type Metrics struct {
	FirstTokenMs    float64 `json:"first_token_ms"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	TotalMs         float64 `json:"total_ms"`
	TokensEmitted   int     `json:"tokens_emitted"`
	WallMs          float64 `json:"wall_ms"`
}

// CompletionResponse is one NDJSON line of a completion stream. The final
// line has Done set and carries the stop reason and metrics.
type CompletionResponse struct {
	RequestID  string   `json:"request_id,omitempty"`
	Content    string   `json:"content"`
	Done       bool     `json:"done"`
	DoneReason string   `json:"done_reason,omitempty"`
	Metrics    *Metrics `json:"metrics,omitempty"`
}

// CompletionResponseFunc is a function that [Client.Completion] invokes every
// time a response is received from the service. If this function returns an
// error, [Client.Completion] will stop generating and return this error.
type CompletionResponseFunc func(CompletionResponse) error

// EmbeddingRequest accepts either a single Content string or a list of Input strings.
type EmbeddingRequest struct {
	Content   string   `json:"content,omitempty"`
	Input     []string `json:"input,omitempty"`
	Normalize bool     `json:"normalize,omitempty"`
}

// EmbeddingResponse haelt ein Embedding pro Eingabe in Eingabe-Reihenfolge
type EmbeddingResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dim        int         `json:"dim"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Slots  int    `json:"slots"`
	Busy   int    `json:"busy"`
}
