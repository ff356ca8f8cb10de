// cmd_generate.go - Text-Generierung und Embeddings
// Hauptfunktionen: GenerateHandler, EmbedHandler
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TowsifAhamed/LlamaPanama/api"
	"github.com/TowsifAhamed/LlamaPanama/envconfig"
	"github.com/TowsifAhamed/LlamaPanama/llama"
	"github.com/TowsifAhamed/LlamaPanama/runner/llamarunner"
)

// modelOptions - Gemeinsame Flags fuer Modell und Context
type modelOptions struct {
	Model   string
	NumCtx  int
	Threads int
	Remote  bool
}

func readModelOptions(cmd *cobra.Command) (modelOptions, error) {
	var opts modelOptions
	var err error
	flags := cmd.Flags()
	if opts.Model, err = flags.GetString("model"); err != nil {
		return opts, err
	}
	if opts.NumCtx, err = flags.GetInt("ctx"); err != nil {
		return opts, err
	}
	if opts.Threads, err = flags.GetInt("threads"); err != nil {
		return opts, err
	}
	if opts.Remote, err = flags.GetBool("remote"); err != nil {
		return opts, err
	}

	if !opts.Remote && opts.Model == "" {
		return opts, errors.New("--model is required")
	}
	return opts, nil
}

func loadModel(path string) (*llama.Model, error) {
	return llama.LoadModelFromFile(path, llama.ModelParams{NumGpuLayers: int(envconfig.GpuLayers())})
}

// interruptContext - Context der bei Ctrl-C endet
func interruptContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// GenerateHandler - Streamt eine Antwort fuer --prompt
func GenerateHandler(cmd *cobra.Command, _ []string) error {
	setupLogging()

	opts, err := readModelOptions(cmd)
	if err != nil {
		return err
	}

	params, err := samplerParams(cmd, llama.DefaultSamplerParams().WithMaxTokens(int(envconfig.MaxTokens())))
	if err != nil {
		return err
	}

	prompt, _ := cmd.Flags().GetString("prompt")
	noWrap, _ := cmd.Flags().GetBool("nowordwrap")
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx, cancel := interruptContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	width := terminalWidth()
	state := &displayResponseState{}
	show := func(text string) {
		displayResponse(out, text, width, !noWrap, state)
	}

	fmt.Fprintf(out, "Prompt: %s\n", prompt)
	fmt.Fprint(out, "Response: ")

	start := time.Now()
	var (
		stats  llama.InferenceStats
		reason string
	)
	if opts.Remote {
		stats, reason, err = generateRemote(ctx, prompt, params, show)
	} else {
		stats, reason, err = generateLocal(ctx, opts, prompt, params, show)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(out)
			return nil
		}
		return err
	}
	wallMs := float64(time.Since(start)) / float64(time.Millisecond)

	fmt.Fprintln(out)
	fmt.Fprintln(out, statsLine(stats))
	if verbose {
		printStatsTable(out, stats, reason, wallMs)
	}
	return nil
}

func generateLocal(ctx context.Context, opts modelOptions, prompt string, params llama.SamplerParams, show func(string)) (llama.InferenceStats, string, error) {
	model, err := loadModel(opts.Model)
	if err != nil {
		return llama.InferenceStats{}, "", err
	}
	defer model.Release()

	session, err := llamarunner.NewSession(model, params, opts.NumCtx, opts.Threads)
	if err != nil {
		return llama.InferenceStats{}, "", err
	}
	defer session.Close()

	token, stop := llamarunner.CancelOnDone(ctx)
	defer stop()

	state, err := session.Stream(prompt, llamarunner.ListenerFunc(show), token)
	if err != nil {
		return llama.InferenceStats{}, "", err
	}
	return session.LastStats(), state.String(), nil
}

func generateRemote(ctx context.Context, prompt string, params llama.SamplerParams, show func(string)) (llama.InferenceStats, string, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return llama.InferenceStats{}, "", err
	}

	req := &api.CompletionRequest{
		Prompt:  prompt,
		Grammar: params.Grammar,
		Options: &api.Options{
			Temperature:   &params.Temperature,
			TopP:          &params.TopP,
			TopK:          &params.TopK,
			RepeatPenalty: &params.RepeatPenalty,
			Seed:          &params.Seed,
			NumPredict:    &params.MaxTokens,
		},
	}

	var latest api.CompletionResponse
	err = client.Completion(ctx, req, func(resp api.CompletionResponse) error {
		latest = resp
		if resp.Content != "" {
			show(resp.Content)
		}
		return nil
	})
	if err != nil {
		return llama.InferenceStats{}, "", err
	}

	var stats llama.InferenceStats
	if m := latest.Metrics; m != nil {
		stats = llama.InferenceStats{
			FirstTokenMs:    m.FirstTokenMs,
			TokensPerSecond: m.TokensPerSecond,
			TotalMs:         m.TotalMs,
			TokensEmitted:   m.TokensEmitted,
		}
	}
	return stats, latest.DoneReason, nil
}

// EmbedHandler - Gibt das Embedding fuer --prompt aus
func EmbedHandler(cmd *cobra.Command, _ []string) error {
	setupLogging()

	opts, err := readModelOptions(cmd)
	if err != nil {
		return err
	}
	prompt, _ := cmd.Flags().GetString("prompt")

	var values []float32
	if opts.Remote {
		normalize, _ := cmd.Flags().GetBool("normalize")
		values, err = embedRemote(cmd.Context(), prompt, normalize)
	} else {
		values, err = embedLocal(opts, prompt)
	}
	if err != nil {
		return err
	}

	printEmbedding(cmd.OutOrStdout(), values)
	return nil
}

func embedLocal(opts modelOptions, prompt string) ([]float32, error) {
	model, err := loadModel(opts.Model)
	if err != nil {
		return nil, err
	}
	defer model.Release()

	lctx, err := llama.NewContextWithModel(model, llama.NewContextParams(opts.NumCtx, opts.Threads))
	if err != nil {
		return nil, err
	}
	defer lctx.Release()

	embeddings, err := lctx.Embeddings()
	if err != nil {
		return nil, err
	}
	return embeddings.Compute(prompt)
}

func embedRemote(ctx context.Context, prompt string, normalize bool) ([]float32, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, err
	}

	resp, err := client.Embedding(ctx, &api.EmbeddingRequest{Content: prompt, Normalize: normalize})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("runner returned no embeddings")
	}
	return resp.Embeddings[0], nil
}

func printEmbedding(w io.Writer, values []float32) {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.4f", v)
	}
	fmt.Fprintf(w, "Embeddings (dim=%d):\n", len(values))
	fmt.Fprintln(w, strings.Join(parts, ", "))
}
